package workspace

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"

	"github.com/OpenTraceLab/OpenTraceEDB/pkg/design/kicad"
	"github.com/OpenTraceLab/OpenTraceEDB/pkg/faults"
	"github.com/OpenTraceLab/OpenTraceEDB/pkg/index"
	"github.com/OpenTraceLab/OpenTraceEDB/pkg/ports"
)

// demoZip returns the demo board packed under a "demo/" folder.
func demoZip(t *testing.T) []byte {
	t.Helper()
	board, err := os.ReadFile(filepath.Join("..", "design", "kicad", "testdata", "demo", "demo.kicad_pcb"))
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("demo/demo.kicad_pcb")
	w.Write(board)
	w, _ = zw.Create("readme.txt")
	w.Write([]byte("demo upload"))
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	root := t.TempDir()
	m, err := New(root, kicad.NewEngine(), index.NewFileStore(root), opts...)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func upload(t *testing.T, m *Manager) *Session {
	t.Helper()
	sess, _, err := m.CreateSession(context.Background(), "Demo Board.zip", bytes.NewReader(demoZip(t)))
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return sess
}

func TestCreateSession(t *testing.T) {
	m := newManager(t)
	sess, snap, err := m.CreateSession(context.Background(), "Demo Board.zip", bytes.NewReader(demoZip(t)))
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if sess.DesignPath != "upload/demo" || sess.Engine != "kicad" {
		t.Errorf("session = %+v", sess)
	}
	if sess.OriginalFilename != "Demo_Board.zip" {
		t.Errorf("original filename = %q", sess.OriginalFilename)
	}
	if !snap.HasComponent("U1") || !snap.HasNet("GND") {
		t.Error("snapshot misses demo contents")
	}

	again, err := m.Session(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.Design() != sess.Design() {
		t.Errorf("reloaded design = %s, want %s", again.Design(), sess.Design())
	}
	if _, err := os.Stat(filepath.Join(sess.Dir(), index.IndexFile)); err != nil {
		t.Errorf("index not persisted: %v", err)
	}

	got, err := m.CommonComponents(sess.ID, []string{"GND", "CLK"})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"U1"}) {
		t.Errorf("common components = %v", got)
	}
}

func TestCreateSessionFailures(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	if _, _, err := m.CreateSession(ctx, "board.rar", bytes.NewReader(nil)); !errors.Is(err, faults.ErrValidation) {
		t.Errorf("wrong extension err = %v", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("../escape.txt")
	w.Write([]byte("x"))
	zw.Close()
	if _, _, err := m.CreateSession(ctx, "evil.zip", bytes.NewReader(buf.Bytes())); !errors.Is(err, faults.ErrSecurity) {
		t.Errorf("zip slip err = %v", err)
	}

	buf.Reset()
	zw = zip.NewWriter(&buf)
	w, _ = zw.Create("notes/readme.txt")
	w.Write([]byte("x"))
	zw.Close()
	if _, _, err := m.CreateSession(ctx, "empty.zip", bytes.NewReader(buf.Bytes())); !errors.Is(err, faults.ErrNotFound) {
		t.Errorf("no design err = %v", err)
	}

	entries, _ := os.ReadDir(m.Root())
	if len(entries) != 0 {
		t.Errorf("failed uploads left %d entries behind", len(entries))
	}
}

func TestSessionNotFound(t *testing.T) {
	m := newManager(t)
	for _, id := range []string{"", "..", "../etc", "not-a-uuid", "6f1c1e0a-3c55-4b6e-9a51-2f0d5c7b9e11"} {
		if _, err := m.Session(id); !errors.Is(err, faults.ErrNotFound) {
			t.Errorf("Session(%q) err = %v", id, err)
		}
		if _, err := m.Snapshot(id); !errors.Is(err, faults.ErrNotFound) {
			t.Errorf("Snapshot(%q) err = %v", id, err)
		}
	}
}

func TestResolve(t *testing.T) {
	m := newManager(t)
	sess := upload(t, m)

	res, err := m.Resolve(context.Background(), sess.ID, []ports.Spec{
		{Name: "P1", Pos: "(U1, CLK)", Neg: "(U1, GND)"},
		{Name: "P2", Pos: "(R1, CLK)", Neg: "(U1, GND)"},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.DownloadName != "demo.zip" {
		t.Errorf("download name = %q", res.DownloadName)
	}
	if res.Terminals != 3 {
		t.Errorf("terminals = %d, want 3", res.Terminals)
	}
	if res.Ports[1].Reference != res.Ports[0].Reference {
		t.Error("shared reference must reuse one terminal")
	}
	if !strings.HasPrefix(filepath.Base(res.WorkCopy), "work_copy_") {
		t.Errorf("work copy = %s", res.WorkCopy)
	}

	zr, err := zip.OpenReader(res.Archive)
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	if !reflect.DeepEqual(names, []string{"demo.kicad_pcb", kicad.PortsFile}) {
		t.Errorf("archive entries = %v", names)
	}

	// The uploaded design is never written to.
	if _, err := os.Stat(filepath.Join(sess.Design(), kicad.PortsFile)); !os.IsNotExist(err) {
		t.Error("resolve modified the uploaded design")
	}

	// A second run gets its own work copy and archive.
	res2, err := m.Resolve(context.Background(), sess.ID, []ports.Spec{{Name: "P1", Pos: "(U1,CLK)", Neg: "(U1,GND)"}})
	if err != nil {
		t.Fatal(err)
	}
	if res2.WorkCopy == res.WorkCopy || res2.Archive == res.Archive {
		t.Error("runs must not share a work copy")
	}
}

func TestResolveValidationTouchesNothing(t *testing.T) {
	m := newManager(t)
	sess := upload(t, m)

	_, err := m.Resolve(context.Background(), sess.ID, []ports.Spec{
		{Name: "P1", Pos: "(U1,CLK)", Neg: "(U1,GND)"},
		{Name: "P2", Pos: "(U2,CLK)", Neg: "(U2,GND)"},
	})
	if !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
	if pos, _ := faults.PositionOf(err); pos != 1 {
		t.Errorf("position = %d, want 1", pos)
	}
	matches, _ := filepath.Glob(filepath.Join(sess.Dir(), "work_copy_*"))
	if len(matches) != 0 {
		t.Errorf("work copies created: %v", matches)
	}
}

func TestResolveKeepsWorkCopyOnFailure(t *testing.T) {
	m := newManager(t, WithResolverOptions(ports.WithStrictImpedance(true)))
	sess := upload(t, m)

	z75 := 75.0
	_, err := m.Resolve(context.Background(), sess.ID, []ports.Spec{
		{Name: "P1", Pos: "(U1,CLK)", Neg: "(U1,GND)"},
		{Name: "P2", Pos: "(R1,CLK)", Neg: "(U1,GND)", Impedance: &z75},
	})
	var runErr *RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("err = %v, want *RunError", err)
	}
	if !errors.Is(err, faults.ErrConflict) {
		t.Errorf("kind = %q", faults.KindOf(err))
	}
	if pos, _ := faults.PositionOf(err); pos != 1 {
		t.Errorf("position = %d, want 1", pos)
	}
	if _, err := os.Stat(runErr.WorkCopy); err != nil {
		t.Errorf("work copy not retained: %v", err)
	}
	if _, err := os.Stat(filepath.Join(runErr.WorkCopy, kicad.LockFile)); !os.IsNotExist(err) {
		t.Error("work copy lock not released")
	}
}

func TestResolveWaitsForSlot(t *testing.T) {
	m := newManager(t, WithMaxRuns(1))
	sess := upload(t, m)

	if err := m.runs.Acquire(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	defer m.runs.Release(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Resolve(ctx, sess.ID, []ports.Spec{{Name: "P1", Pos: "(U1,CLK)", Neg: "(U1,GND)"}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestSessionsAndRemove(t *testing.T) {
	m := newManager(t)
	a := upload(t, m)
	b := upload(t, m)

	list, err := m.Sessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("sessions = %d, want 2", len(list))
	}

	if err := m.Remove(a.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Snapshot(a.ID); !errors.Is(err, faults.ErrNotFound) {
		t.Errorf("removed snapshot err = %v", err)
	}
	if err := m.Remove(a.ID); !errors.Is(err, faults.ErrNotFound) {
		t.Errorf("second remove err = %v", err)
	}
	list, _ = m.Sessions()
	if len(list) != 1 || list[0].ID != b.ID {
		t.Errorf("sessions after remove = %v", list)
	}
}

func TestNewPrunesOrphanedIndex(t *testing.T) {
	store, err := index.OpenBadgerStore(index.BadgerConfig{InMemory: true})
	if err != nil {
		t.Fatalf("OpenBadgerStore: %v", err)
	}
	defer store.Close()

	root := t.TempDir()
	m, err := New(root, kicad.NewEngine(), store)
	if err != nil {
		t.Fatal(err)
	}
	live := upload(t, m)
	gone := upload(t, m)
	if err := os.RemoveAll(gone.Dir()); err != nil {
		t.Fatal(err)
	}

	if _, err := New(root, kicad.NewEngine(), store); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	ids, err := store.IDs()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(ids, []string{live.ID}) {
		t.Errorf("index ids = %v, want [%s]", ids, live.ID)
	}
}

func TestSafeFilename(t *testing.T) {
	tests := map[string]string{
		"board.zip":            "board.zip",
		"My Board (v2).zip":    "My_Board_v2_.zip",
		"../../etc/passwd.zip": "passwd.zip",
		`C:\tmp\x.zip`:         "x.zip",
		"..zip":                "upload.zip",
		".zip":                 "upload.zip",
	}
	for in, want := range tests {
		if got := safeFilename(in); got != want {
			t.Errorf("safeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
