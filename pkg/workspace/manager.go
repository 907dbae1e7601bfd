// Package workspace manages upload sessions and port-resolution runs.
//
// Each upload gets its own directory under the workspace root holding the
// uploaded archive, the extracted design, a session record and the index
// snapshot. Every run copies the design to a fresh work copy, so two runs
// never open the same path for writing.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/OpenTraceLab/OpenTraceEDB/pkg/archive"
	"github.com/OpenTraceLab/OpenTraceEDB/pkg/design"
	"github.com/OpenTraceLab/OpenTraceEDB/pkg/faults"
	"github.com/OpenTraceLab/OpenTraceEDB/pkg/index"
	"github.com/OpenTraceLab/OpenTraceEDB/pkg/ports"
)

// DefaultMaxRuns bounds concurrent runs when no option sets it.
const DefaultMaxRuns = 4

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithLimits bounds what uploads may extract to.
func WithLimits(l archive.Limits) Option {
	return func(m *Manager) { m.limits = l }
}

// WithMaxRuns bounds the number of runs executing at once.
func WithMaxRuns(n int64) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxRuns = n
		}
	}
}

// WithResolverOptions passes options to every run's resolver.
func WithResolverOptions(opts ...ports.Option) Option {
	return func(m *Manager) { m.resolverOpts = append(m.resolverOpts, opts...) }
}

// Manager owns the workspace root.
type Manager struct {
	root         string
	engine       design.Engine
	store        index.Store
	logger       *slog.Logger
	limits       archive.Limits
	maxRuns      int64
	runs         *semaphore.Weighted
	resolverOpts []ports.Option
}

// New creates the workspace root if needed.
func New(root string, engine design.Engine, store index.Store, opts ...Option) (*Manager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: create root: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}
	m := &Manager{
		root:    abs,
		engine:  engine,
		store:   store,
		logger:  slog.Default(),
		maxRuns: DefaultMaxRuns,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.runs = semaphore.NewWeighted(m.maxRuns)
	if err := m.pruneIndex(); err != nil {
		return nil, err
	}
	return m, nil
}

// idLister is implemented by stores that outlive the workspace root, such
// as index.BadgerStore.
type idLister interface {
	IDs() ([]string, error)
}

// pruneIndex drops stored snapshots whose session directory is gone, so a
// persistent index never answers for a session the workspace cannot serve.
func (m *Manager) pruneIndex() error {
	l, ok := m.store.(idLister)
	if !ok {
		return nil
	}
	ids, err := l.IDs()
	if err != nil {
		return err
	}
	var pruned int
	for _, id := range ids {
		if validSessionID(id) {
			if _, err := os.Stat(filepath.Join(m.root, id, SessionFile)); err == nil {
				continue
			}
		}
		if err := m.store.Delete(id); err != nil {
			return err
		}
		pruned++
	}
	if pruned > 0 {
		m.logger.Info("pruned orphaned index entries", "count", pruned, "kept", len(ids)-pruned)
	}
	return nil
}

// Root returns the absolute workspace root.
func (m *Manager) Root() string { return m.root }

// CreateSession stores an uploaded zip, extracts it, locates the design and
// indexes it. Nothing is left behind on failure.
func (m *Manager) CreateSession(ctx context.Context, filename string, body io.Reader) (sess *Session, snap *index.Snapshot, err error) {
	if !strings.EqualFold(filepath.Ext(filename), ".zip") {
		return nil, nil, faults.Validationf("invalid file type %q: upload a .zip file containing a design", filename)
	}

	id := uuid.NewString()
	dir := filepath.Join(m.root, id)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("workspace: create session: %w", err)
	}
	logger := m.logger.With("session_id", id)
	defer func() {
		if err != nil {
			logger.Warn("upload failed", "error", err)
			os.RemoveAll(dir)
			m.store.Delete(id)
		}
	}()

	zipName := safeFilename(filename)
	zipPath := filepath.Join(dir, zipName)
	if err := saveUpload(zipPath, body); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	extracted := filepath.Join(dir, uploadDir)
	if err := archive.Extract(zipPath, extracted, m.limits); err != nil {
		return nil, nil, err
	}
	designDir, err := archive.FindDir(extracted, m.engine.IsDesign)
	if err != nil {
		return nil, nil, err
	}

	snap, err = m.index(designDir)
	if err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	rel, err := filepath.Rel(dir, designDir)
	if err != nil {
		return nil, nil, fmt.Errorf("workspace: %w", err)
	}
	sess = &Session{
		ID:               id,
		DesignPath:       filepath.ToSlash(rel),
		OriginalFilename: zipName,
		Engine:           m.engine.Name(),
		CreatedAt:        time.Now().UTC(),
		dir:              dir,
	}
	if err := writeSession(sess); err != nil {
		return nil, nil, err
	}
	if err := m.store.Put(id, snap); err != nil {
		return nil, nil, err
	}

	st := snap.Stats()
	logger.Info("session created", "design", sess.DesignPath, "components", st.Components, "nets", st.Nets, "pins", st.Pins)
	return sess, snap, nil
}

func saveUpload(path string, body io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("workspace: save upload: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return faults.Wrap(faults.KindValidation, err, "workspace: read upload")
	}
	return f.Close()
}

// index opens dir read-only and extracts its snapshot.
func (m *Manager) index(dir string) (*index.Snapshot, error) {
	r, err := m.engine.OpenReadOnly(dir)
	if err != nil {
		return nil, faults.Wrap(faults.KindEngine, err, "workspace: open design")
	}
	defer r.Close()
	return index.Extract(r)
}

// Session loads a session record. Malformed and unknown ids are not found.
func (m *Manager) Session(id string) (*Session, error) {
	dir, err := m.sessionDir(id)
	if err != nil {
		return nil, err
	}
	return readSession(dir, id)
}

// Snapshot returns the index snapshot of a session.
func (m *Manager) Snapshot(id string) (*index.Snapshot, error) {
	if !validSessionID(id) {
		return nil, faults.NotFoundf("session %q not found", id)
	}
	return m.store.Get(id)
}

// CommonComponents answers a net query against a session's snapshot.
func (m *Manager) CommonComponents(id string, nets []string) ([]string, error) {
	snap, err := m.Snapshot(id)
	if err != nil {
		return nil, err
	}
	return index.CommonComponents(snap, nets)
}

// Sessions lists the sessions under the root, oldest first. Directories
// without a readable record are skipped.
func (m *Manager) Sessions() ([]*Session, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, fmt.Errorf("workspace: list sessions: %w", err)
	}
	var out []*Session
	for _, e := range entries {
		if !e.IsDir() || !validSessionID(e.Name()) {
			continue
		}
		s, err := readSession(filepath.Join(m.root, e.Name()), e.Name())
		if err != nil {
			m.logger.Debug("skipping session", "session_id", e.Name(), "error", err)
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Remove deletes a session directory and its snapshot.
func (m *Manager) Remove(id string) error {
	dir, err := m.sessionDir(id)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return faults.NotFoundf("session %q not found", id)
	}
	if err := m.store.Delete(id); err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("workspace: remove session %s: %w", id, err)
	}
	m.logger.Info("session removed", "session_id", id)
	return nil
}
