package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/OpenTraceLab/OpenTraceEDB/pkg/faults"
)

// SessionFile holds the session record inside each session directory.
const SessionFile = "session.json"

// uploadDir is where an upload is extracted inside its session directory.
const uploadDir = "upload"

// Session records where an upload's design lives.
type Session struct {
	ID string `json:"-"`
	// DesignPath is relative to the session directory.
	DesignPath       string    `json:"design_path"`
	OriginalFilename string    `json:"original_filename"`
	Engine           string    `json:"engine"`
	CreatedAt        time.Time `json:"created_at"`

	dir string
}

// Dir is the session directory.
func (s *Session) Dir() string { return s.dir }

// Design is the absolute path of the uploaded design directory.
func (s *Session) Design() string { return filepath.Join(s.dir, filepath.FromSlash(s.DesignPath)) }

// DesignName is the base name of the design directory.
func (s *Session) DesignName() string { return filepath.Base(s.Design()) }

// validSessionID accepts only canonical uuids so an id can never address a
// path outside the workspace.
func validSessionID(id string) bool {
	u, err := uuid.Parse(id)
	return err == nil && u.String() == id
}

func (m *Manager) sessionDir(id string) (string, error) {
	if !validSessionID(id) {
		return "", faults.NotFoundf("session %q not found", id)
	}
	return filepath.Join(m.root, id), nil
}

func writeSession(s *Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("workspace: encode session: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, SessionFile), data, 0o644); err != nil {
		return fmt.Errorf("workspace: write session: %w", err)
	}
	return nil
}

func readSession(dir, id string) (*Session, error) {
	data, err := os.ReadFile(filepath.Join(dir, SessionFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, faults.NotFoundf("session %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("workspace: read session %s: %w", id, err)
	}
	s := &Session{ID: id, dir: dir}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, faults.Wrap(faults.KindEngine, err, "workspace: corrupt session %s", id)
	}
	if s.DesignPath == "" {
		return nil, faults.Enginef("workspace: session %s has no design path", id)
	}
	return s, nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// safeFilename reduces an uploaded file name to a plain base name.
func safeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.TrimLeft(name, "._")
	if name == "" || strings.EqualFold(name, "zip") {
		return "upload.zip"
	}
	return name
}
