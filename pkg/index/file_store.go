package index

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/OpenTraceLab/OpenTraceEDB/pkg/faults"
)

// IndexFile is the snapshot file name inside a session directory.
const IndexFile = "index.json"

// FileStore persists snapshots as <root>/<id>/index.json and caches decoded
// snapshots. Concurrent misses for one id share a single read.
type FileStore struct {
	root  string
	group singleflight.Group

	mu    sync.RWMutex
	cache map[string]*Snapshot
}

// NewFileStore creates a store rooted at root.
func NewFileStore(root string) *FileStore {
	return &FileStore{root: root, cache: make(map[string]*Snapshot)}
}

// Path returns the snapshot file path for id.
func (f *FileStore) Path(id string) string {
	return filepath.Join(f.root, id, IndexFile)
}

func validID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}

// Put implements Store. The file is replaced atomically.
func (f *FileStore) Put(id string, s *Snapshot) error {
	if !validID(id) {
		return faults.Validationf("invalid session id %q", id)
	}
	data, err := Marshal(s)
	if err != nil {
		return faults.Wrap(faults.KindEngine, err, "index: put %s", id)
	}
	path := f.Path(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return faults.Wrap(faults.KindEngine, err, "index: put %s", id)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return faults.Wrap(faults.KindEngine, err, "index: put %s", id)
	}

	f.mu.Lock()
	f.cache[id] = s
	f.mu.Unlock()
	return nil
}

// Get implements Store.
func (f *FileStore) Get(id string) (*Snapshot, error) {
	if !validID(id) {
		return nil, notFound(id)
	}
	f.mu.RLock()
	s, ok := f.cache[id]
	f.mu.RUnlock()
	if ok {
		return s, nil
	}

	v, err, _ := f.group.Do(id, func() (any, error) {
		data, err := os.ReadFile(f.Path(id))
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(id)
		}
		if err != nil {
			return nil, faults.Wrap(faults.KindEngine, err, "index: get %s", id)
		}
		s, err := Unmarshal(data)
		if err != nil {
			return nil, faults.Wrap(faults.KindEngine, err, "index: get %s", id)
		}
		f.mu.Lock()
		f.cache[id] = s
		f.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// Delete implements Store.
func (f *FileStore) Delete(id string) error {
	f.mu.Lock()
	delete(f.cache, id)
	f.mu.Unlock()
	if !validID(id) {
		return nil
	}
	if err := os.Remove(f.Path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return faults.Wrap(faults.KindEngine, err, "index: delete %s", id)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".index-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
