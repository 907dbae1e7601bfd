package index

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/OpenTraceLab/OpenTraceEDB/pkg/faults"
)

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path     string
	InMemory bool
	// SyncWrites makes every Put durable before returning.
	SyncWrites bool
	// Logger receives BadgerDB's internal messages. Nil silences them.
	Logger *slog.Logger
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore keeps snapshots in an embedded BadgerDB, keyed by
// "snapshot/<id>" and stored in their canonical text form.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (creating if needed) a BadgerDB-backed store.
func OpenBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("index: badger path is required")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("index: create badger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("index: open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func snapshotKey(id string) []byte { return []byte("snapshot/" + id) }

// Put implements Store.
func (b *BadgerStore) Put(id string, s *Snapshot) error {
	data, err := Marshal(s)
	if err != nil {
		return faults.Wrap(faults.KindEngine, err, "index: put %s", id)
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(id), data)
	})
	return faults.Wrap(faults.KindEngine, err, "index: put %s", id)
}

// Get implements Store.
func (b *BadgerStore) Get(id string) (*Snapshot, error) {
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, faults.Wrap(faults.KindEngine, err, "index: get %s", id)
	}
	s, err := Unmarshal(data)
	if err != nil {
		return nil, faults.Wrap(faults.KindEngine, err, "index: get %s", id)
	}
	return s, nil
}

// Delete implements Store.
func (b *BadgerStore) Delete(id string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(snapshotKey(id))
	})
	return faults.Wrap(faults.KindEngine, err, "index: delete %s", id)
}

// IDs lists the stored session ids in key order.
func (b *BadgerStore) IDs() ([]string, error) {
	var ids []string
	prefix := []byte("snapshot/")
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, faults.Wrap(faults.KindEngine, err, "index: list")
	}
	return ids, nil
}

// Close closes the database.
func (b *BadgerStore) Close() error {
	return b.db.Close()
}
