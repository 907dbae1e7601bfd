package workspace

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/OpenTraceLab/OpenTraceEDB/pkg/archive"
	"github.com/OpenTraceLab/OpenTraceEDB/pkg/faults"
	"github.com/OpenTraceLab/OpenTraceEDB/pkg/ports"
)

// Result is a finished run.
type Result struct {
	// Archive is the packed work copy.
	Archive string
	// DownloadName is the file name offered to the client.
	DownloadName string
	WorkCopy     string
	Ports        []*ports.Port
	Terminals    int
}

// RunError is a failed run. The work copy, when one was made, is kept for
// inspection.
type RunError struct {
	WorkCopy string
	Err      error
}

func (e *RunError) Error() string { return e.Err.Error() }
func (e *RunError) Unwrap() error { return e.Err }

// Resolve applies specs to a fresh copy of the session's design and packs
// the result. Specs are checked against the session snapshot first; errors
// found there never touch the disk. ctx only bounds the wait for a run slot.
func (m *Manager) Resolve(ctx context.Context, id string, specs []ports.Spec) (*Result, error) {
	sess, err := m.Session(id)
	if err != nil {
		return nil, err
	}
	snap, err := m.Snapshot(id)
	if err != nil {
		return nil, err
	}
	if err := ports.Validate(specs, snap); err != nil {
		return nil, err
	}

	if err := m.runs.Acquire(ctx, 1); err != nil {
		return nil, faults.Wrap(faults.KindEngine, err, "workspace: waiting for a run slot")
	}
	defer m.runs.Release(1)

	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	src := sess.Design()
	work := filepath.Join(sess.Dir(), "work_copy_"+hex+filepath.Ext(src))
	logger := m.logger.With("session_id", id, "work_copy", filepath.Base(work))
	start := time.Now()

	if err := archive.CopyTree(src, work); err != nil {
		return nil, &RunError{Err: err}
	}

	res, err := m.run(work, specs)
	if err != nil {
		logger.Error("run failed", "error", err, "duration", time.Since(start))
		return nil, &RunError{WorkCopy: work, Err: err}
	}

	name := sess.DesignName()
	res.Archive = filepath.Join(sess.Dir(), name+"_"+hex+".zip")
	res.DownloadName = name + ".zip"
	res.WorkCopy = work
	if err := archive.Pack(work, res.Archive); err != nil {
		logger.Error("packing failed", "error", err)
		return nil, &RunError{WorkCopy: work, Err: err}
	}

	logger.Info("run finished", "ports", len(res.Ports), "terminals", res.Terminals, "duration", time.Since(start))
	return res, nil
}

// run opens the work copy for writing, resolves, saves and closes it.
func (m *Manager) run(work string, specs []ports.Spec) (res *Result, err error) {
	ed, err := m.engine.Open(work)
	if err != nil {
		return nil, faults.Wrap(faults.KindEngine, err, "workspace: open work copy")
	}
	defer func() {
		if cerr := ed.Close(); cerr != nil {
			err = errors.Join(err, faults.Wrap(faults.KindEngine, cerr, "workspace: close work copy"))
		}
	}()

	opts := append([]ports.Option{ports.WithLogger(m.logger)}, m.resolverOpts...)
	r := ports.NewResolver(ed, opts...)
	resolved, err := r.ResolveAll(specs)
	if err != nil {
		return nil, err
	}
	if err := ed.Save(); err != nil {
		return nil, faults.Wrap(faults.KindEngine, err, "workspace: save work copy")
	}
	return &Result{Ports: resolved, Terminals: len(r.Terminals())}, nil
}
