// Package kicad implements a design engine over KiCad board directories.
//
// A design is a directory holding a .kicad_pcb file. Footprints become
// components keyed by reference designator, pads become pins and board nets
// become nets. Pin groups and port terminals created through an Editor are
// stored beside the board in ports.sexp; the board file itself is never
// rewritten.
package kicad

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/OpenTraceLab/OpenTraceEDB/pkg/design"
	"github.com/OpenTraceLab/OpenTraceEDB/pkg/faults"
)

const (
	// BoardExt is the KiCad board file extension.
	BoardExt = ".kicad_pcb"
	// PortsFile holds persisted pin groups and port terminals.
	PortsFile = "ports.sexp"
	// LockFile marks a design open for writing.
	LockFile = ".otedb.lock"
)

// Engine opens KiCad board directories.
type Engine struct {
	power  *PowerClassifier
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithPowerClassifier replaces the default power-net patterns.
func WithPowerClassifier(pc *PowerClassifier) Option {
	return func(e *Engine) { e.power = pc }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a KiCad engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	if e.power == nil {
		e.power, _ = NewPowerClassifier(nil)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

var _ design.Engine = (*Engine)(nil)

// Name implements design.Engine.
func (e *Engine) Name() string { return "kicad" }

// IsDesign implements design.Engine.
func (e *Engine) IsDesign(dir string) bool {
	_, err := BoardFile(dir)
	return err == nil
}

// BoardFile returns the board file inside dir. When several boards are
// present the one named after the directory wins.
func BoardFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("kicad: read %s: %w", dir, err)
	}
	var boards []string
	for _, ent := range entries {
		if ent.Type().IsRegular() && strings.EqualFold(filepath.Ext(ent.Name()), BoardExt) {
			boards = append(boards, ent.Name())
		}
	}
	switch len(boards) {
	case 0:
		return "", fmt.Errorf("kicad: no %s file in %s", BoardExt, dir)
	case 1:
		return filepath.Join(dir, boards[0]), nil
	}
	base := strings.TrimSuffix(filepath.Base(dir), filepath.Ext(dir))
	for _, b := range boards {
		if strings.TrimSuffix(b, filepath.Ext(b)) == base {
			return filepath.Join(dir, b), nil
		}
	}
	sort.Strings(boards)
	return "", fmt.Errorf("kicad: %s holds several boards (%s)", dir, strings.Join(boards, ", "))
}

// OpenReadOnly implements design.Engine.
func (e *Engine) OpenReadOnly(dir string) (design.Reader, error) {
	return e.load(dir)
}

// Open implements design.Engine. It takes the directory lock, then loads the
// board and any previously saved terminals.
func (e *Engine) Open(dir string) (design.Editor, error) {
	lock := filepath.Join(dir, LockFile)
	f, err := os.OpenFile(lock, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, faults.Enginef("kicad: %s is already open for writing", dir)
		}
		return nil, faults.Wrap(faults.KindEngine, err, "kicad: lock %s", dir)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	f.Close()

	d, err := e.load(dir)
	if err != nil {
		os.Remove(lock)
		return nil, err
	}
	d.lock = lock

	if err := d.loadPorts(); err != nil {
		os.Remove(lock)
		return nil, err
	}
	return d, nil
}

func (e *Engine) load(dir string) (*Design, error) {
	boardPath, err := BoardFile(dir)
	if err != nil {
		return nil, faults.Wrap(faults.KindEngine, err, "kicad: open design")
	}
	d, err := loadBoard(boardPath, e.power, e.logger)
	if err != nil {
		return nil, faults.Wrap(faults.KindEngine, err, "kicad: open design")
	}
	d.dir = dir
	return d, nil
}
