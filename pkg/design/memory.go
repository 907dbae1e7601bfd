package design

import (
	"path/filepath"
	"sync"

	"github.com/OpenTraceLab/OpenTraceEDB/pkg/faults"
)

// MemoryDesign is an in-process design used by tests. Build it with AddNet
// and AddComponent; the optional hooks inject engine failures.
type MemoryDesign struct {
	// OnCreateTerminal, when set, runs before a terminal is recorded and
	// aborts the call if it returns an error.
	OnCreateTerminal func(group Handle, impedance float64) error
	// OnSetReference, when set, runs before a link is recorded.
	OnSetReference func(signal, reference Handle) error
	// OnSave, when set, runs on every Save.
	OnSave func() error

	mu         sync.Mutex
	components []Component
	compIdx    map[string]int
	nets       []Net
	netIdx     map[string]int
	mutations  Mutations
	saved      Mutations
	saves      int
}

// NewMemoryDesign returns an empty design.
func NewMemoryDesign() *MemoryDesign {
	return &MemoryDesign{
		compIdx: make(map[string]int),
		netIdx:  make(map[string]int),
	}
}

// AddNet registers a net. Re-adding a net updates its classification.
func (d *MemoryDesign) AddNet(name string, powerGround bool) *MemoryDesign {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i, ok := d.netIdx[name]; ok {
		d.nets[i].PowerGround = powerGround
		return d
	}
	d.netIdx[name] = len(d.nets)
	d.nets = append(d.nets, Net{Name: name, PowerGround: powerGround})
	return d
}

// AddComponent registers a component. Nets referenced by its pins are added
// as signal nets when missing.
func (d *MemoryDesign) AddComponent(name, typ string, pins ...Pin) *MemoryDesign {
	for _, p := range pins {
		if n, ok := p.NetName(); ok {
			d.mu.Lock()
			_, known := d.netIdx[n]
			d.mu.Unlock()
			if !known {
				d.AddNet(n, false)
			}
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	c := Component{Name: name, Type: typ, Pins: append([]Pin(nil), pins...)}
	if i, ok := d.compIdx[name]; ok {
		d.components[i] = c
		return d
	}
	d.compIdx[name] = len(d.components)
	d.components = append(d.components, c)
	return d
}

// Components implements Reader.
func (d *MemoryDesign) Components() ([]Component, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Component, len(d.components))
	for i, c := range d.components {
		c.Pins = append([]Pin(nil), c.Pins...)
		out[i] = c
	}
	return out, nil
}

// Nets implements Reader.
func (d *MemoryDesign) Nets() ([]Net, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Net(nil), d.nets...), nil
}

// Component implements Editor.
func (d *MemoryDesign) Component(name string) (Component, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i, ok := d.compIdx[name]
	if !ok {
		return Component{}, faults.NotFoundf("component %q not found", name)
	}
	c := d.components[i]
	c.Pins = append([]Pin(nil), c.Pins...)
	return c, nil
}

// Net implements Editor.
func (d *MemoryDesign) Net(name string) (Net, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i, ok := d.netIdx[name]
	if !ok {
		return Net{}, faults.NotFoundf("net %q not found", name)
	}
	return d.nets[i], nil
}

// CreatePinGroup implements Editor.
func (d *MemoryDesign) CreatePinGroup(component string, pins []string, name string) (Handle, error) {
	c, err := d.Component(component)
	if err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mutations.AddGroup(c, pins, name)
}

// CreatePortTerminal implements Editor.
func (d *MemoryDesign) CreatePortTerminal(group Handle, impedance float64) (Handle, error) {
	if d.OnCreateTerminal != nil {
		if err := d.OnCreateTerminal(group, impedance); err != nil {
			return "", faults.Wrap(faults.KindEngine, err, "design: create terminal on %q", group)
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mutations.AddTerminal(group, impedance)
}

// SetReferenceTerminal implements Editor.
func (d *MemoryDesign) SetReferenceTerminal(signal, reference Handle) error {
	if d.OnSetReference != nil {
		if err := d.OnSetReference(signal, reference); err != nil {
			return faults.Wrap(faults.KindEngine, err, "design: link %q to %q", reference, signal)
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mutations.Link(signal, reference)
}

// Save implements Editor. The current mutations become the saved state.
func (d *MemoryDesign) Save() error {
	if d.OnSave != nil {
		if err := d.OnSave(); err != nil {
			return faults.Wrap(faults.KindEngine, err, "design: save")
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.saves++
	d.saved = Mutations{}
	d.saved.groups = d.mutations.Groups()
	d.saved.terminals = d.mutations.Terminals()
	return nil
}

// Close implements Reader.
func (d *MemoryDesign) Close() error { return nil }

// PinGroups returns the pin groups created so far.
func (d *MemoryDesign) PinGroups() []PinGroup {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mutations.Groups()
}

// Terminals returns the terminals created so far.
func (d *MemoryDesign) Terminals() []PortTerminal {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mutations.Terminals()
}

// SavedTerminals returns the terminals as of the last Save.
func (d *MemoryDesign) SavedTerminals() []PortTerminal {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.saved.Terminals()
}

// Saves reports how many times Save succeeded.
func (d *MemoryDesign) Saves() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.saves
}

// MemoryEngine serves MemoryDesigns registered under directory paths and
// enforces the single-writer rule per path.
type MemoryEngine struct {
	mu      sync.Mutex
	designs map[string]*MemoryDesign
	writers map[string]bool
}

// NewMemoryEngine creates an engine with no designs.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		designs: make(map[string]*MemoryDesign),
		writers: make(map[string]bool),
	}
}

// Register makes d available at dir.
func (e *MemoryEngine) Register(dir string, d *MemoryDesign) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.designs[filepath.Clean(dir)] = d
}

// Name implements Engine.
func (e *MemoryEngine) Name() string { return "memory" }

// IsDesign implements Engine.
func (e *MemoryEngine) IsDesign(dir string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.designs[filepath.Clean(dir)]
	return ok
}

// OpenReadOnly implements Engine.
func (e *MemoryEngine) OpenReadOnly(dir string) (Reader, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.designs[filepath.Clean(dir)]
	if !ok {
		return nil, faults.Enginef("design: no design at %s", dir)
	}
	return d, nil
}

// Open implements Engine.
func (e *MemoryEngine) Open(dir string) (Editor, error) {
	key := filepath.Clean(dir)
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.designs[key]
	if !ok {
		return nil, faults.Enginef("design: no design at %s", dir)
	}
	if e.writers[key] {
		return nil, faults.Enginef("design: %s is already open for writing", dir)
	}
	e.writers[key] = true
	return &memoryEditor{MemoryDesign: d, release: func() {
		e.mu.Lock()
		delete(e.writers, key)
		e.mu.Unlock()
	}}, nil
}

type memoryEditor struct {
	*MemoryDesign
	once    sync.Once
	release func()
}

func (m *memoryEditor) Close() error {
	m.once.Do(m.release)
	return nil
}
