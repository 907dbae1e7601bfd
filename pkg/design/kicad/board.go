package kicad

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/OpenTraceLab/OpenTraceEDB/pkg/design"
	"github.com/OpenTraceLab/OpenTraceEDB/pkg/faults"
	"github.com/OpenTraceLab/OpenTraceEDB/pkg/kicad/pcb"
)

// Design is an open KiCad board. Read-only opens expose it as a
// design.Reader; writable opens as a design.Editor.
type Design struct {
	dir       string
	boardPath string
	lock      string // empty for read-only opens
	logger    *slog.Logger

	components []design.Component
	compIdx    map[string]int
	nets       []design.Net
	netIdx     map[string]int

	mu        sync.Mutex
	mutations design.Mutations
	closed    bool
}

var _ design.Editor = (*Design)(nil)

func loadBoard(path string, power *PowerClassifier, logger *slog.Logger) (*Design, error) {
	board, err := pcb.ParseFile(path)
	if err != nil {
		return nil, err
	}

	d := &Design{
		boardPath: path,
		logger:    logger,
		compIdx:   make(map[string]int),
		netIdx:    make(map[string]int),
	}

	addNet := func(name string) {
		if name == "" {
			return
		}
		if _, ok := d.netIdx[name]; ok {
			return
		}
		d.netIdx[name] = len(d.nets)
		d.nets = append(d.nets, design.Net{Name: name, PowerGround: power.IsPower(name)})
	}
	for _, n := range board.Nets {
		addNet(n.Name)
	}

	for _, fp := range board.Footprints {
		if fp.Reference == "" {
			logger.Debug("skipping footprint without reference", "footprint", fp.Name)
			continue
		}
		if _, dup := d.compIdx[fp.Reference]; dup {
			logger.Warn("duplicate reference, keeping first", "reference", fp.Reference, "board", path)
			continue
		}

		c := design.Component{Name: fp.Reference, Type: ComponentType(fp.Reference)}
		pinIdx := make(map[string]int)
		for _, pad := range fp.Pads {
			if pad.Number == "" {
				continue
			}
			net := ""
			if pad.Net != nil {
				net = pad.Net.Name
				addNet(net)
			}
			// Pads sharing a number form one pin; the first connected pad
			// decides the net.
			if i, ok := pinIdx[pad.Number]; ok {
				if !c.Pins[i].Connected && net != "" {
					c.Pins[i] = design.NewPin(pad.Number, net)
				}
				continue
			}
			pinIdx[pad.Number] = len(c.Pins)
			c.Pins = append(c.Pins, design.NewPin(pad.Number, net))
		}

		d.compIdx[c.Name] = len(d.components)
		d.components = append(d.components, c)
	}

	return d, nil
}

// Dir returns the design directory.
func (d *Design) Dir() string { return d.dir }

// BoardPath returns the path of the board file.
func (d *Design) BoardPath() string { return d.boardPath }

// Components implements design.Reader.
func (d *Design) Components() ([]design.Component, error) {
	out := make([]design.Component, len(d.components))
	for i, c := range d.components {
		c.Pins = append([]design.Pin(nil), c.Pins...)
		out[i] = c
	}
	return out, nil
}

// Nets implements design.Reader.
func (d *Design) Nets() ([]design.Net, error) {
	return append([]design.Net(nil), d.nets...), nil
}

// Component implements design.Editor.
func (d *Design) Component(name string) (design.Component, error) {
	i, ok := d.compIdx[name]
	if !ok {
		return design.Component{}, faults.NotFoundf("component %q not found", name)
	}
	c := d.components[i]
	c.Pins = append([]design.Pin(nil), c.Pins...)
	return c, nil
}

// Net implements design.Editor.
func (d *Design) Net(name string) (design.Net, error) {
	i, ok := d.netIdx[name]
	if !ok {
		return design.Net{}, faults.NotFoundf("net %q not found", name)
	}
	return d.nets[i], nil
}

func (d *Design) writable() error {
	if d.lock == "" {
		return faults.Enginef("kicad: %s is open read-only", d.dir)
	}
	if d.closed {
		return faults.Enginef("kicad: %s is closed", d.dir)
	}
	return nil
}

// CreatePinGroup implements design.Editor.
func (d *Design) CreatePinGroup(component string, pins []string, name string) (design.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writable(); err != nil {
		return "", err
	}
	c, err := d.Component(component)
	if err != nil {
		return "", err
	}
	return d.mutations.AddGroup(c, pins, name)
}

// CreatePortTerminal implements design.Editor.
func (d *Design) CreatePortTerminal(group design.Handle, impedance float64) (design.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writable(); err != nil {
		return "", err
	}
	return d.mutations.AddTerminal(group, impedance)
}

// SetReferenceTerminal implements design.Editor.
func (d *Design) SetReferenceTerminal(signal, reference design.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writable(); err != nil {
		return err
	}
	return d.mutations.Link(signal, reference)
}

// Save implements design.Editor. With no recorded mutations nothing is
// written, so the directory stays byte-identical to what was opened.
func (d *Design) Save() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writable(); err != nil {
		return err
	}
	if d.mutations.Empty() {
		return nil
	}
	path := filepath.Join(d.dir, PortsFile)
	if err := writePorts(path, &d.mutations); err != nil {
		return faults.Wrap(faults.KindEngine, err, "kicad: save %s", path)
	}
	d.logger.Debug("saved terminals", "path", path, "terminals", len(d.mutations.Terminals()))
	return nil
}

// PinGroups returns the pin groups recorded on this design.
func (d *Design) PinGroups() []design.PinGroup {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mutations.Groups()
}

// Terminals returns the terminals recorded on this design.
func (d *Design) Terminals() []design.PortTerminal {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mutations.Terminals()
}

// Close implements design.Reader. Writable designs release their lock.
func (d *Design) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.lock == "" {
		return nil
	}
	if err := os.Remove(d.lock); err != nil && !os.IsNotExist(err) {
		return faults.Wrap(faults.KindEngine, err, "kicad: unlock %s", d.dir)
	}
	return nil
}
