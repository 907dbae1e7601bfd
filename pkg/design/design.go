// Package design is the adapter boundary between OpenTraceEDB and a design
// database engine. Engines normalize their native component, pin and net
// representations into the canonical types below, once, when the data is
// read. Everything downstream (indexing, querying, port resolution) consumes
// only these types and the fixed-shape Reader/Editor operations.
package design

import "sort"

// Pin is one connection point of a component.
type Pin struct {
	Name string
	// Net is meaningful only when Connected is true.
	Net       string
	Connected bool
}

// NewPin builds a pin. An empty net marks the pin unconnected.
func NewPin(name, net string) Pin {
	return Pin{Name: name, Net: net, Connected: net != ""}
}

// NetName is the canonical optional-net accessor.
func (p Pin) NetName() (string, bool) {
	if !p.Connected {
		return "", false
	}
	return p.Net, true
}

// Component is a placed part.
type Component struct {
	Name string
	Type string
	Pins []Pin
}

// PinsOn returns the names of the pins currently connected to net, in pin
// order.
func (c Component) PinsOn(net string) []string {
	var names []string
	for _, p := range c.Pins {
		if n, ok := p.NetName(); ok && n == net {
			names = append(names, p.Name)
		}
	}
	return names
}

// Net is a named electrical connection.
type Net struct {
	Name        string
	PowerGround bool
}

// Handle identifies an engine object (pin group or terminal). Its contents
// are engine specific.
type Handle string

// PinGroup records a CreatePinGroup call.
type PinGroup struct {
	Handle    Handle
	Name      string
	Component string
	Pins      []string
}

// PortTerminal records a CreatePortTerminal call.
type PortTerminal struct {
	Handle    Handle
	Group     Handle
	Impedance float64
	Reference Handle // empty until SetReferenceTerminal
}

// Reader is a read-only view of a design.
type Reader interface {
	Components() ([]Component, error)
	Nets() ([]Net, error)
	Close() error
}

// Editor is a writable view of a design. Mutations become durable on Save.
type Editor interface {
	Reader

	// Component returns the live state of a component; faults.ErrNotFound
	// when absent.
	Component(name string) (Component, error)
	// Net returns a net by name; faults.ErrNotFound when absent.
	Net(name string) (Net, error)

	CreatePinGroup(component string, pins []string, name string) (Handle, error)
	CreatePortTerminal(group Handle, impedance float64) (Handle, error)
	SetReferenceTerminal(signal, reference Handle) error

	Save() error
}

// Engine opens designs stored in directories.
type Engine interface {
	Name() string
	// IsDesign reports whether dir holds a design this engine can open.
	IsDesign(dir string) bool
	OpenReadOnly(dir string) (Reader, error)
	// Open opens dir for writing. A second writable open of the same path
	// fails until the first editor is closed.
	Open(dir string) (Editor, error)
}

// SortComponents orders components by name.
func SortComponents(cs []Component) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].Name < cs[j].Name })
}
