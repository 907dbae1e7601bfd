package design

import (
	"strconv"

	"github.com/OpenTraceLab/OpenTraceEDB/pkg/faults"
)

// Mutations is the bookkeeping shared by editors: pin groups and port
// terminals in creation order, addressable by handle. Handles are creation
// sequence numbers; group names are unique within a design but are not
// identities.
type Mutations struct {
	groups      []PinGroup
	terminals   []PortTerminal
	groupIdx    map[Handle]int
	termIdx     map[Handle]int
	groupByName map[string]Handle
	termOfGroup map[Handle]Handle
}

func (m *Mutations) init() {
	if m.groupIdx == nil {
		m.groupIdx = make(map[Handle]int)
		m.termIdx = make(map[Handle]int)
		m.groupByName = make(map[string]Handle)
		m.termOfGroup = make(map[Handle]Handle)
	}
}

// GroupNamed returns the handle of the pin group called name.
func (m *Mutations) GroupNamed(name string) (Handle, bool) {
	h, ok := m.groupByName[name]
	return h, ok
}

// AddGroup records a pin group over pins of c. Every pin must exist on c.
func (m *Mutations) AddGroup(c Component, pins []string, name string) (Handle, error) {
	m.init()
	if name == "" {
		return "", faults.Validationf("design: pin group name is empty")
	}
	if len(pins) == 0 {
		return "", faults.Validationf("design: pin group %q has no pins", name)
	}
	known := make(map[string]bool, len(c.Pins))
	for _, p := range c.Pins {
		known[p.Name] = true
	}
	for _, p := range pins {
		if !known[p] {
			return "", faults.NotFoundf("design: pin %q not found on component %q", p, c.Name)
		}
	}

	if _, dup := m.groupByName[name]; dup {
		return "", faults.Conflictf("design: pin group %q already exists", name)
	}
	h := Handle("group:" + strconv.Itoa(len(m.groups)+1))
	m.groupIdx[h] = len(m.groups)
	m.groupByName[name] = h
	m.groups = append(m.groups, PinGroup{
		Handle:    h,
		Name:      name,
		Component: c.Name,
		Pins:      append([]string(nil), pins...),
	})
	return h, nil
}

// AddTerminal records a port terminal on an existing group.
func (m *Mutations) AddTerminal(group Handle, impedance float64) (Handle, error) {
	m.init()
	gi, ok := m.groupIdx[group]
	if !ok {
		return "", faults.Enginef("design: unknown pin group %q", group)
	}
	if _, dup := m.termOfGroup[group]; dup {
		return "", faults.Conflictf("design: terminal on %q already exists", m.groups[gi].Name)
	}
	h := Handle("terminal:" + strconv.Itoa(len(m.terminals)+1))
	m.termIdx[h] = len(m.terminals)
	m.termOfGroup[group] = h
	m.terminals = append(m.terminals, PortTerminal{Handle: h, Group: group, Impedance: impedance})
	return h, nil
}

// Link sets reference as the reference terminal of signal.
func (m *Mutations) Link(signal, reference Handle) error {
	m.init()
	si, ok := m.termIdx[signal]
	if !ok {
		return faults.Enginef("design: unknown terminal %q", signal)
	}
	if _, ok := m.termIdx[reference]; !ok {
		return faults.Enginef("design: unknown terminal %q", reference)
	}
	if signal == reference {
		return faults.Validationf("design: terminal %q cannot reference itself", signal)
	}
	m.terminals[si].Reference = reference
	return nil
}

// Groups returns a copy of the recorded pin groups.
func (m *Mutations) Groups() []PinGroup {
	out := make([]PinGroup, len(m.groups))
	copy(out, m.groups)
	return out
}

// Terminals returns a copy of the recorded terminals.
func (m *Mutations) Terminals() []PortTerminal {
	out := make([]PortTerminal, len(m.terminals))
	copy(out, m.terminals)
	return out
}

// Empty reports whether nothing has been recorded.
func (m *Mutations) Empty() bool {
	return len(m.groups) == 0 && len(m.terminals) == 0
}
