// Package index builds, stores and queries connectivity snapshots of a
// design: which components exist per type, which pins each component has,
// which net each pin sits on, which pins each net reaches and which nets are
// power or signal.
//
// A Snapshot is immutable once built and safe for concurrent readers.
package index

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Class is a net classification.
type Class string

const (
	ClassPower  Class = "power"
	ClassSignal Class = "signal"
)

// PinRef identifies a pin. It encodes as a two-element JSON array
// [component, pin].
type PinRef struct {
	Component string
	Pin       string
}

func (p PinRef) String() string { return p.Component + "." + p.Pin }

// MarshalJSON encodes the pin as [component, pin].
func (p PinRef) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{p.Component, p.Pin})
}

// UnmarshalJSON decodes [component, pin].
func (p *PinRef) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("index: pin reference must have 2 elements, got %d", len(pair))
	}
	p.Component, p.Pin = pair[0], pair[1]
	return nil
}

// Snapshot is the set of derived connectivity indices for one design.
//
// PinNet holds a nil entry for pins with no net. Such pins never appear in
// NetPins.
type Snapshot struct {
	TypeComp map[string][]string           `json:"type_comp"`
	CompPins map[string][]string           `json:"comp_pins"`
	PinNet   map[string]map[string]*string `json:"pin_net"`
	NetPins  map[string][]PinRef           `json:"net_pins"`
	TypeNet  map[Class][]string            `json:"type_net"`
}

func newSnapshot() *Snapshot {
	return &Snapshot{
		TypeComp: make(map[string][]string),
		CompPins: make(map[string][]string),
		PinNet:   make(map[string]map[string]*string),
		NetPins:  make(map[string][]PinRef),
		TypeNet: map[Class][]string{
			ClassPower:  {},
			ClassSignal: {},
		},
	}
}

// HasComponent reports whether the component exists.
func (s *Snapshot) HasComponent(name string) bool {
	_, ok := s.CompPins[name]
	return ok
}

// HasNet reports whether the net exists.
func (s *Snapshot) HasNet(name string) bool {
	_, ok := s.NetPins[name]
	return ok
}

// NetOf returns the net of a pin. ok is false for unknown or unconnected
// pins.
func (s *Snapshot) NetOf(component, pin string) (net string, ok bool) {
	n := s.PinNet[component][pin]
	if n == nil {
		return "", false
	}
	return *n, true
}

// ClassOf returns the classification of a net.
func (s *Snapshot) ClassOf(net string) (Class, bool) {
	for _, c := range []Class{ClassPower, ClassSignal} {
		for _, n := range s.TypeNet[c] {
			if n == net {
				return c, true
			}
		}
	}
	return "", false
}

// Components returns all component names, sorted.
func (s *Snapshot) Components() []string {
	out := make([]string, 0, len(s.CompPins))
	for c := range s.CompPins {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Nets returns all net names, sorted.
func (s *Snapshot) Nets() []string {
	out := make([]string, 0, len(s.NetPins))
	for n := range s.NetPins {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// ComponentsOn returns the sorted, de-duplicated components with at least one
// pin on net.
func (s *Snapshot) ComponentsOn(net string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range s.NetPins[net] {
		if !seen[p.Component] {
			seen[p.Component] = true
			out = append(out, p.Component)
		}
	}
	sort.Strings(out)
	return out
}

// Stats summarizes a snapshot.
type Stats struct {
	Components  int `json:"components"`
	Pins        int `json:"pins"`
	Unconnected int `json:"unconnected_pins"`
	Nets        int `json:"nets"`
	PowerNets   int `json:"power_nets"`
	SignalNets  int `json:"signal_nets"`
}

// Stats counts the snapshot contents.
func (s *Snapshot) Stats() Stats {
	st := Stats{
		Components: len(s.CompPins),
		Nets:       len(s.NetPins),
		PowerNets:  len(s.TypeNet[ClassPower]),
		SignalNets: len(s.TypeNet[ClassSignal]),
	}
	for _, pins := range s.PinNet {
		for _, n := range pins {
			st.Pins++
			if n == nil {
				st.Unconnected++
			}
		}
	}
	return st
}
