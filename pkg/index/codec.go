package index

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

// Marshal encodes s in its canonical text form: indented JSON with sorted
// map keys and a trailing newline. Unmarshal followed by Marshal reproduces
// the bytes exactly.
func Marshal(s *Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encode writes the canonical form of s to w.
func Encode(w io.Writer, s *Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("index: encode snapshot: %w", err)
	}
	return nil
}

// Unmarshal decodes a snapshot and checks its consistency.
func Unmarshal(data []byte) (*Snapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	s := &Snapshot{}
	if err := dec.Decode(s); err != nil {
		return nil, fmt.Errorf("index: decode snapshot: %w", err)
	}
	s.normalize()
	if err := s.Check(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Snapshot) normalize() {
	if s.TypeComp == nil {
		s.TypeComp = make(map[string][]string)
	}
	if s.CompPins == nil {
		s.CompPins = make(map[string][]string)
	}
	if s.PinNet == nil {
		s.PinNet = make(map[string]map[string]*string)
	}
	if s.NetPins == nil {
		s.NetPins = make(map[string][]PinRef)
	}
	if s.TypeNet == nil {
		s.TypeNet = make(map[Class][]string)
	}
	for _, c := range []Class{ClassPower, ClassSignal} {
		if s.TypeNet[c] == nil {
			s.TypeNet[c] = []string{}
		}
	}
}

// Check verifies that the indices agree with each other: the pins reachable
// through NetPins are exactly the connected pins of PinNet, every component
// has one type, and every net has exactly one class.
func (s *Snapshot) Check() error {
	connected := 0
	for comp, pins := range s.PinNet {
		if _, ok := s.CompPins[comp]; !ok {
			return fmt.Errorf("index: pin_net lists unknown component %q", comp)
		}
		for _, net := range pins {
			if net != nil {
				connected++
			}
		}
	}

	seen := make(map[PinRef]bool, connected)
	for net, refs := range s.NetPins {
		for _, r := range refs {
			if seen[r] {
				return fmt.Errorf("index: pin %s listed twice", r)
			}
			seen[r] = true
			if got, ok := s.NetOf(r.Component, r.Pin); !ok || got != net {
				return fmt.Errorf("index: net %q lists %s which maps to %q", net, r, got)
			}
		}
	}
	if len(seen) != connected {
		return fmt.Errorf("index: net_pins holds %d pins, pin_net %d connected", len(seen), connected)
	}

	for comp, pins := range s.CompPins {
		if len(pins) != len(s.PinNet[comp]) {
			return fmt.Errorf("index: component %q pin lists disagree", comp)
		}
	}

	typed := make(map[string]bool)
	for _, comps := range s.TypeComp {
		for _, c := range comps {
			if typed[c] {
				return fmt.Errorf("index: component %q has several types", c)
			}
			if _, ok := s.CompPins[c]; !ok {
				return fmt.Errorf("index: typed component %q has no pin list", c)
			}
			typed[c] = true
		}
	}
	if len(typed) != len(s.CompPins) {
		return fmt.Errorf("index: %d typed components, %d with pins", len(typed), len(s.CompPins))
	}

	classes := make(map[string]bool)
	for _, nets := range s.TypeNet {
		for _, n := range nets {
			if classes[n] {
				return fmt.Errorf("index: net %q classified twice", n)
			}
			if _, ok := s.NetPins[n]; !ok {
				return fmt.Errorf("index: classified net %q is not indexed", n)
			}
			classes[n] = true
		}
	}
	if len(classes) != len(s.NetPins) {
		return fmt.Errorf("index: %d classified nets, %d indexed", len(classes), len(s.NetPins))
	}
	return nil
}

// sortedKeys returns the keys of m in order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
