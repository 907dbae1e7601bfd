package ports

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"gopkg.in/yaml.v3"

	"github.com/OpenTraceLab/OpenTraceEDB/pkg/faults"
	"github.com/OpenTraceLab/OpenTraceEDB/pkg/index"
)

// DefaultImpedance is the port impedance in ohms when a spec sets none.
const DefaultImpedance = 50.0

// Spec is a user-supplied differential port definition.
type Spec struct {
	Name      string   `json:"port_name" yaml:"port_name"`
	Pos       string   `json:"pos" yaml:"pos"`
	Neg       string   `json:"neg" yaml:"neg"`
	Impedance *float64 `json:"z0,omitempty" yaml:"z0,omitempty"`
}

// parsedSpec is a Spec after syntax checks.
type parsedSpec struct {
	Name      string
	Pos       Endpoint
	Neg       Endpoint
	Impedance float64
}

// checkImpedance rejects zero, negative, NaN and infinite values.
func checkImpedance(z float64) error {
	if math.IsNaN(z) || math.IsInf(z, 0) || z <= 0 {
		return faults.Validationf("impedance must be a positive finite number, got %v", z)
	}
	return nil
}

func (s Spec) parse(defaultZ float64) (parsedSpec, error) {
	if s.Name == "" {
		return parsedSpec{}, faults.Validationf("port name is required")
	}
	pos, err := ParseEndpoint(s.Pos)
	if err != nil {
		return parsedSpec{}, faults.Wrap(faults.KindValidation, err, "port %q pos", s.Name)
	}
	neg, err := ParseEndpoint(s.Neg)
	if err != nil {
		return parsedSpec{}, faults.Wrap(faults.KindValidation, err, "port %q neg", s.Name)
	}
	z := defaultZ
	if s.Impedance != nil {
		z = *s.Impedance
	}
	if err := checkImpedance(z); err != nil {
		return parsedSpec{}, faults.Wrap(faults.KindValidation, err, "port %q", s.Name)
	}
	return parsedSpec{Name: s.Name, Pos: pos, Neg: neg, Impedance: z}, nil
}

// parseAll checks the syntax of every spec before anything touches a design.
// The returned error carries the position of the first bad entry.
func parseAll(specs []Spec, defaultZ float64) ([]parsedSpec, error) {
	if len(specs) == 0 {
		return nil, faults.Validationf("no ports given")
	}
	out := make([]parsedSpec, len(specs))
	for i, s := range specs {
		p, err := s.parse(defaultZ)
		if err != nil {
			return nil, faults.WithPosition(faults.Wrap(faults.KindValidation, err, "ports[%d] invalid entry", i), i)
		}
		out[i] = p
	}
	return out, nil
}

// Validate checks specs against a snapshot without opening the design:
// syntax, impedance, known components and nets, a connection between each
// endpoint's component and net, and distinct signal/reference sides.
// Errors carry the 0-based position of the offending spec.
func Validate(specs []Spec, snap *index.Snapshot) error {
	parsed, err := parseAll(specs, DefaultImpedance)
	if err != nil {
		return err
	}
	for i, p := range parsed {
		for _, ep := range []Endpoint{p.Pos, p.Neg} {
			if err := checkEndpoint(snap, ep); err != nil {
				return faults.WithPosition(faults.Wrap(faults.KindOf(err), err, "ports[%d] %q", i, p.Name), i)
			}
		}
		if p.Pos == p.Neg {
			return faults.WithPosition(
				faults.Validationf("ports[%d] %q: signal and reference are both %s", i, p.Name, p.Pos), i)
		}
	}
	return nil
}

func checkEndpoint(snap *index.Snapshot, ep Endpoint) error {
	if !snap.HasComponent(ep.Component) {
		return faults.NotFoundf("component %q not found", ep.Component)
	}
	if !snap.HasNet(ep.Net) {
		return faults.NotFoundf("net %q not found", ep.Net)
	}
	for _, pin := range snap.CompPins[ep.Component] {
		if n, ok := snap.NetOf(ep.Component, pin); ok && n == ep.Net {
			return nil
		}
	}
	return faults.Validationf("no pins of component %q connect to net %q", ep.Component, ep.Net)
}

// LoadSpecs reads a list of port specs from YAML or JSON (JSON is valid
// YAML). Both a bare list and a {ports: [...]} document are accepted.
func LoadSpecs(r io.Reader) ([]Spec, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("ports: read specs: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, faults.Validationf("ports: spec file is empty")
	}

	var list []Spec
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var doc struct {
		Ports []Spec `yaml:"ports"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, faults.Wrap(faults.KindValidation, err, "ports: parse specs")
	}
	return doc.Ports, nil
}
