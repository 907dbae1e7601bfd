// Package ports turns differential port definitions into engine terminals.
//
// A Resolver works on one writable design for one run. It creates at most
// one terminal per (component, net) pair, resolves ports strictly in input
// order and links each port's reference terminal to its signal terminal only
// after every port has been resolved.
package ports

import (
	"errors"
	"log/slog"
	"strconv"

	"github.com/OpenTraceLab/OpenTraceEDB/pkg/design"
	"github.com/OpenTraceLab/OpenTraceEDB/pkg/faults"
)

// Terminal is a created port terminal. Its identity is its key.
type Terminal struct {
	Key       Endpoint      `json:"key"`
	Handle    design.Handle `json:"handle"`
	Group     design.Handle `json:"group"`
	Impedance float64       `json:"impedance"`
}

// Port pairs a signal terminal with a reference terminal.
type Port struct {
	Name      string    `json:"name"`
	Signal    *Terminal `json:"signal"`
	Reference *Terminal `json:"reference"`
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithDefaultImpedance sets the impedance used by specs without z0.
func WithDefaultImpedance(z float64) Option {
	return func(r *Resolver) { r.defaultZ = z }
}

// WithStrictImpedance makes a second request for an existing terminal at a
// different impedance fail with a conflict error instead of silently
// keeping the first impedance.
func WithStrictImpedance(strict bool) Option {
	return func(r *Resolver) { r.strict = strict }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// Resolver holds the terminal table of one run.
type Resolver struct {
	ed        design.Editor
	defaultZ  float64
	strict    bool
	logger    *slog.Logger
	terminals map[Endpoint]*Terminal
	order     []*Terminal
}

// NewResolver creates a resolver over a writable design.
func NewResolver(ed design.Editor, opts ...Option) *Resolver {
	r := &Resolver{
		ed:        ed,
		defaultZ:  DefaultImpedance,
		logger:    slog.Default(),
		terminals: make(map[Endpoint]*Terminal),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GroupName is the pin group name used for a terminal on (component, net).
// Distinct pairs can share a name, e.g. (U1, A_B) and (U1_A, B); the
// resolver then suffixes later groups with _2, _3 and so on.
func GroupName(component, net string) string {
	return "port_" + component + "_" + net
}

// EnsureTerminal returns the terminal for (component, net), creating it on
// first use from the component's pins currently on net. A repeated call
// returns the same *Terminal; its impedance argument is ignored unless
// strict impedance checking is on.
func (r *Resolver) EnsureTerminal(component, net string, impedance float64) (*Terminal, error) {
	c, err := r.ed.Component(component)
	if err != nil {
		return nil, err
	}
	if _, err := r.ed.Net(net); err != nil {
		return nil, err
	}

	key := Endpoint{Component: component, Net: net}
	if t, ok := r.terminals[key]; ok {
		if r.strict && t.Impedance != impedance {
			return nil, faults.Conflictf("terminal %s exists at %v ohm, requested %v ohm", key, t.Impedance, impedance)
		}
		return t, nil
	}

	if err := checkImpedance(impedance); err != nil {
		return nil, err
	}
	pins := c.PinsOn(net)
	if len(pins) == 0 {
		return nil, faults.Validationf("no pins of component %q connect to net %q", component, net)
	}

	group, err := r.createGroup(component, pins, GroupName(component, net))
	if err != nil {
		return nil, faults.Wrap(faults.KindOf(err), err, "create pin group for %s", key)
	}
	h, err := r.ed.CreatePortTerminal(group, impedance)
	if err != nil {
		return nil, faults.Wrap(faults.KindOf(err), err, "create terminal for %s", key)
	}

	t := &Terminal{Key: key, Handle: h, Group: group, Impedance: impedance}
	r.terminals[key] = t
	r.order = append(r.order, t)
	r.logger.Debug("terminal created", "component", component, "net", net, "pins", len(pins), "impedance", impedance)
	return t, nil
}

// createGroup creates a pin group named base, or base_N with the smallest
// N >= 2 not already taken in the design.
func (r *Resolver) createGroup(component string, pins []string, base string) (design.Handle, error) {
	name := base
	for n := 2; ; n++ {
		h, err := r.ed.CreatePinGroup(component, pins, name)
		if !errors.Is(err, faults.ErrConflict) {
			return h, err
		}
		name = base + "_" + strconv.Itoa(n)
	}
}

// ResolvePort resolves both sides of spec. It does not link them.
func (r *Resolver) ResolvePort(spec Spec) (*Port, error) {
	p, err := spec.parse(r.defaultZ)
	if err != nil {
		return nil, err
	}
	return r.resolve(p)
}

func (r *Resolver) resolve(p parsedSpec) (*Port, error) {
	sig, err := r.EnsureTerminal(p.Pos.Component, p.Pos.Net, p.Impedance)
	if err != nil {
		return nil, err
	}
	ref, err := r.EnsureTerminal(p.Neg.Component, p.Neg.Net, p.Impedance)
	if err != nil {
		return nil, err
	}
	if sig.Key == ref.Key {
		return nil, faults.Validationf("port %q: signal and reference are both %s", p.Name, sig.Key)
	}
	return &Port{Name: p.Name, Signal: sig, Reference: ref}, nil
}

// ResolveAll checks the syntax of every spec, resolves the ports in order and
// then links each reference terminal to its signal terminal, in order. The
// first failure aborts the batch and carries the failing entry's position.
func (r *Resolver) ResolveAll(specs []Spec) ([]*Port, error) {
	parsed, err := parseAll(specs, r.defaultZ)
	if err != nil {
		return nil, err
	}

	ports := make([]*Port, len(parsed))
	for i, p := range parsed {
		port, err := r.resolve(p)
		if err != nil {
			return nil, faults.WithPosition(faults.Wrap(faults.KindOf(err), err, "ports[%d] %q", i, p.Name), i)
		}
		ports[i] = port
	}

	for i, port := range ports {
		if err := r.ed.SetReferenceTerminal(port.Signal.Handle, port.Reference.Handle); err != nil {
			return nil, faults.WithPosition(faults.Wrap(faults.KindOf(err), err, "ports[%d] %q: link reference", i, port.Name), i)
		}
	}

	r.logger.Info("ports resolved", "ports", len(ports), "terminals", len(r.order))
	return ports, nil
}

// Terminals returns the terminals created so far, in creation order.
func (r *Resolver) Terminals() []*Terminal {
	return append([]*Terminal(nil), r.order...)
}
