package kicad

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/OpenTraceLab/OpenTraceEDB/pkg/design"
	"github.com/OpenTraceLab/OpenTraceEDB/pkg/faults"
	"github.com/OpenTraceLab/OpenTraceEDB/pkg/kicad/sexp/kicadsexp"
)

// portsVersion is written as (version N) in ports.sexp.
const portsVersion = 1

// Layout of ports.sexp:
//
//	(otedb_ports
//	  (version 1)
//	  (pin_group (name port_U1_CLK) (component U1) (pins 2))
//	  (port_terminal (name port_U1_CLK) (impedance 50) (reference port_U1_GND)))
func encodePorts(m *design.Mutations) kicadsexp.Sexp {
	root := kicadsexp.NewList(
		kicadsexp.Symbol("otedb_ports"),
		kicadsexp.NewList(kicadsexp.Symbol("version"), kicadsexp.Symbol(strconv.Itoa(portsVersion))),
	)

	groups := m.Groups()
	names := make(map[design.Handle]string, len(groups))
	for _, g := range groups {
		names[g.Handle] = g.Name
		pins := kicadsexp.NewList(kicadsexp.Symbol("pins"))
		for _, p := range g.Pins {
			pins.Append(kicadsexp.Symbol(p))
		}
		root.Append(kicadsexp.NewList(
			kicadsexp.Symbol("pin_group"),
			kicadsexp.NewList(kicadsexp.Symbol("name"), kicadsexp.Symbol(g.Name)),
			kicadsexp.NewList(kicadsexp.Symbol("component"), kicadsexp.Symbol(g.Component)),
			pins,
		))
	}

	terms := m.Terminals()
	termNames := make(map[design.Handle]string, len(terms))
	for _, t := range terms {
		termNames[t.Handle] = names[t.Group]
	}
	for _, t := range terms {
		node := kicadsexp.NewList(
			kicadsexp.Symbol("port_terminal"),
			kicadsexp.NewList(kicadsexp.Symbol("name"), kicadsexp.Symbol(names[t.Group])),
			kicadsexp.NewList(kicadsexp.Symbol("impedance"),
				kicadsexp.Symbol(strconv.FormatFloat(t.Impedance, 'g', -1, 64))),
		)
		if t.Reference != "" {
			node.Append(kicadsexp.NewList(kicadsexp.Symbol("reference"), kicadsexp.Symbol(termNames[t.Reference])))
		}
		root.Append(node)
	}
	return root
}

func writePorts(path string, m *design.Mutations) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".ports-*.sexp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := kicadsexp.Write(tmp, encodePorts(m)); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// loadPorts replays a saved ports.sexp so a reopened design keeps its
// terminals.
func (d *Design) loadPorts() error {
	path := filepath.Join(d.dir, PortsFile)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return faults.Wrap(faults.KindEngine, err, "kicad: open %s", path)
	}
	defer f.Close()

	exprs, err := kicadsexp.Parse(f)
	if err != nil {
		return faults.Wrap(faults.KindEngine, err, "kicad: parse %s", path)
	}
	if len(exprs) == 0 {
		return nil
	}
	if err := d.replay(exprs[0]); err != nil {
		return faults.Wrap(faults.KindEngine, err, "kicad: load %s", path)
	}
	return nil
}

func (d *Design) replay(root kicadsexp.Sexp) error {
	l, ok := root.(*kicadsexp.List)
	if !ok || l.Head() != kicadsexp.Symbol("otedb_ports") {
		return fmt.Errorf("expected (otedb_ports ...)")
	}

	type link struct {
		signal    design.Handle
		reference string
	}
	var links []link
	terms := make(map[string]design.Handle)

	for _, item := range l.Items()[1:] {
		node, ok := item.(*kicadsexp.List)
		if !ok {
			continue
		}
		switch node.Head() {
		case kicadsexp.Symbol("version"):
			if v := atom(node, 1); v != strconv.Itoa(portsVersion) {
				return fmt.Errorf("unsupported version %q", v)
			}
		case kicadsexp.Symbol("pin_group"):
			c, err := d.Component(field(node, "component"))
			if err != nil {
				return err
			}
			var pins []string
			if p := child(node, "pins"); p != nil {
				for _, s := range p.Items()[1:] {
					pins = append(pins, s.String())
				}
			}
			if _, err := d.mutations.AddGroup(c, pins, field(node, "name")); err != nil {
				return err
			}
		case kicadsexp.Symbol("port_terminal"):
			name := field(node, "name")
			z, err := strconv.ParseFloat(field(node, "impedance"), 64)
			if err != nil {
				return fmt.Errorf("terminal %q: %w", name, err)
			}
			group, ok := d.mutations.GroupNamed(name)
			if !ok {
				return fmt.Errorf("terminal %q: no pin group of that name", name)
			}
			h, err := d.mutations.AddTerminal(group, z)
			if err != nil {
				return err
			}
			terms[name] = h
			if ref := field(node, "reference"); ref != "" {
				links = append(links, link{h, ref})
			}
		}
	}

	for _, lk := range links {
		ref, ok := terms[lk.reference]
		if !ok {
			return fmt.Errorf("reference %q: no terminal of that name", lk.reference)
		}
		if err := d.mutations.Link(lk.signal, ref); err != nil {
			return err
		}
	}
	return nil
}

func child(l *kicadsexp.List, key string) *kicadsexp.List {
	for _, item := range l.Items() {
		if c, ok := item.(*kicadsexp.List); ok && c.Head() == kicadsexp.Symbol(key) {
			return c
		}
	}
	return nil
}

func field(l *kicadsexp.List, key string) string {
	if c := child(l, key); c != nil {
		return atom(c, 1)
	}
	return ""
}

func atom(l *kicadsexp.List, i int) string {
	if s, ok := l.Get(i).(kicadsexp.Symbol); ok {
		return string(s)
	}
	return ""
}
