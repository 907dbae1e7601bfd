package index

import (
	"sort"

	"github.com/OpenTraceLab/OpenTraceEDB/pkg/design"
	"github.com/OpenTraceLab/OpenTraceEDB/pkg/faults"
)

// Extract reads every component and net from r and builds a Snapshot.
// It never mutates the design.
//
// Pins without a net are recorded with an absent net. Nets are classified
// once from the engine flag; a net that only appears on pins is a signal net.
// Components are listed in name order within each type, and each net lists
// its pins by component name, then pin order.
func Extract(r design.Reader) (*Snapshot, error) {
	comps, err := r.Components()
	if err != nil {
		return nil, faults.Wrap(faults.KindEngine, err, "index: read components")
	}
	nets, err := r.Nets()
	if err != nil {
		return nil, faults.Wrap(faults.KindEngine, err, "index: read nets")
	}

	s := newSnapshot()

	classified := make(map[string]bool, len(nets))
	classify := func(name string, power bool) {
		if classified[name] {
			return
		}
		classified[name] = true
		c := ClassSignal
		if power {
			c = ClassPower
		}
		s.TypeNet[c] = append(s.TypeNet[c], name)
		if _, ok := s.NetPins[name]; !ok {
			s.NetPins[name] = []PinRef{}
		}
	}
	for _, n := range nets {
		if n.Name == "" {
			continue
		}
		classify(n.Name, n.PowerGround)
	}

	sorted := append([]design.Component(nil), comps...)
	design.SortComponents(sorted)

	for _, c := range sorted {
		if _, dup := s.CompPins[c.Name]; dup {
			continue
		}
		s.TypeComp[c.Type] = append(s.TypeComp[c.Type], c.Name)

		pins := []string{}
		pinNet := make(map[string]*string, len(c.Pins))
		for _, p := range c.Pins {
			if _, dup := pinNet[p.Name]; dup {
				continue
			}
			pins = append(pins, p.Name)
			net, ok := p.NetName()
			if !ok || net == "" {
				pinNet[p.Name] = nil
				continue
			}
			n := net
			pinNet[p.Name] = &n
			classify(net, false)
			s.NetPins[net] = append(s.NetPins[net], PinRef{Component: c.Name, Pin: p.Name})
		}
		s.CompPins[c.Name] = pins
		s.PinNet[c.Name] = pinNet
	}

	for c := range s.TypeNet {
		sort.Strings(s.TypeNet[c])
	}
	return s, nil
}
