package index

import (
	"io"
	"strconv"

	"github.com/OpenTraceLab/OpenTraceEDB/pkg/kicad/sexp/kicadsexp"
)

// WriteKiCadNetlist exports the snapshot as a KiCad netlist (export version
// D): one comp per component and one net per connected net, with numeric
// codes in name order.
func (s *Snapshot) WriteKiCadNetlist(w io.Writer, source string) error {
	sym := func(v string) kicadsexp.Sexp { return kicadsexp.Symbol(v) }
	node := func(key string, vals ...kicadsexp.Sexp) *kicadsexp.List {
		return kicadsexp.NewList(append([]kicadsexp.Sexp{sym(key)}, vals...)...)
	}

	typeOf := make(map[string]string, len(s.CompPins))
	for t, comps := range s.TypeComp {
		for _, c := range comps {
			typeOf[c] = t
		}
	}

	components := node("components")
	for _, c := range s.Components() {
		components.Append(node("comp",
			node("ref", sym(c)),
			node("value", sym(typeOf[c])),
		))
	}

	nets := node("nets")
	for i, n := range sortedKeys(s.NetPins) {
		net := node("net", node("code", sym(strconv.Itoa(i+1))), node("name", sym(n)))
		if class, ok := s.ClassOf(n); ok {
			net.Append(node("class", sym(string(class))))
		}
		for _, r := range s.NetPins[n] {
			net.Append(node("node", node("ref", sym(r.Component)), node("pin", sym(r.Pin))))
		}
		nets.Append(net)
	}

	root := node("export",
		node("version", sym("D")),
		node("design", node("source", sym(source)), node("tool", sym("otedb"))),
		components,
		nets,
	)
	return kicadsexp.Write(w, root)
}
