package index

import (
	"github.com/OpenTraceLab/OpenTraceEDB/pkg/faults"
)

// CommonComponents returns the components that touch every net in nets,
// sorted by name. The result does not depend on the order of nets. An
// unknown net matches no component, so it empties the result. Unconnected
// pins never match a net.
func CommonComponents(s *Snapshot, nets []string) ([]string, error) {
	if len(nets) == 0 {
		return nil, faults.Validationf("at least one net is required")
	}

	out := s.ComponentsOn(nets[0])
	for _, net := range nets[1:] {
		if len(out) == 0 {
			break
		}
		on := make(map[string]bool)
		for _, c := range s.ComponentsOn(net) {
			on[c] = true
		}
		kept := out[:0]
		for _, c := range out {
			if on[c] {
				kept = append(kept, c)
			}
		}
		out = kept
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}
