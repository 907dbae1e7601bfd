package pcb

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/OpenTraceLab/OpenTraceEDB/pkg/kicad/sexp/kicadsexp"
)

// parseFootprint reads one (footprint "lib:name" ...) form.
func parseFootprint(node kicadsexp.Sexp, nets *NetMap) (*Footprint, error) {
	id, err := argString(node, 1)
	if err != nil {
		return nil, fmt.Errorf("footprint id: %w", err)
	}
	fp := &Footprint{Name: id}
	if lib, name, ok := strings.Cut(id, ":"); ok && lib != "" {
		fp.Library, fp.Name = lib, name
	}

	if n, ok := firstForm(node, "layer"); ok {
		fp.Layer, _ = argString(n, 1)
	}
	if n, ok := firstForm(node, "at"); ok {
		if fp.Position, err = parseAt(n); err != nil {
			return nil, fmt.Errorf("footprint %s position: %w", id, err)
		}
	}

	readDesignators(node, fp)

	for i, n := range allForms(node, "pad") {
		pad, err := parsePad(n, nets)
		if err != nil {
			return nil, fmt.Errorf("footprint %s pad #%d: %w", id, i+1, err)
		}
		fp.Pads = append(fp.Pads, *pad)
	}
	return fp, nil
}

// readDesignators fills Reference and Value. KiCad 8 stores them as
// (property "Reference" "U1"), KiCad 6 and 7 as (fp_text reference "U1").
// Properties win when both are present.
func readDesignators(node kicadsexp.Sexp, fp *Footprint) {
	set := func(key, text string) {
		switch strings.ToLower(key) {
		case "reference":
			if fp.Reference == "" {
				fp.Reference = text
			}
		case "value":
			if fp.Value == "" {
				fp.Value = text
			}
		}
	}
	for _, key := range []string{"property", "fp_text"} {
		for _, n := range allForms(node, key) {
			k, err1 := argString(n, 1)
			text, err2 := argString(n, 2)
			if err1 == nil && err2 == nil {
				set(k, text)
			}
		}
	}
}

// parsePad reads (pad "1" smd rect (at x y) (size w h) (layers ...) (net ...)).
func parsePad(node kicadsexp.Sexp, nets *NetMap) (*Pad, error) {
	pad := &Pad{}
	var err error
	if pad.Number, err = argString(node, 1); err != nil {
		return nil, fmt.Errorf("number: %w", err)
	}
	if pad.Type, err = argString(node, 2); err != nil {
		return nil, fmt.Errorf("type: %w", err)
	}
	pad.Shape, _ = argString(node, 3)

	if n, ok := firstForm(node, "at"); ok {
		if pad.Position, err = parseAt(n); err != nil {
			return nil, fmt.Errorf("position: %w", err)
		}
	}
	if n, ok := firstForm(node, "size"); ok {
		if pad.Size.Width, err = argFloat(n, 1); err != nil {
			return nil, fmt.Errorf("width: %w", err)
		}
		if pad.Size.Height, err = argFloat(n, 2); err != nil {
			return nil, fmt.Errorf("height: %w", err)
		}
	}
	if n, ok := firstForm(node, "layers"); ok {
		for _, item := range args(n) {
			if sym, ok := item.(kicadsexp.Symbol); ok && sym != "" {
				pad.Layers = append(pad.Layers, string(sym))
			}
		}
	}
	if n, ok := firstForm(node, "net"); ok {
		pad.Net = padNet(n, nets)
	}
	return pad, nil
}

// padNet resolves (net 3 "CLK") and the name-only (net "CLK"). Net 0 and
// an empty name mean the pad is unconnected.
func padNet(node kicadsexp.Sexp, nets *NetMap) *Net {
	first, err := argString(node, 1)
	if err != nil || first == "" {
		return nil
	}
	num, err := strconv.Atoi(first)
	if err != nil {
		if net, ok := nets.GetByName(first); ok {
			return net
		}
		return &Net{Number: -1, Name: first}
	}
	if nets.IsUnconnected(num) {
		return nil
	}
	if net, ok := nets.GetByNumber(num); ok {
		return net
	}
	if name, err := argString(node, 2); err == nil && name != "" {
		return &Net{Number: num, Name: name}
	}
	return nil
}
