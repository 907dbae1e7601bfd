package pcb

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/OpenTraceLab/OpenTraceEDB/pkg/kicad/sexp/kicadsexp"
)

// MinSupportedVersion is the oldest board format accepted (KiCad 6.0).
const MinSupportedVersion = 20211014

// ParseFile opens and parses a .kicad_pcb file.
func ParseFile(filename string) (*Board, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("pcb: open %s: %w", filename, err)
	}
	defer f.Close()

	board, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return board, nil
}

// Parse reads the first top-level expression of r as a board. Anything
// after the (kicad_pcb ...) form is ignored.
func Parse(r io.Reader) (*Board, error) {
	root, err := kicadsexp.NewParser(r).Next()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("pcb: empty input")
	}
	if err != nil {
		return nil, fmt.Errorf("pcb: %w", err)
	}
	if name, _ := formName(root); name != "kicad_pcb" {
		return nil, fmt.Errorf("pcb: root form is %q, want kicad_pcb", name)
	}

	board := &Board{}
	if board.Version, board.Generator, err = parseHeader(root); err != nil {
		return nil, fmt.Errorf("pcb: header: %w", err)
	}

	// Nets must be known before pads can reference them by number, so
	// footprint forms are held back until the sweep is done.
	var footprintForms []kicadsexp.Sexp
	for _, child := range items(root) {
		if child.IsLeaf() {
			continue
		}
		name, err := formName(child)
		if err != nil {
			continue
		}
		switch name {
		case "general":
			board.General = parseGeneral(child)
		case "layers":
			if board.Layers, err = parseLayers(child); err != nil {
				return nil, fmt.Errorf("pcb: layers: %w", err)
			}
		case "net":
			net, err := parseNet(child)
			if err != nil {
				return nil, fmt.Errorf("pcb: %w", err)
			}
			board.Nets = append(board.Nets, net)
		case "footprint":
			footprintForms = append(footprintForms, child)
		}
	}

	nets := NewNetMap(board.Nets)
	for _, form := range footprintForms {
		fp, err := parseFootprint(form, nets)
		if err != nil {
			return nil, fmt.Errorf("pcb: %w", err)
		}
		board.Footprints = append(board.Footprints, *fp)
	}
	return board, nil
}

// parseHeader returns the format version and the tool that wrote the
// board. KiCad 6 writes (host pcbnew "(6.0.x)"), later versions write
// (generator pcbnew).
func parseHeader(root kicadsexp.Sexp) (int, string, error) {
	vnode, ok := firstForm(root, "version")
	if !ok {
		return 0, "", errors.New("missing version")
	}
	version, err := argInt(vnode, 1)
	if err != nil {
		return 0, "", fmt.Errorf("version: %w", err)
	}
	if version < MinSupportedVersion {
		return 0, "", fmt.Errorf("format version %d predates KiCad 6 (%d)", version, MinSupportedVersion)
	}

	for _, key := range []string{"host", "generator"} {
		if node, ok := firstForm(root, key); ok {
			if tool, err := argString(node, 1); err == nil {
				return version, tool, nil
			}
		}
	}
	return version, "unknown", nil
}

// parseGeneral reads the optional (general ...) block.
func parseGeneral(node kicadsexp.Sexp) General {
	var g General
	if n, ok := firstForm(node, "thickness"); ok {
		g.Thickness, _ = argFloat(n, 1)
	}
	if n, ok := firstForm(node, "title"); ok {
		g.Title, _ = argString(n, 1)
	}
	if n, ok := firstForm(node, "rev"); ok {
		g.Revision, _ = argString(n, 1)
	}
	return g
}

// parseLayers reads (layers (0 "F.Cu" signal) ...). A layer without a
// type is a user layer.
func parseLayers(node kicadsexp.Sexp) ([]Layer, error) {
	var layers []Layer
	for _, entry := range args(node) {
		if entry.IsLeaf() {
			continue
		}
		number, err := argInt(entry, 0)
		if err != nil {
			return nil, fmt.Errorf("layer number: %w", err)
		}
		name, err := argString(entry, 1)
		if err != nil {
			return nil, fmt.Errorf("layer %d name: %w", number, err)
		}
		kind, err := argString(entry, 2)
		if err != nil {
			kind = "user"
		}
		layers = append(layers, Layer{Number: number, Name: name, Type: kind})
	}
	if len(layers) == 0 {
		return nil, errors.New("no layers defined")
	}
	return layers, nil
}

// parseNet reads a top-level (net N "name") declaration. Net 0 is the
// unconnected net and has an empty name.
func parseNet(node kicadsexp.Sexp) (Net, error) {
	number, err := argInt(node, 1)
	if err != nil {
		return Net{}, fmt.Errorf("net number: %w", err)
	}
	name, _ := argString(node, 2)
	return Net{Number: number, Name: name}, nil
}
