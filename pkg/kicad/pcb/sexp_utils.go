package pcb

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/OpenTraceLab/OpenTraceEDB/pkg/kicad/sexp/kicadsexp"
)

// A form is a list whose head symbol names it, e.g. (at 10 20 90).
// Argument index 0 is the head, so arguments start at 1.

// items returns the elements of a list node, or nil for atoms.
func items(s kicadsexp.Sexp) []kicadsexp.Sexp {
	if l, ok := s.(*kicadsexp.List); ok {
		return l.Items()
	}
	return nil
}

// firstForm returns the first direct child form named key.
func firstForm(s kicadsexp.Sexp, key string) (kicadsexp.Sexp, bool) {
	for _, item := range items(s) {
		if isForm(item, key) {
			return item, true
		}
	}
	return nil, false
}

// allForms returns every direct child form named key, in file order.
func allForms(s kicadsexp.Sexp, key string) []kicadsexp.Sexp {
	var out []kicadsexp.Sexp
	for _, item := range items(s) {
		if isForm(item, key) {
			out = append(out, item)
		}
	}
	return out
}

func isForm(s kicadsexp.Sexp, key string) bool {
	name, err := formName(s)
	return err == nil && !s.IsLeaf() && name == key
}

// args returns a form's arguments without its head.
func args(s kicadsexp.Sexp) []kicadsexp.Sexp {
	if all := items(s); len(all) > 1 {
		return all[1:]
	}
	return nil
}

func argString(s kicadsexp.Sexp, index int) (string, error) {
	all := items(s)
	if all == nil {
		return "", errors.New("not a list")
	}
	if index < 0 || index >= len(all) {
		return "", fmt.Errorf("missing argument %d", index)
	}
	sym, ok := all[index].(kicadsexp.Symbol)
	if !ok {
		return "", fmt.Errorf("argument %d is a list", index)
	}
	return string(sym), nil
}

func argFloat(s kicadsexp.Sexp, index int) (float64, error) {
	str, err := argString(s, index)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return 0, fmt.Errorf("argument %d: %q is not a number", index, str)
	}
	return v, nil
}

func argInt(s kicadsexp.Sexp, index int) (int, error) {
	str, err := argString(s, index)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(str)
	if err != nil {
		return 0, fmt.Errorf("argument %d: %q is not an integer", index, str)
	}
	return v, nil
}

// parseAt reads (at X Y [angle]).
func parseAt(s kicadsexp.Sexp) (PositionAngle, error) {
	if !isForm(s, "at") {
		return PositionAngle{}, errors.New("expected (at ...)")
	}
	var pa PositionAngle
	var err error
	if pa.X, err = argFloat(s, 1); err != nil {
		return PositionAngle{}, fmt.Errorf("x: %w", err)
	}
	if pa.Y, err = argFloat(s, 2); err != nil {
		return PositionAngle{}, fmt.Errorf("y: %w", err)
	}
	if angle, err := argFloat(s, 3); err == nil {
		pa.Angle = angle
	}
	return pa, nil
}

// formName returns the head symbol of a list, or the atom itself.
func formName(s kicadsexp.Sexp) (string, error) {
	switch v := s.(type) {
	case kicadsexp.Symbol:
		return string(v), nil
	case *kicadsexp.List:
		if sym, ok := v.Head().(kicadsexp.Symbol); ok {
			return string(sym), nil
		}
		return "", errors.New("list has no head symbol")
	}
	return "", errors.New("nil node")
}
