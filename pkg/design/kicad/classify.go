package kicad

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// DefaultPowerNets are the name patterns that mark a net as power/ground.
var DefaultPowerNets = []string{
	`(?i)GND`,
	`(?i)VCC`,
	`(?i)VDD`,
	`(?i)VSS`,
	`(?i)VBAT`,
	`(?i)VREF`,
	`^[+-]`,
}

// PowerClassifier decides whether a net name denotes a power or ground rail.
type PowerClassifier struct {
	patterns []*regexp.Regexp
}

// NewPowerClassifier compiles patterns. An empty list selects
// DefaultPowerNets.
func NewPowerClassifier(patterns []string) (*PowerClassifier, error) {
	if len(patterns) == 0 {
		patterns = DefaultPowerNets
	}
	pc := &PowerClassifier{}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("kicad: power net pattern %q: %w", p, err)
		}
		pc.patterns = append(pc.patterns, re)
	}
	return pc, nil
}

// IsPower reports whether name matches any pattern.
func (pc *PowerClassifier) IsPower(name string) bool {
	for _, re := range pc.patterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// Component type tags.
const (
	TypeIC         = "IC"
	TypeResistor   = "Resistor"
	TypeCapacitor  = "Capacitor"
	TypeInductor   = "Inductor"
	TypeDiode      = "Diode"
	TypeTransistor = "Transistor"
	TypeIO         = "IO"
	TypeOther      = "Other"
)

var prefixTypes = map[string]string{
	"U":   TypeIC,
	"IC":  TypeIC,
	"R":   TypeResistor,
	"RN":  TypeResistor,
	"C":   TypeCapacitor,
	"L":   TypeInductor,
	"FB":  TypeInductor,
	"D":   TypeDiode,
	"LED": TypeDiode,
	"Q":   TypeTransistor,
	"J":   TypeIO,
	"P":   TypeIO,
	"CN":  TypeIO,
}

// ComponentType derives a type tag from a reference designator prefix
// ("U12" -> IC, "R3" -> Resistor).
func ComponentType(reference string) string {
	end := strings.IndexFunc(reference, func(r rune) bool { return !unicode.IsLetter(r) })
	if end < 0 {
		end = len(reference)
	}
	if t, ok := prefixTypes[strings.ToUpper(reference[:end])]; ok {
		return t
	}
	return TypeOther
}
