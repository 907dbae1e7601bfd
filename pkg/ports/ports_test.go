package ports

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/OpenTraceLab/OpenTraceEDB/pkg/design"
	"github.com/OpenTraceLab/OpenTraceEDB/pkg/faults"
	"github.com/OpenTraceLab/OpenTraceEDB/pkg/index"
)

func scenario() *design.MemoryDesign {
	return design.NewMemoryDesign().
		AddNet("GND", true).
		AddNet("CLK", false).
		AddNet("NC", false).
		AddComponent("U1", "IC",
			design.NewPin("1", "GND"), design.NewPin("2", "CLK"), design.NewPin("3", ""), design.NewPin("4", "GND")).
		AddComponent("U2", "IC", design.NewPin("1", "GND"), design.NewPin("2", "CLK"))
}

func z(v float64) *float64 { return &v }

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		in      string
		want    Endpoint
		wantErr bool
	}{
		{in: "(U1,CLK)", want: Endpoint{"U1", "CLK"}},
		{in: "(U1, CLK)", want: Endpoint{"U1", "CLK"}},
		{in: "  ( J2L1 ,  GPIO_SUS3_PCIE_RESET_N )  ", want: Endpoint{"J2L1", "GPIO_SUS3_PCIE_RESET_N"}},
		{in: "(U1, Net A)", want: Endpoint{"U1", "Net A"}},
		{in: "(U1, A,B)", want: Endpoint{"U1", "A,B"}},
		{in: "(U1, +3V3)", want: Endpoint{"U1", "+3V3"}},
		{in: "", wantErr: true},
		{in: "U1, CLK", wantErr: true},
		{in: "(U1 CLK)", wantErr: true},
		{in: "(U1,)", wantErr: true},
		{in: "(U1,   )", wantErr: true},
		{in: "(, CLK)", wantErr: true},
		{in: "(U 1, CLK)", wantErr: true},
		{in: "(U1, CLK", wantErr: true},
		{in: "(U1, CLK) x", wantErr: true},
		{in: "(U1, F(x))", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEndpoint(tt.in)
			if tt.wantErr {
				if !errors.Is(err, faults.ErrValidation) {
					t.Fatalf("ParseEndpoint(%q) err = %v, want validation error", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseEndpoint(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseEndpoint(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestEndpointStringRoundTrip(t *testing.T) {
	ep := Endpoint{"U7", "DDR DQ0"}
	got, err := ParseEndpoint(ep.String())
	if err != nil || got != ep {
		t.Errorf("round trip = %+v, %v", got, err)
	}
}

func TestEnsureTerminalDedupe(t *testing.T) {
	d := scenario()
	r := NewResolver(d)

	a, err := r.EnsureTerminal("U1", "GND", 50)
	if err != nil {
		t.Fatalf("EnsureTerminal: %v", err)
	}
	b, err := r.EnsureTerminal("U1", "GND", 75)
	if err != nil {
		t.Fatalf("second EnsureTerminal: %v", err)
	}
	if a != b {
		t.Fatal("same key must return the same terminal")
	}
	if b.Impedance != 50 {
		t.Errorf("impedance = %v, first value must win", b.Impedance)
	}

	c, err := r.EnsureTerminal("U1", "CLK", 50)
	if err != nil {
		t.Fatal(err)
	}
	if c == a || c.Handle == a.Handle {
		t.Error("different nets must give distinct terminals")
	}

	if n := len(d.Terminals()); n != 2 {
		t.Errorf("engine terminals = %d, want 2", n)
	}
	groups := d.PinGroups()
	if groups[0].Name != "port_U1_GND" || strings.Join(groups[0].Pins, ",") != "1,4" {
		t.Errorf("first group = %+v", groups[0])
	}
}

func TestEnsureTerminalCollidingGroupNames(t *testing.T) {
	d := design.NewMemoryDesign().
		AddNet("A_B", false).
		AddNet("B", false).
		AddComponent("U1", "IC", design.NewPin("1", "A_B")).
		AddComponent("U1_A", "IC", design.NewPin("1", "B"))
	r := NewResolver(d)

	a, err := r.EnsureTerminal("U1", "A_B", 50)
	if err != nil {
		t.Fatalf("EnsureTerminal(U1, A_B): %v", err)
	}
	b, err := r.EnsureTerminal("U1_A", "B", 50)
	if err != nil {
		t.Fatalf("EnsureTerminal(U1_A, B): %v", err)
	}
	if a.Handle == b.Handle || a.Group == b.Group {
		t.Errorf("distinct pairs share engine objects: %+v %+v", a, b)
	}
	groups := d.PinGroups()
	if len(groups) != 2 || groups[0].Name != "port_U1_A_B" || groups[1].Name != "port_U1_A_B_2" {
		t.Errorf("groups = %+v", groups)
	}
	if groups[1].Component != "U1_A" {
		t.Errorf("second group component = %q", groups[1].Component)
	}
}

func TestEnsureTerminalErrors(t *testing.T) {
	r := NewResolver(scenario())

	if _, err := r.EnsureTerminal("U9", "GND", 50); !errors.Is(err, faults.ErrNotFound) {
		t.Errorf("unknown component err = %v", err)
	}
	if _, err := r.EnsureTerminal("U1", "SDA", 50); !errors.Is(err, faults.ErrNotFound) {
		t.Errorf("unknown net err = %v", err)
	}
	if _, err := r.EnsureTerminal("U1", "NC", 50); !errors.Is(err, faults.ErrValidation) {
		t.Errorf("unconnected pair err = %v", err)
	}
	if len(r.Terminals()) != 0 {
		t.Error("failures must not create terminals")
	}
}

func TestStrictImpedance(t *testing.T) {
	r := NewResolver(scenario(), WithStrictImpedance(true))
	if _, err := r.EnsureTerminal("U1", "GND", 50); err != nil {
		t.Fatal(err)
	}
	if _, err := r.EnsureTerminal("U1", "GND", 50); err != nil {
		t.Errorf("same impedance should be accepted: %v", err)
	}
	if _, err := r.EnsureTerminal("U1", "GND", 75); !errors.Is(err, faults.ErrConflict) {
		t.Errorf("err = %v, want conflict", err)
	}
}

func TestResolvePort(t *testing.T) {
	r := NewResolver(scenario())

	p, err := r.ResolvePort(Spec{Name: "P1", Pos: "(U1,CLK)", Neg: "(U1,GND)"})
	if err != nil {
		t.Fatalf("ResolvePort: %v", err)
	}
	if p.Signal.Key != (Endpoint{"U1", "CLK"}) || p.Reference.Key != (Endpoint{"U1", "GND"}) {
		t.Errorf("port = %+v / %+v", p.Signal, p.Reference)
	}
	if p.Signal.Impedance != DefaultImpedance {
		t.Errorf("default impedance = %v", p.Signal.Impedance)
	}

	_, err = r.ResolvePort(Spec{Name: "P2", Pos: "(U2, GND)", Neg: " (U2,GND) "})
	if !errors.Is(err, faults.ErrValidation) {
		t.Errorf("same key err = %v, want validation", err)
	}

	for _, bad := range []float64{0, -50, math.NaN(), math.Inf(1)} {
		_, err := r.ResolvePort(Spec{Name: "P3", Pos: "(U2,CLK)", Neg: "(U2,GND)", Impedance: z(bad)})
		if !errors.Is(err, faults.ErrValidation) {
			t.Errorf("impedance %v err = %v, want validation", bad, err)
		}
	}

	if _, err := r.ResolvePort(Spec{Pos: "(U2,CLK)", Neg: "(U2,GND)"}); !errors.Is(err, faults.ErrValidation) {
		t.Errorf("missing name err = %v", err)
	}
}

func TestResolveAllReusesTerminal(t *testing.T) {
	d := scenario()
	r := NewResolver(d)

	ports, err := r.ResolveAll([]Spec{
		{Name: "P1", Pos: "(U1,CLK)", Neg: "(U1,GND)", Impedance: z(50)},
		{Name: "P2", Pos: "(U1,GND)", Neg: "(U2,GND)"},
	})
	if err != nil {
		t.Fatalf("ResolveAll: %v", err)
	}
	if ports[1].Signal != ports[0].Reference {
		t.Fatal("second port must reuse the first port's reference terminal")
	}
	if len(r.Terminals()) != 3 || len(d.Terminals()) != 3 {
		t.Errorf("terminals = %d resolver, %d engine; want 3", len(r.Terminals()), len(d.Terminals()))
	}

	refs := make(map[design.Handle]design.Handle)
	for _, term := range d.Terminals() {
		refs[term.Handle] = term.Reference
	}
	if refs[ports[0].Signal.Handle] != ports[0].Reference.Handle {
		t.Error("P1 reference not linked")
	}
	if refs[ports[1].Signal.Handle] != ports[1].Reference.Handle {
		t.Error("P2 reference not linked")
	}
}

func TestResolveAllSyntaxFirst(t *testing.T) {
	d := scenario()
	r := NewResolver(d)

	_, err := r.ResolveAll([]Spec{
		{Name: "P1", Pos: "(U1,CLK)", Neg: "(U1,GND)"},
		{Name: "P2", Pos: "U1 CLK", Neg: "(U1,GND)"},
	})
	if !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
	if pos, ok := faults.PositionOf(err); !ok || pos != 1 {
		t.Errorf("position = %d, %v; want 1", pos, ok)
	}
	if len(d.Terminals()) != 0 {
		t.Error("a syntax error must stop the batch before any terminal is created")
	}
}

func TestResolveAllPositions(t *testing.T) {
	_, err := NewResolver(scenario()).ResolveAll([]Spec{
		{Name: "P1", Pos: "(U1,CLK)", Neg: "(U1,GND)"},
		{Name: "P2", Pos: "(U1,CLK)", Neg: "(U9,GND)"},
	})
	if !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
	if pos, _ := faults.PositionOf(err); pos != 1 {
		t.Errorf("position = %d, want 1", pos)
	}
	if !strings.Contains(err.Error(), `"P2"`) {
		t.Errorf("message should name the port: %v", err)
	}

	if _, err := NewResolver(scenario()).ResolveAll(nil); !errors.Is(err, faults.ErrValidation) {
		t.Errorf("empty batch err = %v", err)
	}
}

func TestResolveAllLinkFailure(t *testing.T) {
	d := scenario()
	calls := 0
	d.OnSetReference = func(signal, reference design.Handle) error {
		calls++
		if calls == 2 {
			return errors.New("link rejected")
		}
		return nil
	}

	_, err := NewResolver(d).ResolveAll([]Spec{
		{Name: "P1", Pos: "(U1,CLK)", Neg: "(U1,GND)"},
		{Name: "P2", Pos: "(U2,CLK)", Neg: "(U2,GND)"},
		{Name: "P3", Pos: "(U2,GND)", Neg: "(U1,GND)"},
	})
	if !errors.Is(err, faults.ErrEngine) {
		t.Fatalf("err = %v, want engine error", err)
	}
	if pos, _ := faults.PositionOf(err); pos != 1 {
		t.Errorf("position = %d, want 1", pos)
	}
	if !strings.Contains(err.Error(), "P2") {
		t.Errorf("message should name P2: %v", err)
	}
	if len(d.Terminals()) != 4 {
		t.Errorf("all ports resolve before linking; terminals = %d", len(d.Terminals()))
	}
}

func TestValidate(t *testing.T) {
	snap, err := index.Extract(scenario())
	if err != nil {
		t.Fatal(err)
	}

	if err := Validate([]Spec{{Name: "P1", Pos: "(U1,CLK)", Neg: "(U1,GND)"}}, snap); err != nil {
		t.Errorf("valid specs: %v", err)
	}

	tests := []struct {
		name  string
		specs []Spec
		kind  faults.Kind
		pos   int
	}{
		{"syntax", []Spec{{Name: "P1", Pos: "(U1,CLK)", Neg: "(U1,GND)"}, {Name: "P2", Pos: "bad", Neg: "(U1,GND)"}}, faults.KindValidation, 1},
		{"component", []Spec{{Name: "P1", Pos: "(U9,CLK)", Neg: "(U1,GND)"}}, faults.KindNotFound, 0},
		{"net", []Spec{{Name: "P1", Pos: "(U1,CLK)", Neg: "(U1,VCC)"}}, faults.KindNotFound, 0},
		{"unconnected", []Spec{{Name: "P1", Pos: "(U1,NC)", Neg: "(U1,GND)"}}, faults.KindValidation, 0},
		{"same key", []Spec{{Name: "P1", Pos: "(U1,GND)", Neg: "(U1, GND)"}}, faults.KindValidation, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.specs, snap)
			if got := faults.KindOf(err); got != tt.kind {
				t.Fatalf("kind = %q (%v), want %q", got, err, tt.kind)
			}
			if pos, ok := faults.PositionOf(err); !ok || pos != tt.pos {
				t.Errorf("position = %d, %v; want %d", pos, ok, tt.pos)
			}
		})
	}
}

func TestLoadSpecs(t *testing.T) {
	yamlDoc := `
ports:
  - port_name: P1
    pos: "(U1, CLK)"
    neg: "(U1, GND)"
    z0: 75
  - port_name: P2
    pos: "(U2, CLK)"
    neg: "(U2, GND)"
`
	specs, err := LoadSpecs(strings.NewReader(yamlDoc))
	if err != nil {
		t.Fatalf("LoadSpecs(yaml): %v", err)
	}
	if len(specs) != 2 || specs[0].Impedance == nil || *specs[0].Impedance != 75 || specs[1].Impedance != nil {
		t.Errorf("specs = %+v", specs)
	}

	jsonDoc := `[{"port_name": "P1", "pos": "(U1,CLK)", "neg": "(U1,GND)", "z0": 50}]`
	specs, err = LoadSpecs(strings.NewReader(jsonDoc))
	if err != nil {
		t.Fatalf("LoadSpecs(json): %v", err)
	}
	if len(specs) != 1 || specs[0].Neg != "(U1,GND)" {
		t.Errorf("specs = %+v", specs)
	}

	if _, err := LoadSpecs(strings.NewReader("  ")); !errors.Is(err, faults.ErrValidation) {
		t.Errorf("empty file err = %v", err)
	}
	if _, err := LoadSpecs(strings.NewReader("ports: [")); err == nil {
		t.Error("malformed yaml should fail")
	}
}
