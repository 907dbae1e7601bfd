package pcb

// Board represents the connectivity-relevant parts of a KiCad PCB.
type Board struct {
	Version    int         // File format version
	Generator  string      // Generator info (e.g., "pcbnew")
	General    General     // General board properties
	Layers     []Layer     // Layer definitions
	Nets       []Net       // Electrical nets
	Footprints []Footprint // Component footprints
}

// General contains general board properties
type General struct {
	Thickness float64 // Board thickness in mm
	Title     string  // Board title
	Revision  string  // Board revision
}

// Position is a point in board millimetres.
type Position struct {
	X, Y float64
}

// PositionAngle is a position with rotation in degrees.
type PositionAngle struct {
	Position
	Angle float64
}

// Size is a pad size in millimetres.
type Size struct {
	Width, Height float64
}

// Layer represents a PCB layer
type Layer struct {
	Number int    // Layer number (ordinal)
	Name   string // Layer name (e.g., "F.Cu", "B.Cu", "F.SilkS")
	Type   string // Layer type (e.g., "signal", "user")
}

// Net represents an electrical net
type Net struct {
	Number int    // Net number (ordinal), -1 when only referenced by name
	Name   string // Net name
}

// LayerSet represents a set of layers
type LayerSet []string

// Footprint represents a component footprint
type Footprint struct {
	Library   string        // Library name
	Name      string        // Footprint name
	Layer     string        // Layer (F.Cu or B.Cu typically)
	Position  PositionAngle // Position and rotation
	Pads      []Pad         // Pads
	Reference string        // Reference designator (e.g., "R1")
	Value     string        // Component value
}

// Pad represents a footprint pad
type Pad struct {
	Number   string        // Pad number/name
	Type     string        // Pad type (thru_hole, smd, etc.)
	Shape    string        // Pad shape (circle, rect, oval, etc.)
	Position PositionAngle // Position and rotation
	Size     Size          // Pad size
	Layers   LayerSet      // Layers the pad appears on
	Net      *Net          // Connected net (nil when unconnected)
}

// NetMap provides efficient lookup of nets by number or name
type NetMap struct {
	byNumber map[int]*Net
	byName   map[string]*Net
}

// NewNetMap creates a NetMap from a slice of nets
func NewNetMap(nets []Net) *NetMap {
	nm := &NetMap{
		byNumber: make(map[int]*Net),
		byName:   make(map[string]*Net),
	}

	for i := range nets {
		net := &nets[i]
		nm.byNumber[net.Number] = net
		// Only index non-empty names
		if net.Name != "" {
			nm.byName[net.Name] = net
		}
	}

	return nm
}

// GetByName retrieves a net by its name (e.g., "GND", "+5V")
func (nm *NetMap) GetByName(name string) (*Net, bool) {
	net, ok := nm.byName[name]
	return net, ok
}

// GetByNumber retrieves a net by its number
func (nm *NetMap) GetByNumber(num int) (*Net, bool) {
	net, ok := nm.byNumber[num]
	return net, ok
}

// IsUnconnected checks if a net number represents an unconnected net
// In KiCad, net 0 is reserved for unconnected pins
func (nm *NetMap) IsUnconnected(num int) bool {
	return num == 0
}

// FootprintByReference returns the first footprint with the given reference.
func (b *Board) FootprintByReference(ref string) (*Footprint, bool) {
	for i := range b.Footprints {
		if b.Footprints[i].Reference == ref {
			return &b.Footprints[i], true
		}
	}
	return nil, false
}
