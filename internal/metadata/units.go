package metadata

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// unitDef scales a unit to its dimension's reference unit as num/den, so that
// sexagesimal factors (1/60, 1/3600) stay exact for whole-number inputs.
type unitDef struct {
	dim string
	num float64
	den float64
}

var unitTable = map[string]unitDef{
	// angle, reference degree
	"deg":       {"angle", 1, 1},
	"degree":    {"angle", 1, 1},
	"degrees":   {"angle", 1, 1},
	"arcmin":    {"angle", 1, 60},
	"arcsec":    {"angle", 1, 3600},
	"mas":       {"angle", 1, 3600e3},
	"uas":       {"angle", 1, 3600e6},
	"rad":       {"angle", 180, math.Pi},
	"mrad":      {"angle", 180, 1e3 * math.Pi},
	"hourangle": {"angle", 15, 1},

	// length, reference metre
	"m":   {"length", 1, 1},
	"km":  {"length", 1e3, 1},
	"cm":  {"length", 1, 1e2},
	"mm":  {"length", 1, 1e3},
	"um":  {"length", 1, 1e6},
	"nm":  {"length", 1, 1e9},
	"AU":  {"length", 149597870700, 1},
	"au":  {"length", 149597870700, 1},
	"pc":  {"length", 3.0856775814913673e16, 1},
	"kpc": {"length", 3.0856775814913673e19, 1},
	"Mpc": {"length", 3.0856775814913673e22, 1},

	// time, reference second
	"s":      {"time", 1, 1},
	"ms":     {"time", 1, 1e3},
	"us":     {"time", 1, 1e6},
	"ns":     {"time", 1, 1e9},
	"min":    {"time", 60, 1},
	"minute": {"time", 60, 1},
	"h":      {"time", 3600, 1},
	"hr":     {"time", 3600, 1},
	"hour":   {"time", 3600, 1},
	"d":      {"time", 86400, 1},
	"day":    {"time", 86400, 1},

	// frequency, reference hertz
	"Hz":  {"frequency", 1, 1},
	"kHz": {"frequency", 1e3, 1},
	"MHz": {"frequency", 1e6, 1},
	"GHz": {"frequency", 1e9, 1},
	"THz": {"frequency", 1e12, 1},

	// temperature (brightness), reference kelvin
	"K":  {"temperature", 1, 1},
	"mK": {"temperature", 1, 1e3},
	"uK": {"temperature", 1, 1e6},

	// flux density, reference jansky
	"Jy":  {"flux", 1, 1},
	"mJy": {"flux", 1, 1e3},
	"uJy": {"flux", 1, 1e6},
}

// Unit is a parsed physical unit: a symbol, or a ratio of two symbols such as km/s.
type Unit struct {
	Symbol string
	dim    string
	num    float64
	den    float64
}

// ParseUnit parses a unit symbol. Whitespace is ignored and a single "/" forms a ratio.
func ParseUnit(s string) (Unit, error) {
	sym := strings.Join(strings.Fields(s), "")
	if sym == "" {
		return Unit{}, fmt.Errorf("empty unit")
	}
	parts := strings.Split(sym, "/")
	switch len(parts) {
	case 1:
		d, ok := unitTable[sym]
		if !ok {
			return Unit{}, fmt.Errorf("unknown unit %q", s)
		}
		return Unit{Symbol: sym, dim: d.dim, num: d.num, den: d.den}, nil
	case 2:
		n, ok := unitTable[parts[0]]
		if !ok {
			return Unit{}, fmt.Errorf("unknown unit %q", parts[0])
		}
		d, ok := unitTable[parts[1]]
		if !ok {
			return Unit{}, fmt.Errorf("unknown unit %q", parts[1])
		}
		return Unit{
			Symbol: sym,
			dim:    n.dim + "/" + d.dim,
			num:    n.num * d.den,
			den:    n.den * d.num,
		}, nil
	default:
		return Unit{}, fmt.Errorf("unsupported compound unit %q", s)
	}
}

// Compatible reports whether u and o measure the same dimension.
func (u Unit) Compatible(o Unit) bool { return u.dim == o.dim }

// Dimension names what the unit measures, e.g. "angle" or "length/time".
func (u Unit) Dimension() string { return u.dim }

// ConvertUnits converts v from one unit to another.
func ConvertUnits(v float64, from, to string) (float64, error) {
	fu, err := ParseUnit(from)
	if err != nil {
		return 0, err
	}
	tu, err := ParseUnit(to)
	if err != nil {
		return 0, err
	}
	if !fu.Compatible(tu) {
		return 0, fmt.Errorf("%s (%s) is not convertible to %s (%s)", fu.Symbol, fu.dim, tu.Symbol, tu.dim)
	}
	if fu.num == tu.num && fu.den == tu.den {
		return v, nil
	}
	return v * fu.num * tu.den / (fu.den * tu.num), nil
}

// Quantity is a number tagged with the unit it is expressed in.
type Quantity struct {
	Value float64
	Unit  string
}

// Q is shorthand for Quantity{Value: v, Unit: unit}.
func Q(v float64, unit string) Quantity {
	return Quantity{Value: v, Unit: unit}
}

// To converts q into unit.
func (q Quantity) To(unit string) (Quantity, error) {
	v, err := ConvertUnits(q.Value, q.Unit, unit)
	if err != nil {
		return Quantity{}, err
	}
	return Quantity{Value: v, Unit: unit}, nil
}

func (q Quantity) String() string {
	return strconv.FormatFloat(q.Value, 'g', -1, 64) + " " + q.Unit
}

// ParseQuantity parses strings such as "97981 MHz", "30min" or "-25 km/s".
func ParseQuantity(s string) (Quantity, error) {
	s = strings.TrimSpace(s)
	i := strings.IndexFunc(s, unicode.IsLetter)
	// Exponent markers belong to the number, not the unit.
	for i > 0 && (s[i] == 'e' || s[i] == 'E') && i+1 < len(s) && strings.ContainsRune("+-0123456789", rune(s[i+1])) {
		j := strings.IndexFunc(s[i+1:], unicode.IsLetter)
		if j < 0 {
			i = -1
			break
		}
		i = i + 1 + j
	}
	if i <= 0 {
		return Quantity{}, fmt.Errorf("parse quantity %q: missing number or unit", s)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s[:i]), 64)
	if err != nil {
		return Quantity{}, fmt.Errorf("parse quantity %q: %w", s, err)
	}
	unit := strings.TrimSpace(s[i:])
	if _, err := ParseUnit(unit); err != nil {
		return Quantity{}, fmt.Errorf("parse quantity %q: %w", s, err)
	}
	return Quantity{Value: v, Unit: unit}, nil
}
