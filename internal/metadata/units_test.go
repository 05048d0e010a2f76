package metadata

import (
	"math"
	"testing"
)

func TestConvertUnits(t *testing.T) {
	cases := []struct {
		v        float64
		from, to string
		want     float64
	}{
		{50400, "arcsec", "deg", 14},
		{30, "arcmin", "deg", 0.5},
		{1, "hourangle", "deg", 15},
		{math.Pi, "rad", "deg", 180},
		{97981, "MHz", "GHz", 97.981},
		{90, "min", "h", 1.5},
		{-25, "km/s", "m/s", -25000},
		{1, "pc", "AU", 206264.80624709636},
		{250, "mK", "K", 0.25},
		{7, "deg", "deg", 7},
	}
	for _, c := range cases {
		got, err := ConvertUnits(c.v, c.from, c.to)
		if err != nil {
			t.Errorf("ConvertUnits(%v, %s, %s): %v", c.v, c.from, c.to, err)
			continue
		}
		if math.Abs(got-c.want) > 1e-9*math.Max(1, math.Abs(c.want)) {
			t.Errorf("ConvertUnits(%v, %s, %s) = %v, want %v", c.v, c.from, c.to, got, c.want)
		}
	}
}

func TestConvertUnits_Errors(t *testing.T) {
	for _, c := range [][2]string{{"deg", "GHz"}, {"furlong", "m"}, {"m", ""}, {"km/s/s", "m"}, {"km/s", "km"}} {
		if _, err := ConvertUnits(1, c[0], c[1]); err == nil {
			t.Errorf("ConvertUnits(1, %q, %q) should fail", c[0], c[1])
		}
	}
}

func TestParseQuantity(t *testing.T) {
	cases := []struct {
		in   string
		want Quantity
	}{
		{"97981 MHz", Q(97981, "MHz")},
		{"30min", Q(30, "min")},
		{"-25 km/s", Q(-25, "km/s")},
		{"1e3 GHz", Q(1000, "GHz")},
		{"2.5E-1 deg", Q(0.25, "deg")},
	}
	for _, c := range cases {
		got, err := ParseQuantity(c.in)
		if err != nil {
			t.Errorf("ParseQuantity(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseQuantity(%q) = %+v, want %+v", c.in, got, c.want)
		}
	}
	for _, in := range []string{"", "MHz", "12", "12 parsecs", "LSR"} {
		if _, err := ParseQuantity(in); err == nil {
			t.Errorf("ParseQuantity(%q) should fail", in)
		}
	}
}

func TestQuantity_To(t *testing.T) {
	q, err := Q(3600, "arcsec").To("deg")
	if err != nil {
		t.Fatalf("To: %v", err)
	}
	if q.Value != 1 || q.Unit != "deg" {
		t.Errorf("q = %v", q)
	}
	if s := Q(1.5, "GHz").String(); s != "1.5 GHz" {
		t.Errorf("String = %q", s)
	}
}
