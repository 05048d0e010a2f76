package session

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/toltec-astro/dvpipe/internal/lmt"
	"github.com/toltec-astro/dvpipe/internal/metadata"
)

func catalog(t *testing.T) *lmt.Catalog {
	t.Helper()
	c, err := lmt.Default()
	if err != nil {
		t.Fatalf("lmt.Default: %v", err)
	}
	return c
}

func TestEncode_Header(t *testing.T) {
	c := catalog(t)
	g := c.NewGroup()
	_ = g.SetField("projectID", "2021-S1-US-3", "")

	data, err := Marshal(g)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	out := string(data)
	for _, want := range []string{
		"# LMTData metadata block version 1.2.1\nLMTData:",
		"# citation metadata block version Dataverse 5.12.1\ncitation:",
		"projectID: 2021-S1-US-3",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	v := Versions(data)
	if v["LMTData"] != "1.2.1" || v["citation"] != "Dataverse 5.12.1" {
		t.Errorf("versions = %v", v)
	}
}

func TestRoundTrip_Example(t *testing.T) {
	c := catalog(t)
	g, err := c.Example(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Example: %v", err)
	}
	var buf bytes.Buffer
	if err := Encode(&buf, g); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	h := c.NewGroup()
	if err := Decode(&buf, h); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(h.Flatten(), g.Flatten()) {
		t.Errorf("round trip\n got %#v\nwant %#v", h.Flatten(), g.Flatten())
	}
}

func TestRoundTrip_MultipleValues(t *testing.T) {
	c := catalog(t)
	g := c.NewGroup()
	if err := g.SetField("subject", []string{"Astronomy and Astrophysics", "Physics"}, ""); err != nil {
		t.Fatalf("SetField: %v", err)
	}
	data, err := Marshal(g)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), "subject: [Astronomy and Astrophysics, Physics]") {
		t.Errorf("subject not written as a list:\n%s", data)
	}
	h := c.NewGroup()
	if err := Decode(bytes.NewReader(data), h); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(h.Flatten(), g.Flatten()) {
		t.Errorf("round trip\n got %#v\nwant %#v", h.Flatten(), g.Flatten())
	}
}

func TestDecode_NonFiniteNumber(t *testing.T) {
	g := catalog(t).NewGroup()
	err := Decode(strings.NewReader("LMTData:\n  RA: .nan\n"), g)
	if !errors.Is(err, metadata.ErrStructure) || !strings.Contains(err.Error(), "RA") {
		t.Errorf("err = %v, want structural error naming RA", err)
	}
}

func TestEncode_FieldOrder(t *testing.T) {
	c := catalog(t)
	g := c.NewGroup()
	_ = g.SetField("targetName", "NGC 5948", "")
	_ = g.SetField("projectID", "p", "")
	data, err := Marshal(g)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	out := string(data)
	if strings.Index(out, "projectID") > strings.Index(out, "targetName") {
		t.Errorf("fields not in schema order:\n%s", out)
	}
}

func TestUnmarshal_Errors(t *testing.T) {
	c := catalog(t)
	cases := map[string]struct {
		doc    string
		target error
	}{
		"unknown block": {"geospatial:\n  x: 1\n", metadata.ErrUnknownField},
		"unknown field": {"LMTData:\n  foobar: 1\n", metadata.ErrUnknownField},
		"vocabulary":    {"LMTData:\n  velFrame: Galactic\n", metadata.ErrVocabulary},
		"malformed":     {"LMTData: [1, 2\n", metadata.ErrStructure},
		"not a mapping": {"- 1\n- 2\n", metadata.ErrStructure},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := Unmarshal([]byte(tc.doc), c.NewGroup())
			if !errors.Is(err, tc.target) {
				t.Errorf("err = %v, want %v", err, tc.target)
			}
		})
	}
}
