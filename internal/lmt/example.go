package lmt

import (
	"time"

	"github.com/toltec-astro/dvpipe/internal/metadata"
)

// timestamp formats t the way the pipeline stamps dates.
func timestamp(t time.Time) string {
	return t.Format("2006-01-02T15:04:05.000000")
}

// Example returns a fully populated group describing a combined SEQUOIA
// reduction of two observations with two spectral bands.
func (c *Catalog) Example(now time.Time) (*metadata.Group, error) {
	g := c.NewGroup()
	stamp := timestamp(now)
	ra, dec := 14.01, -43.21
	lon, lat := Galactic(ra, dec)

	steps := []struct {
		name  string
		value any
		unit  string
	}{
		{"title", "SEQUOIA observations of NGC 5948", ""},
		{"author", map[string]any{
			"authorName":        "Pound, Marc",
			"authorAffiliation": "University of Maryland",
		}, ""},
		{"dsDescription", map[string]any{
			"dsDescriptionValue": "Combined reduction of obsnums 12345, 56783, 42099.",
			"dsDescriptionDate":  stamp,
		}, ""},
		{"subject", "Astronomy and Astrophysics", ""},
		{"datasetContact", map[string]any{
			"datasetContactName":        "Ma, Zhiyuan",
			"datasetContactAffiliation": "University of Massachusetts",
			"datasetContactEmail":       "zhiyuanma@umass.edu",
		}, ""},
		{"depositor", "LMT Pipeline", ""},
		{"dateOfDeposit", stamp, ""},

		{"projectID", "2021-S1-US-3", ""},
		{"projectTitle", "Life, the Universe, and Everything", ""},
		{"PIName", "Marc Pound", ""},
		{"referenceID", "12345_12346_abced", ""},
		{"isCombined", true, ""},
		{"publicDate", stamp, ""},
		{"obsInfo", map[string]any{
			"obsNum":     12345,
			"subObsNum":  88,
			"scanNum":    9999,
			"obsDate":    stamp,
			"intTime":    metadata.Q(30, "min"),
			"opacity225": 0.05,
			"obsGoal":    "SCIENCE",
			"obsComment": "This is an observation comment",
		}, ""},
		{"obsInfo", map[string]any{
			"obsNum":     12346,
			"subObsNum":  89,
			"scanNum":    1111,
			"obsDate":    stamp,
			"intTime":    metadata.Q(20, "min"),
			"opacity225": 0.053,
			"obsGoal":    "SCIENCE",
			"obsComment": "This is another observation comment",
		}, ""},
		{"totalIntTime", 50.0, "minute"},
		{"RA", ra, "deg"},
		{"DEC", dec, "deg"},
		{"galLon", lon, "deg"},
		{"galLat", lat, "deg"},
		{"band", map[string]any{
			"bandNum":         1,
			"bandName":        "OTHER",
			"formula":         "CS",
			"transition":      "2-1",
			"frequencyCenter": metadata.Q(97981, "MHz"),
			"velocityCenter":  300.0,
			"bandwidth":       2.5,
			"beam":            metadata.Q(20, "arcsec"),
			"winrms":          metadata.Q(0.072, "K"),
			"qaGrade":         1,
			"nchan":           1024,
		}, ""},
		{"band", map[string]any{
			"bandNum":         2,
			"bandName":        "OTHER",
			"formula":         "CO",
			"transition":      "1-0",
			"frequencyCenter": metadata.Q(115.2712, "GHz"),
			"velocityCenter":  -25.0,
			"bandwidth":       2.5,
			"beam":            (97.981 / 115.2712) * 20.0 / 3600.0,
			"winrms":          metadata.Q(123, "mK"),
			"qaGrade":         4,
			"nchan":           2048,
		}, ""},
		{"velocity", 321.0, "m/s"},
		{"velDef", "RADIO", ""},
		{"velFrame", "LSR", ""},
		{"velType", "FREQUENCY", ""},
		{"z", 0.001071, ""},
		{"observatory", "LMT", ""},
		{"LMTInstrument", "SEQUOIA", ""},
		{"targetName", "NGC 5948", ""},
		{"calibrationLevel", 1, ""},
		{"processingLevel", 1, ""},
		{"isPolarimetry", false, ""},
		{"halfWavePlateMode", "ABSENT", ""},
		{"pipeVersion", "1.0", ""},
	}
	for _, s := range steps {
		if err := g.SetField(s.name, s.value, s.unit); err != nil {
			return nil, err
		}
	}
	return g, nil
}
