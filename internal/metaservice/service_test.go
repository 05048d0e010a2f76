package metaservice

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/toltec-astro/dvpipe/internal/apperr"
	"github.com/toltec-astro/dvpipe/internal/lmt"
	"github.com/toltec-astro/dvpipe/internal/metadata"
	"github.com/toltec-astro/dvpipe/internal/models"
	"github.com/toltec-astro/dvpipe/internal/pipeline"
	"github.com/toltec-astro/dvpipe/internal/testutil"
)

func newService(t *testing.T) (*Service, *pipeline.IndexStore) {
	t.Helper()
	_, store := testutil.TestStore(t)
	indices := pipeline.NewIndexStore(store)
	return NewService(testutil.Catalog(t), indices, nil), indices
}

func TestBlocks(t *testing.T) {
	svc, _ := newService(t)
	blocks := svc.Blocks(context.Background())
	if len(blocks) != 2 {
		t.Fatalf("blocks = %+v", blocks)
	}
	names := map[string]BlockInfo{}
	for _, b := range blocks {
		names[b.Name] = b
	}
	lmtInfo, ok := names[lmt.BlockName]
	if !ok || lmtInfo.Version != lmt.Version || lmtInfo.Fields == 0 {
		t.Errorf("LMT block = %+v", lmtInfo)
	}
	if _, ok := names[lmt.CitationName]; !ok {
		t.Error("citation block missing")
	}
}

func TestFields(t *testing.T) {
	svc, _ := newService(t)
	fields, err := svc.Fields(context.Background(), lmt.BlockName)
	if err != nil {
		t.Fatalf("Fields: %v", err)
	}
	var velFrame, band *FieldInfo
	for i := range fields {
		switch fields[i].Name {
		case "velFrame":
			velFrame = &fields[i]
		case "band":
			band = &fields[i]
		}
	}
	if velFrame == nil || len(velFrame.AllowedValues) == 0 {
		t.Errorf("velFrame = %+v", velFrame)
	}
	if band == nil || len(band.Children) == 0 {
		t.Errorf("band = %+v", band)
	}

	if _, err := svc.Fields(context.Background(), "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestField(t *testing.T) {
	svc, _ := newService(t)
	f, err := svc.Field(context.Background(), "authorName")
	if err != nil {
		t.Fatalf("Field: %v", err)
	}
	if f.Block != lmt.CitationName || f.Parent != "author" {
		t.Errorf("field = %+v", f)
	}
	if _, err := svc.Field(context.Background(), "bogus"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestConvert_RoundTrip(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	example := testutil.Example(t)
	flat, err := svc.Render(example, FormatFlat)
	if err != nil {
		t.Fatal(err)
	}

	wire, err := svc.Convert(ctx, flat, FormatFlat, FormatWire, true)
	if err != nil {
		t.Fatalf("flat -> wire: %v", err)
	}
	sess, err := svc.Convert(ctx, wire, FormatWire, FormatSession, false)
	if err != nil {
		t.Fatalf("wire -> session: %v", err)
	}
	if !strings.Contains(string(sess), "# LMTData metadata block version") {
		t.Errorf("session missing header:\n%s", sess)
	}
	back, err := svc.Convert(ctx, sess, FormatSession, FormatFlat, false)
	if err != nil {
		t.Fatalf("session -> flat: %v", err)
	}

	var want, got map[string]map[string]any
	if err := json.Unmarshal(flat, &want); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(back, &got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestConvert_Errors(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	cases := []struct {
		name string
		data string
		from Format
		want error
	}{
		{"malformed flat", `{"LMTData":`, FormatFlat, metadata.ErrStructure},
		{"unknown field", `{"LMTData":{"bogus":1}}`, FormatFlat, metadata.ErrUnknownField},
		{"vocabulary", `{"LMTData":{"velFrame":"Galactic"}}`, FormatFlat, metadata.ErrVocabulary},
		{"malformed wire", `[1,2]`, FormatWire, metadata.ErrStructure},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := svc.Convert(ctx, []byte(c.data), c.from, FormatWire, false)
			if !errors.Is(err, c.want) {
				t.Errorf("err = %v, want %v", err, c.want)
			}
		})
	}

	_, err := svc.Convert(ctx, []byte(`{"LMTData":{"projectID":"2021-S1-US-3"}}`), FormatFlat, FormatWire, true)
	if !errors.Is(err, metadata.ErrStructure) {
		t.Errorf("validate err = %v, want ErrStructure", err)
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("WIRE"); err != nil || f != FormatWire {
		t.Errorf("ParseFormat = %q, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error")
	}
}

func TestToWireFromWire(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	flat := map[string]map[string]any{
		lmt.BlockName: {"projectID": "2021-S1-US-3", "velFrame": "LSR"},
	}
	doc, err := svc.ToWire(ctx, flat)
	if err != nil {
		t.Fatalf("ToWire: %v", err)
	}
	if got := doc.BlockNames(); len(got) != 1 || got[0] != lmt.BlockName {
		t.Errorf("blocks = %v", got)
	}
	back, err := svc.FromWire(ctx, doc)
	if err != nil {
		t.Fatalf("FromWire: %v", err)
	}
	if back[lmt.BlockName]["velFrame"] != "LSR" {
		t.Errorf("back = %v", back)
	}
}

func TestIndices(t *testing.T) {
	svc, indices := newService(t)
	ctx := context.Background()

	list, err := svc.Indices(ctx)
	if err != nil || list == nil || len(list) != 0 {
		t.Fatalf("empty list = %v, %v", list, err)
	}
	if _, err := indices.Save(&models.DatasetIndex{
		Meta:    models.Meta{ProjectID: "2021-S1-US-3"},
		Dataset: models.Dataset{Title: "T"},
	}); err != nil {
		t.Fatal(err)
	}
	idx, err := svc.Index(ctx, "2021-S1-US-3")
	if err != nil || idx.Dataset.Title != "T" {
		t.Fatalf("Index = %+v, %v", idx, err)
	}
	if err := svc.DeleteIndex(ctx, "2021-S1-US-3"); err != nil {
		t.Fatalf("DeleteIndex: %v", err)
	}
	if _, err := svc.Index(ctx, "2021-S1-US-3"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestJobs_NoRunner(t *testing.T) {
	svc, _ := newService(t)
	if jobs := svc.Jobs(context.Background()); len(jobs) != 0 {
		t.Errorf("jobs = %v", jobs)
	}
	if _, err := svc.RunJob(context.Background(), pipeline.JobCreateIndices); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v", err)
	}
}
