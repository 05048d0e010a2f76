package dataverse

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/sjson"

	"github.com/toltec-astro/dvpipe/internal/metadata"
)

func escapePath(name string) string {
	r := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)
	return r.Replace(name)
}

// DatasetJSON builds the create-dataset document with every block of doc
// under datasetVersion.metadataBlocks.
func DatasetJSON(doc metadata.Document) ([]byte, error) {
	out := []byte(`{"datasetVersion":{"metadataBlocks":{}}}`)
	for _, name := range doc.BlockNames() {
		raw, err := json.Marshal(doc[name])
		if err != nil {
			return nil, fmt.Errorf("dataverse: encode block %s: %w", name, err)
		}
		out, err = sjson.SetRawBytes(out, "datasetVersion.metadataBlocks."+escapePath(name), raw)
		if err != nil {
			return nil, fmt.Errorf("dataverse: splice block %s: %w", name, err)
		}
	}
	return out, nil
}

// FieldsJSON builds the {"fields": [...]} document the edit-metadata call
// takes, with the fields of every block of doc.
func FieldsJSON(doc metadata.Document) ([]byte, error) {
	out := []byte(`{"fields":[]}`)
	for _, name := range doc.BlockNames() {
		for _, f := range doc[name].Fields {
			raw, err := json.Marshal(f)
			if err != nil {
				return nil, fmt.Errorf("dataverse: encode field %s: %w", f.TypeName, err)
			}
			out, err = sjson.SetRawBytes(out, "fields.-1", raw)
			if err != nil {
				return nil, fmt.Errorf("dataverse: splice field %s: %w", f.TypeName, err)
			}
		}
	}
	return out, nil
}
