// Package lmt provides the LMT pipeline metadata blocks: the LMTData block,
// the Dataverse citation block and the LMT to ALMA archive key map.
package lmt

import (
	"embed"
	"fmt"
	"io/fs"
	"sync"

	"github.com/toltec-astro/dvpipe/internal/metadata"
	"github.com/toltec-astro/dvpipe/internal/metadb"
)

// Block names and versions.
const (
	BlockName       = "LMTData"
	Version         = "1.2.1"
	CitationName    = "citation"
	CitationVersion = "Dataverse 5.12.1"
)

// Table file names inside a table directory.
const (
	FieldsFile             = "LMTMetaDatablock.csv"
	VocabularyFile         = "LMTControlledVocabulary.csv"
	CitationFieldsFile     = "CitationMetaDatablock.csv"
	CitationVocabularyFile = "CitationControlledVocabulary.csv"
	KeyMapFile             = "alma_to_lmt_keymap.csv"
)

//go:embed tables/*.csv
var embedded embed.FS

// Catalog holds the schemas shared by every session.
type Catalog struct {
	LMT      *metadata.Schema
	Citation *metadata.Schema
	KeyMap   metadb.KeyMap
}

var defaultCatalog = sync.OnceValues(func() (*Catalog, error) {
	sub, err := fs.Sub(embedded, "tables")
	if err != nil {
		return nil, err
	}
	return Load(sub)
})

// Default returns the catalog built from the tables compiled into the binary.
func Default() (*Catalog, error) { return defaultCatalog() }

// Load reads the catalog tables from fsys.
func Load(fsys fs.FS) (*Catalog, error) {
	lmtSchema, err := readSchema(fsys, BlockName, Version, FieldsFile, VocabularyFile)
	if err != nil {
		return nil, err
	}
	cit, err := readSchema(fsys, CitationName, CitationVersion, CitationFieldsFile, CitationVocabularyFile)
	if err != nil {
		return nil, err
	}
	f, err := fsys.Open(KeyMapFile)
	if err != nil {
		return nil, fmt.Errorf("lmt: open key map: %w", err)
	}
	defer f.Close()
	keys, err := metadb.ReadKeyMap(f)
	if err != nil {
		return nil, err
	}
	return &Catalog{LMT: lmtSchema, Citation: cit, KeyMap: keys}, nil
}

func readSchema(fsys fs.FS, name, version, fieldsFile, vocabFile string) (*metadata.Schema, error) {
	ff, err := fsys.Open(fieldsFile)
	if err != nil {
		return nil, &metadata.SchemaLoadError{Source: fieldsFile, Err: err}
	}
	defer ff.Close()
	vf, err := fsys.Open(vocabFile)
	if err != nil {
		return nil, &metadata.SchemaLoadError{Source: vocabFile, Err: err}
	}
	defer vf.Close()
	return metadata.ReadSchema(name, version, ff, vf)
}

// Schemas returns the schemas in routing order.
func (c *Catalog) Schemas() []*metadata.Schema {
	return []*metadata.Schema{c.LMT, c.Citation}
}

// Schema looks up a schema by block name.
func (c *Catalog) Schema(name string) (*metadata.Schema, bool) {
	for _, s := range c.Schemas() {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// NewGroup returns an empty group holding the LMT block followed by the
// citation block.
func (c *Catalog) NewGroup() *metadata.Group {
	return metadata.NewGroup(metadata.NewBlock(c.LMT), metadata.NewBlock(c.Citation))
}
