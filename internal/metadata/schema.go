// Package metadata implements Dataverse metadata blocks: schemas loaded from
// field-definition and controlled-vocabulary tables, validated value stores,
// and conversion to and from the Dataverse dataset-metadata wire format.
package metadata

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/sfomuseum/go-csvdict/v2"
)

// FieldTypeParent marks a compound field that holds child fields instead of a value.
const FieldTypeParent = "none"

// Column names of the dataset-field table.
var FieldColumns = []string{
	"name", "title", "description", "watermark",
	"fieldType", "displayOrder", "displayFormat",
	"advancedSearchField", "allowControlledVocabulary",
	"allowmultiples", "facetable", "displayoncreate",
	"required", "parent", "metadatablock_id", "unit",
}

// Column names of the controlled-vocabulary table.
var VocabularyColumns = []string{"DatasetField", "Value", "identifier", "displayOrder"}

// FieldDefinition is one row of the dataset-field table.
type FieldDefinition struct {
	Name                 string `json:"name"`
	Title                string `json:"title"`
	Description          string `json:"description"`
	Watermark            string `json:"watermark,omitempty"`
	FieldType            string `json:"fieldType"`
	DisplayOrder         int    `json:"displayOrder"`
	DisplayFormat        string `json:"displayFormat,omitempty"`
	AdvancedSearch       bool   `json:"advancedSearchField"`
	ControlledVocabulary bool   `json:"allowControlledVocabulary"`
	AllowMultiples       bool   `json:"allowmultiples"`
	Facetable            bool   `json:"facetable"`
	DisplayOnCreate      bool   `json:"displayoncreate"`
	Required             bool   `json:"required"`
	Parent               string `json:"parent,omitempty"`
	BlockID              string `json:"metadatablock_id"`
	Unit                 string `json:"unit,omitempty"`
}

// IsParent reports whether the field is a compound container.
func (f FieldDefinition) IsParent() bool { return f.FieldType == FieldTypeParent }

// HasParent reports whether the field is a child of a compound field.
func (f FieldDefinition) HasParent() bool { return f.Parent != "" }

// numeric reports whether values of the field are numbers.
func (f FieldDefinition) numeric() bool { return f.FieldType == "int" || f.FieldType == "float" }

// VocabularyEntry is one row of the controlled-vocabulary table.
type VocabularyEntry struct {
	Field        string `json:"DatasetField"`
	Value        string `json:"Value"`
	Identifier   string `json:"identifier,omitempty"`
	DisplayOrder int    `json:"displayOrder"`
}

// Schema is an immutable metadata block definition.
type Schema struct {
	name     string
	version  string
	fields   []FieldDefinition
	byName   map[string]int
	children map[string][]string
	vocab    map[string][]VocabularyEntry
}

// NewSchema builds a schema from already parsed rows and checks its invariants.
func NewSchema(name, version string, fields []FieldDefinition, vocab []VocabularyEntry) (*Schema, error) {
	s := &Schema{
		name:     name,
		version:  version,
		fields:   make([]FieldDefinition, len(fields)),
		byName:   make(map[string]int, len(fields)),
		children: make(map[string][]string),
		vocab:    make(map[string][]VocabularyEntry),
	}
	copy(s.fields, fields)

	if len(fields) == 0 {
		return nil, &SchemaLoadError{Source: name, Err: errors.New("no dataset fields")}
	}
	for i, f := range s.fields {
		if f.Name == "" {
			return nil, &SchemaLoadError{Source: name, Err: fmt.Errorf("row %d: empty field name", i+1)}
		}
		if _, dup := s.byName[f.Name]; dup {
			return nil, &SchemaLoadError{Source: name, Err: fmt.Errorf("duplicate field %s", f.Name)}
		}
		s.byName[f.Name] = i
	}
	for _, f := range s.fields {
		if f.Parent == "" {
			continue
		}
		pi, ok := s.byName[f.Parent]
		if !ok {
			return nil, &SchemaLoadError{Source: name, Err: fmt.Errorf("field %s: parent %s is not declared", f.Name, f.Parent)}
		}
		p := s.fields[pi]
		if !p.IsParent() {
			return nil, &SchemaLoadError{Source: name, Err: fmt.Errorf("field %s: parent %s has type %q, want %q", f.Name, f.Parent, p.FieldType, FieldTypeParent)}
		}
		if p.HasParent() {
			return nil, &SchemaLoadError{Source: name, Err: fmt.Errorf("field %s: nesting deeper than two levels under %s", f.Name, p.Parent)}
		}
		if f.IsParent() {
			return nil, &SchemaLoadError{Source: name, Err: fmt.Errorf("compound field %s cannot have a parent", f.Name)}
		}
		s.children[f.Parent] = append(s.children[f.Parent], f.Name)
	}
	for _, f := range s.fields {
		if f.Unit == "" {
			continue
		}
		if _, err := ParseUnit(f.Unit); err != nil {
			return nil, &SchemaLoadError{Source: name, Err: fmt.Errorf("field %s: %w", f.Name, err)}
		}
	}
	for _, e := range vocab {
		if _, ok := s.byName[e.Field]; !ok {
			return nil, &SchemaLoadError{Source: name, Err: fmt.Errorf("vocabulary entry %q references undeclared field %s", e.Value, e.Field)}
		}
		s.vocab[e.Field] = append(s.vocab[e.Field], e)
	}
	for k := range s.vocab {
		entries := s.vocab[k]
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].DisplayOrder < entries[j].DisplayOrder })
	}
	return s, nil
}

// ReadSchema parses the field table and the optional vocabulary table.
func ReadSchema(name, version string, fields io.Reader, vocab io.Reader) (*Schema, error) {
	defs, err := readFields(fields)
	if err != nil {
		return nil, &SchemaLoadError{Source: name, Err: err}
	}
	var entries []VocabularyEntry
	if vocab != nil {
		entries, err = readVocabulary(vocab)
		if err != nil {
			return nil, &SchemaLoadError{Source: name, Err: err}
		}
	}
	return NewSchema(name, version, defs, entries)
}

// LoadSchema reads the tables from disk. An empty vocabPath means no
// controlled vocabulary.
func LoadSchema(name, version, fieldsPath, vocabPath string) (*Schema, error) {
	ff, err := os.Open(fieldsPath)
	if err != nil {
		return nil, &SchemaLoadError{Source: fieldsPath, Err: err}
	}
	defer ff.Close()

	var vr io.Reader
	if vocabPath != "" {
		vf, err := os.Open(vocabPath)
		if err != nil {
			return nil, &SchemaLoadError{Source: vocabPath, Err: err}
		}
		defer vf.Close()
		vr = vf
	}
	return ReadSchema(name, version, ff, vr)
}

func readFields(r io.Reader) ([]FieldDefinition, error) {
	cr, err := csvdict.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open field table: %w", err)
	}
	var out []FieldDefinition
	line := 1
	for row, err := range cr.Iterate() {
		line++
		if err != nil {
			return nil, fmt.Errorf("field table line %d: %w", line, err)
		}
		if err := requireColumns(row, FieldColumns); err != nil {
			return nil, fmt.Errorf("field table: %w", err)
		}
		f, err := fieldFromRow(row)
		if err != nil {
			return nil, fmt.Errorf("field table line %d: %w", line, err)
		}
		out = append(out, f)
	}
	return out, nil
}

func fieldFromRow(row map[string]string) (FieldDefinition, error) {
	f := FieldDefinition{
		Name:          strings.TrimSpace(row["name"]),
		Title:         row["title"],
		Description:   row["description"],
		Watermark:     row["watermark"],
		FieldType:     strings.TrimSpace(row["fieldType"]),
		DisplayFormat: row["displayFormat"],
		Parent:        strings.TrimSpace(row["parent"]),
		BlockID:       strings.TrimSpace(row["metadatablock_id"]),
		Unit:          strings.TrimSpace(row["unit"]),
	}
	var err error
	if f.DisplayOrder, err = parseInt(row["displayOrder"]); err != nil {
		return f, fmt.Errorf("%s: displayOrder: %w", f.Name, err)
	}
	flags := []struct {
		col string
		dst *bool
	}{
		{"advancedSearchField", &f.AdvancedSearch},
		{"allowControlledVocabulary", &f.ControlledVocabulary},
		{"allowmultiples", &f.AllowMultiples},
		{"facetable", &f.Facetable},
		{"displayoncreate", &f.DisplayOnCreate},
		{"required", &f.Required},
	}
	for _, fl := range flags {
		if *fl.dst, err = parseFlag(row[fl.col]); err != nil {
			return f, fmt.Errorf("%s: %s: %w", f.Name, fl.col, err)
		}
	}
	return f, nil
}

func readVocabulary(r io.Reader) ([]VocabularyEntry, error) {
	cr, err := csvdict.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open vocabulary table: %w", err)
	}
	var out []VocabularyEntry
	line := 1
	for row, err := range cr.Iterate() {
		line++
		if err != nil {
			return nil, fmt.Errorf("vocabulary table line %d: %w", line, err)
		}
		if err := requireColumns(row, VocabularyColumns); err != nil {
			return nil, fmt.Errorf("vocabulary table: %w", err)
		}
		order, err := parseInt(row["displayOrder"])
		if err != nil {
			return nil, fmt.Errorf("vocabulary table line %d: displayOrder: %w", line, err)
		}
		out = append(out, VocabularyEntry{
			Field:        strings.TrimSpace(row["DatasetField"]),
			Value:        row["Value"],
			Identifier:   row["identifier"],
			DisplayOrder: order,
		})
	}
	return out, nil
}

func requireColumns(row map[string]string, cols []string) error {
	var missing []string
	for _, c := range cols {
		if _, ok := row[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}
	return nil
}

func parseFlag(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "false", "0", "no":
		return false, nil
	case "true", "1", "yes":
		return true, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", s)
	}
}

func parseInt(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

// Name returns the block name.
func (s *Schema) Name() string { return s.name }

// Version returns the block version string.
func (s *Schema) Version() string { return s.version }

// Fields returns every field in table order.
func (s *Schema) Fields() []FieldDefinition {
	out := make([]FieldDefinition, len(s.fields))
	copy(out, s.fields)
	return out
}

// TopLevel returns the fields without a parent, in table order.
func (s *Schema) TopLevel() []FieldDefinition {
	var out []FieldDefinition
	for _, f := range s.fields {
		if !f.HasParent() {
			out = append(out, f)
		}
	}
	return out
}

// Field looks up a field definition by name.
func (s *Schema) Field(name string) (FieldDefinition, bool) {
	i, ok := s.byName[name]
	if !ok {
		return FieldDefinition{}, false
	}
	return s.fields[i], true
}

// Has reports whether name is a declared field.
func (s *Schema) Has(name string) bool {
	_, ok := s.byName[name]
	return ok
}

// IsParent reports whether name is a declared compound field.
func (s *Schema) IsParent(name string) bool {
	f, ok := s.Field(name)
	return ok && f.IsParent()
}

// HasParent reports whether name is a declared child field.
func (s *Schema) HasParent(name string) bool {
	f, ok := s.Field(name)
	return ok && f.HasParent()
}

// Children returns the child field names of a compound field in table order.
func (s *Schema) Children(name string) []string {
	c := s.children[name]
	out := make([]string, len(c))
	copy(out, c)
	return out
}

// IsControlled reports whether name has controlled-vocabulary entries.
func (s *Schema) IsControlled(name string) bool { return len(s.vocab[name]) > 0 }

// Vocabulary returns the vocabulary entries of name ordered by displayOrder.
func (s *Schema) Vocabulary(name string) []VocabularyEntry {
	v := s.vocab[name]
	out := make([]VocabularyEntry, len(v))
	copy(out, v)
	return out
}

// AllowedValues lists the legal values of name; empty when uncontrolled.
func (s *Schema) AllowedValues(name string) []string {
	v := s.vocab[name]
	out := make([]string, len(v))
	for i, e := range v {
		out[i] = e.Value
	}
	return out
}

// allows reports whether value is legal for name under its vocabulary.
func (s *Schema) allows(name, value string) bool {
	entries := s.vocab[name]
	if len(entries) == 0 {
		return true
	}
	for _, e := range entries {
		if e.Value == value {
			return true
		}
	}
	return false
}

// WriteFieldsCSV writes the field table as CSV.
func (s *Schema) WriteFieldsCSV(w io.Writer) error {
	cw, err := csvdict.NewWriter(w)
	if err != nil {
		return fmt.Errorf("metadata: csv writer: %w", err)
	}
	for _, f := range s.fields {
		row := map[string]string{
			"name":                      f.Name,
			"title":                     f.Title,
			"description":               f.Description,
			"watermark":                 f.Watermark,
			"fieldType":                 f.FieldType,
			"displayOrder":              strconv.Itoa(f.DisplayOrder),
			"displayFormat":             f.DisplayFormat,
			"advancedSearchField":       formatFlag(f.AdvancedSearch),
			"allowControlledVocabulary": formatFlag(f.ControlledVocabulary),
			"allowmultiples":            formatFlag(f.AllowMultiples),
			"facetable":                 formatFlag(f.Facetable),
			"displayoncreate":           formatFlag(f.DisplayOnCreate),
			"required":                  formatFlag(f.Required),
			"parent":                    f.Parent,
			"metadatablock_id":          f.BlockID,
			"unit":                      f.Unit,
		}
		if err := cw.WriteRow(row); err != nil {
			return fmt.Errorf("metadata: write field %s: %w", f.Name, err)
		}
	}
	cw.Flush()
	return nil
}

func formatFlag(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}
