package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Wire type classes.
const (
	TypeClassPrimitive  = "primitive"
	TypeClassVocabulary = "controlledVocabulary"
	TypeClassCompound   = "compound"
)

// Document is the Dataverse dataset-metadata format: block name to its fields.
type Document map[string]BlockFields

// BlockFields is the body of one block in a Document.
type BlockFields struct {
	DisplayName string  `json:"displayName,omitempty"`
	Fields      []Field `json:"fields"`
}

// Field is one wire field entry. Value holds a string, bool or float64 for
// leaves, a []any for multi-valued leaves and a []map[string]Field for
// compound fields. Decoded numbers are json.Number.
type Field struct {
	TypeName  string `json:"typeName"`
	Multiple  bool   `json:"multiple"`
	TypeClass string `json:"typeClass"`
	Value     any    `json:"value"`
}

type rawField struct {
	TypeName  string          `json:"typeName"`
	Multiple  bool            `json:"multiple"`
	TypeClass string          `json:"typeClass"`
	Value     json.RawMessage `json:"value"`
}

// UnmarshalJSON decodes compound values into records and keeps leaf numbers
// as json.Number.
func (f *Field) UnmarshalJSON(data []byte) error {
	var raw rawField
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.TypeName = raw.TypeName
	f.Multiple = raw.Multiple
	f.TypeClass = raw.TypeClass
	f.Value = nil

	body := bytes.TrimSpace(raw.Value)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil
	}
	if raw.TypeClass == TypeClassCompound {
		switch body[0] {
		case '[':
			var recs []map[string]Field
			if err := json.Unmarshal(body, &recs); err != nil {
				return fmt.Errorf("%s: %w", raw.TypeName, err)
			}
			f.Value = recs
		case '{':
			var rec map[string]Field
			if err := json.Unmarshal(body, &rec); err != nil {
				return fmt.Errorf("%s: %w", raw.TypeName, err)
			}
			f.Value = []map[string]Field{rec}
		default:
			return &StructuralError{Field: raw.TypeName, Reason: "compound value must be a list of records"}
		}
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("%s: %w", raw.TypeName, err)
	}
	f.Value = v
	return nil
}

// ParseDocument decodes a wire document.
func ParseDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &StructuralError{Reason: "malformed metadata document: " + err.Error()}
	}
	return doc, nil
}

// JSON encodes the document with two-space indentation.
func (d Document) JSON() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// Merge copies every block of o into d.
func (d Document) Merge(o Document) {
	for k, v := range o {
		d[k] = v
	}
}

// BlockNames returns the block names in sorted order.
func (d Document) BlockNames() []string {
	out := make([]string, 0, len(d))
	for k := range d {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ToWire serializes the stored metadata. Top-level fields follow schema table
// order and fields without data are omitted.
func (b *Block) ToWire() Document {
	return Document{b.Name(): BlockFields{Fields: b.wireFields()}}
}

func (b *Block) wireFields() []Field {
	fields := []Field{}
	for _, f := range b.schema.TopLevel() {
		if f.IsParent() {
			recs := b.groups[f.Name]
			if len(recs) == 0 {
				continue
			}
			value := make([]map[string]Field, 0, len(recs))
			for _, r := range recs {
				entry := make(map[string]Field, len(r))
				for _, c := range b.schema.Children(f.Name) {
					v, ok := r[c]
					if !ok {
						continue
					}
					cf, _ := b.schema.Field(c)
					entry[c] = b.wireLeaf(cf, []Value{v})
				}
				value = append(value, entry)
			}
			fields = append(fields, Field{
				TypeName:  f.Name,
				Multiple:  f.AllowMultiples,
				TypeClass: TypeClassCompound,
				Value:     value,
			})
			continue
		}
		vals := b.Values(f.Name)
		if len(vals) == 0 {
			continue
		}
		fields = append(fields, b.wireLeaf(f, vals))
	}
	return fields
}

func (b *Block) wireLeaf(f FieldDefinition, vals []Value) Field {
	tc := TypeClassPrimitive
	if b.schema.IsControlled(f.Name) {
		tc = TypeClassVocabulary
	}
	var value any
	if f.AllowMultiples {
		list := make([]any, len(vals))
		for i, v := range vals {
			list[i] = wireScalar(f, v)
		}
		value = list
	} else {
		value = wireScalar(f, vals[0])
	}
	return Field{TypeName: f.Name, Multiple: f.AllowMultiples, TypeClass: tc, Value: value}
}

func wireScalar(f FieldDefinition, v Value) any {
	switch v.Kind() {
	case KindBoolean:
		return v.Boolean()
	case KindNumber:
		switch {
		case f.FieldType == "int":
			return strconv.FormatInt(v.Int(), 10)
		case f.FieldType == "float" && f.Unit != "":
			return v.Number()
		default:
			return strconv.FormatFloat(v.Number(), 'f', -1, 64)
		}
	case KindQuantity:
		return v.Quantity().String()
	default:
		return v.Text()
	}
}

// FromWire replaces the stored metadata with the content of doc. doc must hold
// exactly one entry, named after the block. Every field is replayed through
// SetField; on error the block is left unchanged.
func (b *Block) FromWire(doc Document) error {
	if len(doc) != 1 {
		return &StructuralError{
			Field:  b.Name(),
			Reason: fmt.Sprintf("expected exactly one metadata block, got %d (%s)", len(doc), strings.Join(doc.BlockNames(), ", ")),
		}
	}
	body, ok := doc[b.Name()]
	if !ok {
		return &StructuralError{
			Field:  b.Name(),
			Reason: fmt.Sprintf("document holds block %s", doc.BlockNames()[0]),
		}
	}
	tmp := NewBlock(b.schema)
	if err := tmp.replay(body.Fields); err != nil {
		return err
	}
	b.swap(tmp)
	return nil
}

func (b *Block) replay(fields []Field) error {
	for _, wf := range fields {
		f, ok := b.schema.Field(wf.TypeName)
		if !ok {
			return &UnknownFieldError{Field: wf.TypeName, Blocks: []string{b.Name()}}
		}
		if !f.IsParent() {
			v, err := fromWireLeaf(wf.TypeName, wf.Value)
			if err != nil {
				return err
			}
			if err := b.SetField(wf.TypeName, v, ""); err != nil {
				return err
			}
			continue
		}
		recs, err := wireRecords(wf)
		if err != nil {
			return err
		}
		for _, r := range recs {
			rec := make(map[string]any, len(r))
			for name, cf := range r {
				if cf.TypeName != "" && cf.TypeName != name {
					return &StructuralError{Field: wf.TypeName, Reason: fmt.Sprintf("record key %s holds field %s", name, cf.TypeName)}
				}
				v, err := fromWireLeaf(name, cf.Value)
				if err != nil {
					return err
				}
				rec[name] = v
			}
			if err := b.SetField(wf.TypeName, rec, ""); err != nil {
				return err
			}
		}
	}
	return nil
}

func wireRecords(wf Field) ([]map[string]Field, error) {
	switch t := wf.Value.(type) {
	case []map[string]Field:
		return t, nil
	case map[string]Field:
		return []map[string]Field{t}, nil
	default:
		return nil, &StructuralError{Field: wf.TypeName, Reason: fmt.Sprintf("compound value must be a list of records, got %T", wf.Value)}
	}
}

// fromWireLeaf decodes a leaf value: a scalar, or a list of scalars returned
// as []Value for SetField to check against the field's allowmultiples flag.
func fromWireLeaf(name string, x any) (any, error) {
	var elems []any
	switch t := x.(type) {
	case []any:
		elems = t
	case []string:
		elems = make([]any, len(t))
		for i, s := range t {
			elems[i] = s
		}
	default:
		return fromWireScalar(name, x)
	}
	vals := make([]Value, len(elems))
	for i, e := range elems {
		v, err := fromWireScalar(name, e)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

func fromWireScalar(name string, x any) (Value, error) {
	switch t := x.(type) {
	case json.Number:
		if v, ok := parseNumber(t.String()); ok {
			return v, nil
		}
		return Value{}, &StructuralError{Field: name, Reason: fmt.Sprintf("invalid number %s", t)}
	case []any, []string:
		return Value{}, &StructuralError{Field: name, Reason: "nested list of values"}
	case map[string]any:
		return Value{}, &StructuralError{Field: name, Reason: "unexpected nested object in a primitive field"}
	case nil:
		return Value{}, &StructuralError{Field: name, Reason: "missing value"}
	default:
		v, err := ValueOf(x)
		if err != nil {
			return Value{}, &StructuralError{Field: name, Reason: err.Error()}
		}
		return v, nil
	}
}
