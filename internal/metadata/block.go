package metadata

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Record is one instance of a compound field: child name to value.
type Record map[string]Value

func (r Record) clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Block is a metadata block: a schema plus the values stored against it.
// A Block is owned by a single session and is not safe for concurrent use.
//
// A leaf holds one Value in leaves, or, for allowmultiples fields given two or
// more values, a list in lists; never both.
type Block struct {
	schema *Schema
	leaves map[string]Value
	lists  map[string][]Value
	groups map[string][]Record
}

// NewBlock returns an empty block for schema.
func NewBlock(schema *Schema) *Block {
	return &Block{
		schema: schema,
		leaves: make(map[string]Value),
		lists:  make(map[string][]Value),
		groups: make(map[string][]Record),
	}
}

func (b *Block) swap(o *Block) {
	b.leaves, b.lists, b.groups = o.leaves, o.lists, o.groups
}

// Name returns the schema name.
func (b *Block) Name() string { return b.schema.Name() }

// Version returns the schema version.
func (b *Block) Version() string { return b.schema.Version() }

// Schema returns the block definition.
func (b *Block) Schema() *Schema { return b.schema }

// IsRecognized reports whether name is declared by the schema.
func (b *Block) IsRecognized(name string) bool { return b.schema.Has(name) }

// Reset discards every stored value.
func (b *Block) Reset() {
	b.leaves = make(map[string]Value)
	b.lists = make(map[string][]Value)
	b.groups = make(map[string][]Record)
}

// SetField validates value against the schema and stores it.
//
// Leaf fields are overwritten. Fields that allow multiple values also take a
// list; every element is checked and the list replaces what was stored.
// Compound fields take a map of child values and each call appends one
// record. unit, when set, names the unit of plain numbers; fields with a
// required unit are converted to it.
func (b *Block) SetField(name string, value any, unit string) error {
	f, ok := b.schema.Field(name)
	if !ok {
		return &UnknownFieldError{Field: name, Blocks: []string{b.Name()}}
	}
	if f.HasParent() {
		return &StructuralError{
			Field: name,
			Reason: fmt.Sprintf("%s is a child of %s and must be set through it, e.g. SetField(%q, map[string]any{%q: value, ...}, unit)",
				name, f.Parent, f.Parent, name),
		}
	}
	if f.IsParent() {
		rec, err := b.checkRecord(f, value, unit)
		if err != nil {
			return err
		}
		b.groups[name] = append(b.groups[name], rec)
		return nil
	}
	if elems, ok := listValue(value); ok {
		return b.setList(f, elems, unit)
	}
	v, err := b.checkLeaf(f, value, unit)
	if err != nil {
		return err
	}
	b.leaves[name] = v
	delete(b.lists, name)
	return nil
}

func (b *Block) setList(f FieldDefinition, elems []any, unit string) error {
	switch {
	case len(elems) == 0:
		return &StructuralError{Field: f.Name, Reason: "empty list of values"}
	case len(elems) > 1 && !f.AllowMultiples:
		return &StructuralError{Field: f.Name, Reason: fmt.Sprintf("expected a single value, got %d", len(elems))}
	}
	vals := make([]Value, len(elems))
	for i, e := range elems {
		if _, nested := listValue(e); nested {
			return &StructuralError{Field: f.Name, Reason: "nested list of values"}
		}
		v, err := b.checkLeaf(f, e, unit)
		if err != nil {
			return err
		}
		vals[i] = v
	}
	if len(vals) == 1 {
		b.leaves[f.Name] = vals[0]
		delete(b.lists, f.Name)
		return nil
	}
	b.lists[f.Name] = vals
	delete(b.leaves, f.Name)
	return nil
}

// listValue returns the elements of the list types accepted for multiple
// values.
func listValue(x any) ([]any, bool) {
	switch t := x.(type) {
	case []any:
		return t, true
	case []Value:
		out := make([]any, len(t))
		for i, v := range t {
			out[i] = v
		}
		return out, true
	case []string:
		out := make([]any, len(t))
		for i, v := range t {
			out[i] = v
		}
		return out, true
	case []float64:
		out := make([]any, len(t))
		for i, v := range t {
			out[i] = v
		}
		return out, true
	case []int64:
		out := make([]any, len(t))
		for i, v := range t {
			out[i] = v
		}
		return out, true
	default:
		return nil, false
	}
}

func (b *Block) checkRecord(f FieldDefinition, value any, unit string) (Record, error) {
	children := b.schema.Children(f.Name)
	var entries map[string]any
	switch t := value.(type) {
	case map[string]any:
		entries = t
	case Record:
		entries = make(map[string]any, len(t))
		for k, v := range t {
			entries[k] = v
		}
	case map[string]Value:
		entries = make(map[string]any, len(t))
		for k, v := range t {
			entries[k] = v
		}
	case map[string]string:
		entries = make(map[string]any, len(t))
		for k, v := range t {
			entries[k] = v
		}
	default:
		return nil, &StructuralError{
			Field:  f.Name,
			Reason: fmt.Sprintf("compound field value must be a mapping of its children [%s], got %T", strings.Join(children, ", "), value),
		}
	}
	if len(entries) == 0 {
		return nil, &StructuralError{
			Field:  f.Name,
			Reason: fmt.Sprintf("compound field value is empty, expected children [%s]", strings.Join(children, ", ")),
		}
	}

	// Sorted for deterministic error reporting.
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rec := make(Record, len(entries))
	for _, k := range keys {
		cf, ok := b.schema.Field(k)
		if !ok || cf.Parent != f.Name {
			return nil, &UnknownFieldError{Field: k, Blocks: []string{b.Name() + "." + f.Name}}
		}
		cu := ""
		if cf.Unit != "" {
			cu = unit
		}
		ev := entries[k]
		if elems, ok := listValue(ev); ok {
			if len(elems) != 1 {
				return nil, &StructuralError{Field: k, Reason: fmt.Sprintf("expected a single value, got %d", len(elems))}
			}
			ev = elems[0]
		}
		v, err := b.checkLeaf(cf, ev, cu)
		if err != nil {
			return nil, err
		}
		rec[k] = v
	}
	return rec, nil
}

// checkLeaf converts, unit-coerces and vocabulary-checks a single value.
func (b *Block) checkLeaf(f FieldDefinition, value any, unit string) (Value, error) {
	v, err := ValueOf(value)
	if err != nil {
		return Value{}, &StructuralError{Field: f.Name, Reason: err.Error()}
	}
	if v.Kind() == KindString {
		s := strings.TrimSpace(v.Text())
		if f.numeric() {
			if n, ok := parseNumber(s); ok {
				v = n
			}
		}
		if f.Unit != "" && v.Kind() == KindString {
			if q, err := ParseQuantity(s); err == nil {
				v = QuantityValue(q)
			}
		}
	}
	v, err = coerceUnit(f, v, unit)
	if err != nil {
		return Value{}, err
	}
	if !v.IsFinite() {
		return Value{}, &StructuralError{Field: f.Name, Reason: fmt.Sprintf("non-finite number %v", v.Number())}
	}
	if v, err = normalize(f, v); err != nil {
		return Value{}, err
	}
	if !b.schema.allows(f.Name, v.String()) {
		return Value{}, &VocabularyViolationError{
			Block:   b.Name(),
			Field:   f.Name,
			Value:   v.String(),
			Allowed: b.schema.AllowedValues(f.Name),
		}
	}
	return v, nil
}

// normalize fixes the number representation by field type: int fields hold
// integers, float fields hold floats and text-like fields hold the decimal
// string, matching what a wire round trip yields.
func normalize(f FieldDefinition, v Value) (Value, error) {
	if v.Kind() != KindNumber {
		return v, nil
	}
	n := v.Number()
	switch f.FieldType {
	case "int":
		if v.IsIntegral() {
			return v, nil
		}
		if n != math.Trunc(n) {
			return Value{}, &StructuralError{Field: f.Name, Reason: fmt.Sprintf("integer field given non-integer %s", v)}
		}
		// float64(math.MaxInt64) rounds up to 2^63, so compare against the
		// power of two.
		if n >= 1<<63 || n < -(1<<63) {
			return Value{}, &StructuralError{Field: f.Name, Reason: fmt.Sprintf("integer %s overflows int64", v)}
		}
		return IntValue(int64(n)), nil
	case "float":
		return NumberValue(n), nil
	default:
		return StringValue(v.String()), nil
	}
}

func coerceUnit(f FieldDefinition, v Value, unit string) (Value, error) {
	if f.Unit == "" {
		if v.Kind() == KindQuantity {
			return Value{}, &UnitConversionError{Field: f.Name, From: v.Quantity().Unit, To: "", Err: fmt.Errorf("field has no unit")}
		}
		if unit != "" && v.Kind() == KindNumber {
			return Value{}, &UnitConversionError{Field: f.Name, From: unit, To: "", Err: fmt.Errorf("field has no unit")}
		}
		return v, nil
	}
	switch v.Kind() {
	case KindQuantity:
		q := v.Quantity()
		out, err := ConvertUnits(q.Value, q.Unit, f.Unit)
		if err != nil {
			return Value{}, &UnitConversionError{Field: f.Name, From: q.Unit, To: f.Unit, Err: err}
		}
		return NumberValue(out), nil
	case KindNumber:
		if unit == "" {
			return v, nil
		}
		out, err := ConvertUnits(v.Number(), unit, f.Unit)
		if err != nil {
			return Value{}, &UnitConversionError{Field: f.Name, From: unit, To: f.Unit, Err: err}
		}
		if out == v.Number() {
			return v, nil
		}
		return NumberValue(out), nil
	default:
		return v, nil
	}
}

// Get returns the stored value of a top-level field: a Value for leaves, a
// []Value for leaves holding several values and a []Record for compound
// fields.
func (b *Block) Get(name string) (any, bool) {
	if v, ok := b.leaves[name]; ok {
		return v, true
	}
	if l, ok := b.lists[name]; ok {
		return append([]Value(nil), l...), true
	}
	if g, ok := b.groups[name]; ok {
		return b.Groups(name), len(g) > 0
	}
	return nil, false
}

// Leaf returns the stored value of a leaf field, or the first one when it
// holds several.
func (b *Block) Leaf(name string) (Value, bool) {
	if v, ok := b.leaves[name]; ok {
		return v, true
	}
	if l := b.lists[name]; len(l) > 0 {
		return l[0], true
	}
	return Value{}, false
}

// Values returns every value stored under a leaf field.
func (b *Block) Values(name string) []Value {
	if v, ok := b.leaves[name]; ok {
		return []Value{v}
	}
	return append([]Value(nil), b.lists[name]...)
}

// Groups returns copies of the records stored under a compound field.
func (b *Block) Groups(name string) []Record {
	g := b.groups[name]
	out := make([]Record, len(g))
	for i, r := range g {
		out[i] = r.clone()
	}
	return out
}

// Keys returns the names of the top-level fields holding data, in schema order.
func (b *Block) Keys() []string {
	var out []string
	for _, f := range b.schema.TopLevel() {
		if b.has(f.Name) {
			out = append(out, f.Name)
		}
	}
	return out
}

func (b *Block) has(name string) bool {
	if _, ok := b.leaves[name]; ok {
		return true
	}
	return len(b.lists[name]) > 0 || len(b.groups[name]) > 0
}

// IsParent reports whether name is a compound field.
func (b *Block) IsParent(name string) bool { return b.schema.IsParent(name) }

// HasParent reports whether name is a child field.
func (b *Block) HasParent(name string) bool { return b.schema.HasParent(name) }

// Children lists the children of a compound field.
func (b *Block) Children(name string) []string { return b.schema.Children(name) }

// IsControlled reports whether name is governed by a controlled vocabulary.
func (b *Block) IsControlled(name string) bool { return b.schema.IsControlled(name) }

// AllowedValues lists the legal values of name.
func (b *Block) AllowedValues(name string) []string { return b.schema.AllowedValues(name) }

// Missing lists required fields without data. Required children are reported
// as parent.child for every record that lacks them.
func (b *Block) Missing() []string {
	var out []string
	for _, f := range b.schema.TopLevel() {
		if f.IsParent() {
			recs := b.groups[f.Name]
			if len(recs) == 0 {
				if f.Required {
					out = append(out, f.Name)
				}
				continue
			}
			for _, c := range b.schema.Children(f.Name) {
				cf, _ := b.schema.Field(c)
				if !cf.Required {
					continue
				}
				for _, r := range recs {
					if _, ok := r[c]; !ok {
						out = append(out, f.Name+"."+c)
						break
					}
				}
			}
			continue
		}
		if f.Required && !b.has(f.Name) {
			out = append(out, f.Name)
		}
	}
	return out
}

// Validate fails when required metadata is missing.
func (b *Block) Validate() error {
	if missing := b.Missing(); len(missing) > 0 {
		return &StructuralError{
			Field:  b.Name(),
			Reason: "the following metadata key(s) are missing: " + strings.Join(missing, ", "),
		}
	}
	return nil
}
