package metadata

import (
	"fmt"
	"sort"
)

// Flatten returns the stored metadata as plain Go values: leaves map to
// string, int64, float64 or bool, leaves with several values to []any and
// compound fields to []map[string]any.
func (b *Block) Flatten() map[string]any {
	out := make(map[string]any, len(b.leaves)+len(b.lists)+len(b.groups))
	for k, v := range b.leaves {
		out[k] = v.Interface()
	}
	for k, l := range b.lists {
		list := make([]any, len(l))
		for i, v := range l {
			list[i] = v.Interface()
		}
		out[k] = list
	}
	for k, recs := range b.groups {
		if len(recs) == 0 {
			continue
		}
		list := make([]map[string]any, len(recs))
		for i, r := range recs {
			m := make(map[string]any, len(r))
			for c, v := range r {
				m[c] = v.Interface()
			}
			list[i] = m
		}
		out[k] = list
	}
	return out
}

// LoadFlat replaces the stored metadata with m, the shape produced by Flatten
// or decoded from YAML. On error the block is left unchanged.
func (b *Block) LoadFlat(m map[string]any) error {
	tmp := NewBlock(b.schema)
	for _, k := range flatOrder(b.schema, m) {
		v := m[k]
		if !b.schema.IsParent(k) {
			if err := tmp.SetField(k, v, ""); err != nil {
				return err
			}
			continue
		}
		recs, err := flatRecords(k, v)
		if err != nil {
			return err
		}
		for _, r := range recs {
			if err := tmp.SetField(k, r, ""); err != nil {
				return err
			}
		}
	}
	b.swap(tmp)
	return nil
}

// flatOrder sorts the keys of m by schema position; undeclared keys go last so
// the first error reported is stable.
func flatOrder(s *Schema, m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		pi, iok := s.byName[keys[i]]
		pj, jok := s.byName[keys[j]]
		switch {
		case iok && jok:
			return pi < pj
		case iok != jok:
			return iok
		default:
			return keys[i] < keys[j]
		}
	})
	return keys
}

func flatRecords(name string, v any) ([]map[string]any, error) {
	switch t := v.(type) {
	case []map[string]any:
		return t, nil
	case map[string]any:
		return []map[string]any{t}, nil
	case []any:
		out := make([]map[string]any, 0, len(t))
		for i, e := range t {
			m, ok := e.(map[string]any)
			if !ok {
				return nil, &StructuralError{Field: name, Reason: fmt.Sprintf("record %d is %T, want a mapping", i, e)}
			}
			out = append(out, m)
		}
		return out, nil
	default:
		return nil, &StructuralError{Field: name, Reason: fmt.Sprintf("compound field value must be a list of mappings, got %T", v)}
	}
}
