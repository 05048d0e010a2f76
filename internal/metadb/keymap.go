package metadb

import (
	"fmt"
	"io"
	"strings"

	"github.com/sfomuseum/go-csvdict/v2"
)

// KeyEntry maps one LMT metadata field onto a mirror table column.
type KeyEntry struct {
	Table  string
	Field  string
	Column string
}

// KeyMap is the LMT to ALMA archive key table. Entries without an LMT field
// document archive columns LMT does not fill.
type KeyMap []KeyEntry

// ReadKeyMap parses the key table with columns "Database Table",
// "LMT Keyword" and "ALMA Keyword". Cells are trimmed.
func ReadKeyMap(r io.Reader) (KeyMap, error) {
	cr, err := csvdict.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("metadb: key map: %w", err)
	}
	var out KeyMap
	line := 1
	for row, err := range cr.Iterate() {
		line++
		if err != nil {
			return nil, fmt.Errorf("metadb: key map line %d: %w", line, err)
		}
		for _, c := range []string{"Database Table", "LMT Keyword", "ALMA Keyword"} {
			if _, ok := row[c]; !ok {
				return nil, fmt.Errorf("metadb: key map: missing column %q", c)
			}
		}
		e := KeyEntry{
			Table:  strings.TrimSpace(row["Database Table"]),
			Field:  strings.TrimSpace(row["LMT Keyword"]),
			Column: strings.TrimSpace(row["ALMA Keyword"]),
		}
		if e.Table == "" || e.Column == "" {
			return nil, fmt.Errorf("metadb: key map line %d: table and column are required", line)
		}
		out = append(out, e)
	}
	return out, nil
}

// Table returns the mapped entries of table, skipping unmapped columns.
func (m KeyMap) Table(table string) []KeyEntry {
	var out []KeyEntry
	for _, e := range m {
		if e.Table == table && e.Field != "" {
			out = append(out, e)
		}
	}
	return out
}

// Tables returns the table names with at least one mapped field, in first
// appearance order.
func (m KeyMap) Tables() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range m {
		if e.Field == "" || seen[e.Table] {
			continue
		}
		seen[e.Table] = true
		out = append(out, e.Table)
	}
	return out
}
