package metadb

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/toltec-astro/dvpipe/internal/metadata"
)

// Compound fields of the LMT block that expand into one row each.
const (
	ObservationGroup = "obsInfo"
	WindowGroup      = "band"
)

// Mirror writes LMT metadata blocks into the archive tables.
type Mirror struct {
	db     *DB
	keys   KeyMap
	logger *slog.Logger
}

// NewMirror returns a mirror writing to db through keys.
func NewMirror(db *DB, keys KeyMap, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{db: db, keys: keys, logger: logger}
}

// MirrorResult reports the rows written for one block.
type MirrorResult struct {
	AlmaIDs   []int64
	WindowIDs []int64
	LineIDs   []int64
	Other     map[string]int64
}

// Write mirrors b in a single transaction: the header row when the database
// is empty, one alma row per observation, one win row per band referencing
// the first alma row, one lines row per band naming a line, then the
// remaining tables from top-level fields.
func (m *Mirror) Write(b *metadata.Block) (*MirrorResult, error) {
	tx, err := m.db.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("metadb: mirror: begin: %w", err)
	}
	res, err := m.write(tx, b)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("metadb: mirror: commit: %w", err)
	}
	m.logger.Info("metadb: mirrored block",
		slog.String("block", b.Name()),
		slog.String("db", m.db.Path()),
		slog.Int("alma", len(res.AlmaIDs)),
		slog.Int("win", len(res.WindowIDs)),
		slog.Int("lines", len(res.LineIDs)))
	return res, nil
}

func (m *Mirror) write(tx *sql.Tx, b *metadata.Block) (*MirrorResult, error) {
	res := &MirrorResult{Other: make(map[string]int64)}

	var headers int64
	if err := tx.QueryRow("SELECT COUNT(*) FROM header").Scan(&headers); err != nil {
		return nil, fmt.Errorf("metadb: mirror: header: %w", err)
	}
	if headers == 0 {
		if _, err := insertRow(tx, "header", map[string]any{"version": "LMT Metadata Version " + b.Version()}); err != nil {
			return nil, err
		}
	}

	written := make(map[string]bool)
	top := func(field string) (any, bool) {
		v, ok := b.Leaf(field)
		if !ok {
			return nil, false
		}
		return v.Interface(), true
	}

	obs := b.Groups(ObservationGroup)
	if len(obs) == 0 {
		obs = []metadata.Record{{}}
	}
	for _, rec := range obs {
		row := make(map[string]any)
		for _, e := range m.keys.Table("alma") {
			if v, ok := rec[e.Field]; ok {
				row[e.Column] = v.Interface()
			} else if v, ok := top(e.Field); ok {
				row[e.Column] = v
			} else {
				continue
			}
			written[e.Field] = true
		}
		if len(row) == 0 {
			row["obs_id"] = nil
		}
		id, err := insertRow(tx, "alma", row)
		if err != nil {
			return nil, err
		}
		res.AlmaIDs = append(res.AlmaIDs, id)
	}

	lineKeys := m.keys.Table("lines")
	for _, rec := range b.Groups(WindowGroup) {
		row := map[string]any{"a_id": res.AlmaIDs[0]}
		for _, e := range m.keys.Table("win") {
			if v, ok := rec[e.Field]; ok {
				row[e.Column] = v.Interface()
				written[e.Field] = true
			}
		}
		wid, err := insertRow(tx, "win", row)
		if err != nil {
			return nil, err
		}
		res.WindowIDs = append(res.WindowIDs, wid)

		if len(lineKeys) == 0 {
			continue
		}
		line := map[string]any{"w_id": wid}
		for _, e := range lineKeys {
			v, ok := rec[e.Field]
			if !ok {
				line = nil
				break
			}
			line[e.Column] = v.Interface()
			written[e.Field] = true
		}
		if line == nil {
			continue
		}
		lid, err := insertRow(tx, "lines", line)
		if err != nil {
			return nil, err
		}
		res.LineIDs = append(res.LineIDs, lid)
	}

	for _, table := range m.keys.Tables() {
		switch table {
		case "alma", "win", "lines":
			continue
		}
		row := make(map[string]any)
		for _, e := range m.keys.Table(table) {
			if written[e.Field] {
				continue
			}
			if v, ok := top(e.Field); ok {
				row[e.Column] = v
			}
		}
		if len(row) == 0 {
			continue
		}
		id, err := insertRow(tx, table, row)
		if err != nil {
			return nil, err
		}
		res.Other[table] = id
	}
	return res, nil
}
