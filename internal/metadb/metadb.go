// Package metadb mirrors LMT metadata into a small SQLite database laid out
// after the ALMA science archive tables (header, alma, win, lines, sources).
package metadb

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/toltec-astro/dvpipe/internal/apperr"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS header (
	id      INTEGER PRIMARY KEY,
	key     TEXT COLLATE NOCASE,
	val     TEXT COLLATE NOCASE,
	version TEXT COLLATE NOCASE
);

CREATE TABLE IF NOT EXISTS alma (
	id                         INTEGER PRIMARY KEY,
	obs_id                     TEXT COLLATE NOCASE,
	observatory                TEXT COLLATE NOCASE,
	obsnum                     INTEGER,
	subobsnum                  INTEGER,
	scannum                    INTEGER,
	ref_id                     TEXT COLLATE NOCASE,
	is_combined                INTEGER,
	instrument                 TEXT COLLATE NOCASE,
	calibration_level          INTEGER,
	processing_level           INTEGER,
	target_name                TEXT COLLATE NOCASE,
	s_ra                       FLOAT,
	s_dec                      FLOAT,
	gal_longitude              FLOAT,
	gal_latitude               FLOAT,
	s_velocity                 FLOAT,
	frequency                  FLOAT,
	s_resolution               FLOAT,
	t_min                      FLOAT,
	t_exptime                  FLOAT,
	t_total_exptime            FLOAT,
	pol_states                 TEXT COLLATE NOCASE,
	is_polarimetry             INTEGER,
	half_wave_plate_mode       TEXT COLLATE NOCASE,
	pvw                        FLOAT,
	opacity                    FLOAT,
	cont_sensitivity_bandwidth FLOAT,
	sensitivity_10kms          FLOAT,
	project_abstract           TEXT COLLATE NOCASE,
	project_title              TEXT COLLATE NOCASE,
	proposal_id                TEXT COLLATE NOCASE,
	obs_title                  TEXT COLLATE NOCASE,
	obs_creator_name           TEXT COLLATE NOCASE,
	obs_goal                   TEXT COLLATE NOCASE,
	obs_comment                TEXT COLLATE NOCASE,
	science_keyword            TEXT COLLATE NOCASE,
	scientific_category        TEXT COLLATE NOCASE,
	proposal_authors           TEXT COLLATE NOCASE,
	public_date                TEXT COLLATE NOCASE
);

CREATE TABLE IF NOT EXISTS win (
	id        INTEGER PRIMARY KEY,
	a_id      INTEGER NOT NULL,
	spw       TEXT COLLATE NOCASE,
	bandnum   INTEGER,
	freqc     FLOAT,
	freqw     FLOAT,
	vlsr      FLOAT,
	nlines    INTEGER,
	nsources  INTEGER,
	nchan     INTEGER,
	peak_w    FLOAT,
	rms_w     FLOAT,
	bmaj      FLOAT,
	bmin      FLOAT,
	bpa       FLOAT,
	qagrade   INTEGER,
	fcoverage FLOAT,
	FOREIGN KEY (a_id) REFERENCES alma (id)
);

CREATE TABLE IF NOT EXISTS lines (
	id         INTEGER PRIMARY KEY,
	w_id       INTEGER NOT NULL,
	formula    TEXT NOT NULL COLLATE NOCASE,
	transition TEXT NOT NULL COLLATE NOCASE,
	restfreq   FLOAT,
	vmin       FLOAT,
	vmax       FLOAT,
	mom0flux   FLOAT,
	mom1peak   FLOAT,
	mom2peak   FLOAT,
	FOREIGN KEY (w_id) REFERENCES win (id)
);

CREATE TABLE IF NOT EXISTS sources (
	id     INTEGER PRIMARY KEY,
	w_id   INTEGER NOT NULL,
	l_id   INTEGER,
	ra     FLOAT,
	dec    FLOAT,
	peak_s FLOAT,
	flux   FLOAT,
	smaj   FLOAT,
	smin   FLOAT,
	spa    FLOAT,
	snr_s  FLOAT,
	FOREIGN KEY (w_id) REFERENCES win (id),
	FOREIGN KEY (l_id) REFERENCES lines (id)
);
`

// Tables lists the mirror tables in dependency order.
var Tables = []string{"header", "alma", "win", "lines", "sources"}

var (
	identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	exprRe  = regexp.MustCompile(`^[A-Za-z0-9_*(), ]+$`)
)

// Store is the table-insert facade the mirror writes through.
type Store interface {
	InsertRow(table string, values map[string]any) (int64, error)
	Query(table, expr string) ([][]any, error)
	Close() error
}

var _ Store = (*DB)(nil)

// DB wraps a sql.DB holding the mirror tables.
type DB struct {
	conn    *sql.DB
	path    string
	created bool
}

// Open opens the database at path. A missing file is created only when create
// is set; otherwise Open fails with apperr.ErrNotFound. The schema is applied
// on every open and leaves existing tables alone.
func Open(path string, create bool) (*DB, error) {
	_, statErr := os.Stat(path)
	exists := statErr == nil
	if !exists && !errors.Is(statErr, fs.ErrNotExist) {
		return nil, fmt.Errorf("metadb: stat %s: %w", path, statErr)
	}
	if !exists && !create {
		return nil, fmt.Errorf("metadb: %s: %w", path, apperr.ErrNotFound)
	}

	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("metadb: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("metadb: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("metadb: apply schema: %w", err)
	}
	return &DB{conn: conn, path: path, created: !exists}, nil
}

// Created reports whether Open created the database file.
func (db *DB) Created() bool { return db.created }

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// InsertRow inserts one row and returns its id. Column names are validated
// and values are bound as parameters.
func (db *DB) InsertRow(table string, values map[string]any) (int64, error) {
	return insertRow(db.conn, table, values)
}

func insertRow(x execer, table string, values map[string]any) (int64, error) {
	if !identRe.MatchString(table) {
		return 0, fmt.Errorf("metadb: insert: invalid table name %q", table)
	}
	if len(values) == 0 {
		return 0, fmt.Errorf("metadb: insert %s: no values", table)
	}
	cols := make([]string, 0, len(values))
	for c := range values {
		if !identRe.MatchString(c) {
			return 0, fmt.Errorf("metadb: insert %s: invalid column name %q", table, c)
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)

	args := make([]any, len(cols))
	for i, c := range cols {
		args[i] = values[c]
	}
	q := fmt.Sprintf("INSERT INTO %s(%s) VALUES(%s)",
		table, strings.Join(cols, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
	res, err := x.Exec(q, args...)
	if err != nil {
		return 0, fmt.Errorf("metadb: insert %s: %w", table, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("metadb: insert %s: last id: %w", table, err)
	}
	return id, nil
}

// Query runs SELECT expr FROM table and returns the raw rows.
func (db *DB) Query(table, expr string) ([][]any, error) {
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("metadb: query: invalid table name %q", table)
	}
	if !exprRe.MatchString(expr) {
		return nil, fmt.Errorf("metadb: query %s: invalid column expression %q", table, expr)
	}
	rows, err := db.conn.Query(fmt.Sprintf("SELECT %s FROM %s", expr, table))
	if err != nil {
		return nil, fmt.Errorf("metadb: query %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("metadb: query %s: %w", table, err)
	}
	var out [][]any
	for rows.Next() {
		row := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range row {
			ptrs[i] = &row[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("metadb: query %s: scan: %w", table, err)
		}
		for i, v := range row {
			if b, ok := v.([]byte); ok {
				row[i] = string(b)
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("metadb: query %s: %w", table, err)
	}
	return out, nil
}

// Count returns the number of rows in table.
func (db *DB) Count(table string) (int64, error) {
	rows, err := db.Query(table, "COUNT(*)")
	if err != nil {
		return 0, err
	}
	n, _ := rows[0][0].(int64)
	return n, nil
}
