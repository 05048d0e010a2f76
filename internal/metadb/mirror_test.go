package metadb_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/toltec-astro/dvpipe/internal/lmt"
	"github.com/toltec-astro/dvpipe/internal/metadb"
)

func TestMirror_Example(t *testing.T) {
	cat, err := lmt.Default()
	if err != nil {
		t.Fatalf("lmt.Default: %v", err)
	}
	g, err := cat.Example(time.Now())
	if err != nil {
		t.Fatalf("Example: %v", err)
	}
	block, _ := g.Block(lmt.BlockName)

	db, err := metadb.Open(filepath.Join(t.TempDir(), "lmt.db"), true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	m := metadb.NewMirror(db, cat.KeyMap, nil)
	res, err := m.Write(block)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(res.AlmaIDs) != 2 || len(res.WindowIDs) != 2 || len(res.LineIDs) != 2 {
		t.Errorf("result = %+v", res)
	}

	rows, err := db.Query("alma", "obsnum, target_name, s_ra, t_exptime, is_combined")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("alma rows = %d, want 2", len(rows))
	}
	if rows[0][0] != int64(12345) || rows[1][0] != int64(12346) {
		t.Errorf("obsnum = %v, %v", rows[0][0], rows[1][0])
	}
	if rows[0][1] != "NGC 5948" || rows[0][2] != 14.01 || rows[1][3] != float64(20) {
		t.Errorf("alma row = %v", rows[1])
	}
	if rows[0][4] != int64(1) {
		t.Errorf("is_combined = %#v, want 1", rows[0][4])
	}

	win, err := db.Query("win", "a_id, bandnum, freqc")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(win) != 2 || win[0][0] != res.AlmaIDs[0] || win[1][1] != int64(2) {
		t.Errorf("win = %v", win)
	}
	if n, _ := db.Count("header"); n != 1 {
		t.Errorf("header rows = %d, want 1", n)
	}

	// A second write continues the alma ids and keeps a single header.
	res2, err := m.Write(block)
	if err != nil {
		t.Fatalf("second Write: %v", err)
	}
	if res2.AlmaIDs[0] != res.AlmaIDs[1]+1 {
		t.Errorf("alma ids = %v after %v", res2.AlmaIDs, res.AlmaIDs)
	}
	if n, _ := db.Count("header"); n != 1 {
		t.Errorf("header rows = %d, want 1", n)
	}
}
