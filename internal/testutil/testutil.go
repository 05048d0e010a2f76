// Package testutil provides shared test helpers for catalogs, index stores
// and mirror databases.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/toltec-astro/dvpipe/internal/lmt"
	"github.com/toltec-astro/dvpipe/internal/metadata"
	"github.com/toltec-astro/dvpipe/internal/metadb"
	"github.com/toltec-astro/dvpipe/internal/storage"
)

// ExampleTime is the timestamp used for reference sessions in tests.
var ExampleTime = time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)

// Catalog returns the built-in LMT catalog.
func Catalog(t *testing.T) *lmt.Catalog {
	t.Helper()
	cat, err := lmt.Default()
	if err != nil {
		t.Fatalf("lmt.Default: %v", err)
	}
	return cat
}

// Example returns the reference session stamped with ExampleTime.
func Example(t *testing.T) *metadata.Group {
	t.Helper()
	g, err := Catalog(t).Example(ExampleTime)
	if err != nil {
		t.Fatalf("Example: %v", err)
	}
	return g
}

// TestStore creates a temporary index directory with a storage.Provider.
func TestStore(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "indices")
	store, err := storage.NewFS(dir, true)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// TestDB creates a temporary mirror database that is automatically cleaned up.
func TestDB(t *testing.T) *metadb.DB {
	t.Helper()
	db, err := metadb.Open(filepath.Join(t.TempDir(), "lmtmetadata.db"), true)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
