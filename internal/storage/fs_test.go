package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/toltec-astro/dvpipe/internal/apperr"
)

func tempStore(t *testing.T) *FS {
	t.Helper()
	s, err := NewFS(t.TempDir(), false)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return s
}

func TestWriteAndRead(t *testing.T) {
	s := tempStore(t)
	content := []byte("meta:\n  project_id: p\n")
	if err := s.Write("p.yaml", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("p.yaml")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWriteCreatesSubdirs(t *testing.T) {
	s := tempStore(t)
	if err := s.Write("a/b/c.yaml", []byte("deep: true")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "a", "b", "c.yaml")); err != nil {
		t.Errorf("file not created: %v", err)
	}
}

func TestWriteOverwrite(t *testing.T) {
	s := tempStore(t)
	_ = s.Write("x.yaml", []byte("original"))
	if err := s.Write("x.yaml", []byte("updated")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("x.yaml")
	if string(got) != "updated" {
		t.Errorf("content = %q, want updated", got)
	}
	entries, _ := os.ReadDir(s.Root())
	if len(entries) != 1 {
		t.Errorf("leftover files in root: %d entries", len(entries))
	}
}

func TestDelete(t *testing.T) {
	s := tempStore(t)
	_ = s.Write("del.yaml", []byte("bye"))
	if err := s.Delete("del.yaml"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read("del.yaml"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Read after delete: err = %v, want ErrNotFound", err)
	}
	if err := s.Delete("del.yaml"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second Delete: err = %v, want ErrNotFound", err)
	}
}

func TestList(t *testing.T) {
	s := tempStore(t)
	_ = s.Write("a.yaml", []byte("a"))
	_ = s.Write("sub/b.yml", []byte("b"))
	_ = s.Write("readme.txt", []byte("not yaml"))
	_ = s.Write(".cache/c.yaml", []byte("hidden"))

	items, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2: %v", len(items), items)
	}
	if items[0].Path != "a.yaml" || items[1].Path != "sub/b.yml" {
		t.Errorf("paths = %q, %q", items[0].Path, items[1].Path)
	}
	if items[0].Checksum == "" || items[0].Size != 1 {
		t.Errorf("entry = %+v", items[0])
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempStore(t)
	for _, p := range []string{"../../etc/passwd", "../outside.yaml", "/etc/shadow"} {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
	}
}

func TestNewFS_Mkdir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "work", "indices")
	if _, err := NewFS(dir, false); err == nil {
		t.Error("expected error for non-existent dir")
	}
	if _, err := NewFS(dir, true); err != nil {
		t.Fatalf("NewFS(mkdir): %v", err)
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	p := filepath.Join(t.TempDir(), "file")
	_ = os.WriteFile(p, nil, 0o644)
	if _, err := NewFS(p, false); err == nil {
		t.Error("expected error when root is a file")
	}
}
