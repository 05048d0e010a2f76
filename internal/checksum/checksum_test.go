package checksum

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSum(t *testing.T) {
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := Sum(nil); got != want {
		t.Errorf("Sum(nil) = %q, want %q", got, want)
	}
}

func TestFileMD5(t *testing.T) {
	p := filepath.Join(t.TempDir(), "a.txt")
	if err := os.WriteFile(p, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := FileMD5(p)
	if err != nil {
		t.Fatalf("FileMD5: %v", err)
	}
	if want := "5d41402abc4b2a76b9719d911017c592"; got != want {
		t.Errorf("FileMD5 = %q, want %q", got, want)
	}
	if got != MD5([]byte("hello")) {
		t.Error("FileMD5 and MD5 disagree")
	}
}

func TestFileMD5_Missing(t *testing.T) {
	if _, err := FileMD5(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error")
	}
}
