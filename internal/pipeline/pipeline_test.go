package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/toltec-astro/dvpipe/internal/apperr"
	"github.com/toltec-astro/dvpipe/internal/dataverse"
	"github.com/toltec-astro/dvpipe/internal/lmt"
	"github.com/toltec-astro/dvpipe/internal/metadata"
	"github.com/toltec-astro/dvpipe/internal/models"
	"github.com/toltec-astro/dvpipe/internal/storage"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newIndexer(t *testing.T) *Indexer {
	t.Helper()
	cat, err := lmt.Default()
	if err != nil {
		t.Fatalf("lmt.Default: %v", err)
	}
	return NewIndexer(cat.NewGroup)
}

type testEnv struct {
	parent  string
	indices *IndexStore
	runner  *Runner
}

func newEnv(t *testing.T, opts ...RunnerOption) *testEnv {
	t.Helper()
	parent := t.TempDir()
	fs, err := storage.NewFS(filepath.Join(t.TempDir(), "indices"), true)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	re, err := CompileProjectPattern("")
	if err != nil {
		t.Fatal(err)
	}
	indices := NewIndexStore(fs)
	opts = append([]RunnerOption{WithLogger(quietLogger)}, opts...)
	return &testEnv{
		parent:  parent,
		indices: indices,
		runner:  NewRunner(parent, re, newIndexer(t), indices, opts...),
	}
}

func TestFindProjectDirs(t *testing.T) {
	parent := t.TempDir()
	for _, d := range []string{"2021-S1-US-3", "2023-S1-MX-12", "2022-S1-XX-1", "notes", "2021-S1-UM-7_old"} {
		if err := os.Mkdir(filepath.Join(parent, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	writeFile(t, filepath.Join(parent, "2020-S1-US-1"), "a file, not a dir")

	re, err := CompileProjectPattern("")
	if err != nil {
		t.Fatal(err)
	}
	dirs, err := FindProjectDirs(parent, re)
	if err != nil {
		t.Fatalf("FindProjectDirs: %v", err)
	}
	var names []string
	for _, d := range dirs {
		names = append(names, filepath.Base(d))
	}
	want := []string{"2021-S1-UM-7_old", "2021-S1-US-3", "2023-S1-MX-12"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("dirs = %v, want %v", names, want)
	}
}

func TestCompileProjectPattern_Invalid(t *testing.T) {
	if _, err := CompileProjectPattern("("); err == nil {
		t.Error("expected error")
	}
}

func TestCreateDatasetIndex_Bare(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "2021-S1-US-3")
	writeFile(t, filepath.Join(dir, "cube.fits"), "x")
	writeFile(t, filepath.Join(dir, "spectra", "s1.txt"), "y")
	writeFile(t, filepath.Join(dir, ".hidden", "skip.txt"), "z")

	idx, err := newIndexer(t).CreateDatasetIndex(dir)
	if err != nil {
		t.Fatalf("CreateDatasetIndex: %v", err)
	}
	if idx.Meta.ProjectID != "2021-S1-US-3" || idx.Meta.ProjectDir != dir {
		t.Errorf("meta = %+v", idx.Meta)
	}
	if idx.Dataset.Title != "2021-S1-US-3" {
		t.Errorf("title = %q", idx.Dataset.Title)
	}
	if got := idx.Dataset.Metadata[lmt.BlockName]["projectID"]; got != "2021-S1-US-3" {
		t.Errorf("projectID = %v", got)
	}
	if got := idx.Dataset.Metadata[lmt.CitationName]["title"]; got != "2021-S1-US-3" {
		t.Errorf("citation title = %v", got)
	}
	want := []models.DataFile{
		{Filename: "cube.fits"},
		{Filename: "spectra/s1.txt", DirectoryLabel: "spectra"},
	}
	if !reflect.DeepEqual(idx.Files, want) {
		t.Errorf("files = %+v, want %+v", idx.Files, want)
	}
}

func TestCreateDatasetIndex_Session(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "2021-S1-US-3")
	writeFile(t, filepath.Join(dir, SessionFile), `# LMTData metadata block version 1.2.1
LMTData:
  projectID: 2021-S1-US-3
  targetName: NGC 5948
  RA: 14.01
# citation metadata block version Dataverse 5.12.1
citation:
  title: SEQUOIA observations of NGC 5948
`)
	writeFile(t, filepath.Join(dir, "cube.fits"), "x")

	idx, err := newIndexer(t).CreateDatasetIndex(dir)
	if err != nil {
		t.Fatalf("CreateDatasetIndex: %v", err)
	}
	if idx.Dataset.Title != "SEQUOIA observations of NGC 5948" {
		t.Errorf("title = %q", idx.Dataset.Title)
	}
	if got := idx.Dataset.Metadata[lmt.BlockName]["RA"]; got != 14.01 {
		t.Errorf("RA = %#v", got)
	}
	if len(idx.Files) != 1 {
		t.Errorf("session file should not be listed: %+v", idx.Files)
	}
}

func TestCreateDatasetIndex_BadSession(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "2021-S1-US-3")
	writeFile(t, filepath.Join(dir, SessionFile), "LMTData:\n  velFrame: Galactic\n")
	_, err := newIndexer(t).CreateDatasetIndex(dir)
	if !errors.Is(err, metadata.ErrVocabulary) {
		t.Fatalf("err = %v, want ErrVocabulary", err)
	}
}

func TestIndexStore(t *testing.T) {
	fs, err := storage.NewFS(t.TempDir(), false)
	if err != nil {
		t.Fatal(err)
	}
	s := NewIndexStore(fs)
	idx := &models.DatasetIndex{
		Meta:    models.Meta{ProjectID: "2021-S1-US-3"},
		Dataset: models.Dataset{Title: "T"},
		Files:   []models.DataFile{{Filename: "a"}},
	}
	p, err := s.Save(idx)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if p != "2021-S1-US-3.yaml" {
		t.Errorf("path = %q", p)
	}
	_ = fs.Write("junk.yaml", []byte("not: [an index"))

	got, err := s.Load("2021-S1-US-3")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Dataset.Title != "T" {
		t.Errorf("title = %q", got.Dataset.Title)
	}
	list, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].ProjectID != "2021-S1-US-3" || list[0].Files != 1 {
		t.Errorf("list = %+v", list)
	}
	if err := s.Delete("2021-S1-US-3"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Load("2021-S1-US-3"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Load after delete: %v", err)
	}
	if _, err := s.Save(&models.DatasetIndex{Meta: models.Meta{ProjectID: "../x"}}); err == nil {
		t.Error("expected error for path-like project id")
	}
}

func TestRunner_CreateIndices(t *testing.T) {
	env := newEnv(t)
	writeFile(t, filepath.Join(env.parent, "2021-S1-US-3", "a.fits"), "a")
	writeFile(t, filepath.Join(env.parent, "2022-S1-MX-1", "b.fits"), "b")
	writeFile(t, filepath.Join(env.parent, "2022-S1-MX-2", SessionFile), "LMTData:\n  bogus: 1\n")
	writeFile(t, filepath.Join(env.parent, "other", "c.fits"), "c")

	n, err := env.runner.Run(context.Background(), JobCreateIndices)
	if n != 2 {
		t.Errorf("n = %d, want 2", n)
	}
	if !errors.Is(err, metadata.ErrUnknownField) {
		t.Errorf("err = %v, want ErrUnknownField for the bad project", err)
	}
	list, _ := env.indices.List()
	if len(list) != 2 {
		t.Errorf("indices = %+v", list)
	}
}

func TestRunner_UnknownJob(t *testing.T) {
	env := newEnv(t)
	if _, err := env.runner.Run(context.Background(), "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRunner_Jobs(t *testing.T) {
	env := newEnv(t)
	var names []string
	for _, j := range env.runner.Jobs() {
		names = append(names, j.Name)
	}
	if !reflect.DeepEqual(names, []string{JobCreateIndices, JobUploadDatasets}) {
		t.Errorf("jobs = %v", names)
	}
}

type stubUploader struct {
	mu    sync.Mutex
	calls []string
	fail  string
}

func (s *stubUploader) UploadDataset(_ context.Context, parent string, idx *models.DatasetIndex, action dataverse.Action, publish dataverse.PublishType) (*dataverse.UploadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, strings.Join([]string{parent, idx.Meta.ProjectID, string(action), string(publish)}, " "))
	if idx.Meta.ProjectID == s.fail {
		return nil, errors.New("boom")
	}
	return &dataverse.UploadResult{PID: "doi:" + idx.Meta.ProjectID}, nil
}

func TestRunner_UploadDatasets(t *testing.T) {
	up := &stubUploader{fail: "2022-S1-MX-1"}
	env := newEnv(t, WithUploader(up, "lmt", dataverse.ActionUpdate, dataverse.PublishMinor))
	writeFile(t, filepath.Join(env.parent, "2021-S1-US-3", "a.fits"), "a")
	writeFile(t, filepath.Join(env.parent, "2022-S1-MX-1", "b.fits"), "b")

	n, err := env.runner.Run(context.Background(), JobUploadDatasets)
	if n != 1 || err == nil {
		t.Errorf("n, err = %d, %v; want 1 and an error", n, err)
	}
	want := []string{"lmt 2021-S1-US-3 update minor", "lmt 2022-S1-MX-1 update minor"}
	if !reflect.DeepEqual(up.calls, want) {
		t.Errorf("calls = %v, want %v", up.calls, want)
	}
}

func TestRunner_UploadNeedsUploader(t *testing.T) {
	env := newEnv(t)
	if _, err := env.runner.UploadDatasets(context.Background()); err == nil {
		t.Error("expected error without uploader")
	}
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func TestWatch_ProjectLifecycle(t *testing.T) {
	env := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var events []string
	started := make(chan struct{})
	go func() {
		close(started)
		_ = env.runner.Watch(ctx, 50*time.Millisecond, func(kind, id string) {
			mu.Lock()
			events = append(events, kind+" "+id)
			mu.Unlock()
		})
	}()
	<-started
	time.Sleep(200 * time.Millisecond)

	has := func(ev string) func() bool {
		return func() bool {
			mu.Lock()
			defer mu.Unlock()
			for _, e := range events {
				if e == ev {
					return true
				}
			}
			return false
		}
	}

	dir := filepath.Join(env.parent, "2021-S1-US-3")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "a.fits"), "a")
	eventually(t, 3*time.Second, 20*time.Millisecond, has("created 2021-S1-US-3"), "project creation not reported")

	writeFile(t, filepath.Join(dir, "b.fits"), "b")
	eventually(t, 3*time.Second, 20*time.Millisecond, has("updated 2021-S1-US-3"), "project update not reported")
	eventually(t, 3*time.Second, 20*time.Millisecond, func() bool {
		idx, err := env.indices.Load("2021-S1-US-3")
		return err == nil && len(idx.Files) == 2
	}, "index not refreshed")

	writeFile(t, filepath.Join(env.parent, "notes", "x.txt"), "ignored")

	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}
	eventually(t, 3*time.Second, 20*time.Millisecond, has("deleted 2021-S1-US-3"), "project removal not reported")
	if _, err := env.indices.Load("2021-S1-US-3"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("index should be gone: %v", err)
	}
}
