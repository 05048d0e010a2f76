package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/toltec-astro/dvpipe/internal"
	"github.com/toltec-astro/dvpipe/internal/session"
	"github.com/toltec-astro/dvpipe/internal/testutil"
)

// runCLI runs the command line with a scratch config and returns stdout.
func runCLI(t *testing.T, input string, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DVPIPE_WORK__INDEX_DIR", filepath.Join(dir, "indices"))
	t.Setenv("DVPIPE_SQLITE__PATH", filepath.Join(dir, "lmtmetadata.db"))

	var out, errOut bytes.Buffer
	oldIn, oldOut, oldErr := stdin, stdout, stderr
	stdin, stdout, stderr = strings.NewReader(input), &out, &errOut
	t.Cleanup(func() { stdin, stdout, stderr = oldIn, oldOut, oldErr })

	argv := append([]string{"dvpipe", "-c", filepath.Join(dir, "none.yaml"), "-e", filepath.Join(dir, "none.env"), "--no_banner"}, args...)
	err := newApp().Run(context.Background(), argv)
	return out.String(), err
}

func exampleSession(t *testing.T) string {
	t.Helper()
	data, err := session.Marshal(testutil.Example(t))
	if err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(t.TempDir(), "dvp_metadata.yaml")
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestMetadataExample(t *testing.T) {
	out, err := runCLI(t, "", "metadata", "example", "--format", "flat")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, `"LMTData"`) || !strings.Contains(out, `"projectID": "2021-S1-US-3"`) {
		t.Errorf("out = %s", out)
	}
}

func TestMetadataFields(t *testing.T) {
	out, err := runCLI(t, "", "metadata", "fields", "--csv")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if header := strings.SplitN(out, "\n", 2)[0]; !strings.Contains(header, "fieldType") {
		t.Errorf("csv header = %q", header)
	}
	if !strings.Contains(out, "velFrame") {
		t.Error("csv should list velFrame")
	}

	out, err = runCLI(t, "", "metadata", "fields", "-b", "citation")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "authorName") {
		t.Errorf("table = %s", out)
	}

	if _, err := runCLI(t, "", "metadata", "fields", "-b", "nope"); err == nil {
		t.Error("unknown block should fail")
	}
}

func TestMetadataValidate(t *testing.T) {
	p := exampleSession(t)
	out, err := runCLI(t, "", "metadata", "validate", p)
	if err != nil {
		t.Fatalf("validate example: %v", err)
	}
	if !strings.HasSuffix(strings.TrimSpace(out), ": ok") {
		t.Errorf("out = %q", out)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("LMTData:\n  velFrame: Galactic\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := runCLI(t, "", "metadata", "validate", bad); err == nil || !strings.Contains(err.Error(), "velFrame") {
		t.Errorf("err = %v", err)
	}
}

func TestMetadataWire_Stdin(t *testing.T) {
	out, err := runCLI(t, "LMTData:\n  projectID: 2021-S1-US-3\n", "metadata", "wire", "-")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, `"typeName": "projectID"`) {
		t.Errorf("out = %s", out)
	}
}

func TestMetadataMirror(t *testing.T) {
	p := exampleSession(t)
	db := filepath.Join(t.TempDir(), "mirror.db")
	out, err := runCLI(t, "", "metadata", "mirror", "--db", db, p)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, `"created": true`) || !strings.Contains(out, `"alma"`) {
		t.Errorf("out = %s", out)
	}
	if _, err := os.Stat(db); err != nil {
		t.Errorf("database not created: %v", err)
	}
}

func TestCreateIndex_DryRun(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "2021-S1-US-3")
	testutil.WriteFile(t, filepath.Join(dir, "cube.fits"), "x")

	out, err := runCLI(t, "", "lmtslr", "create_index", "--dry_run", dir)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "project_id: 2021-S1-US-3") || !strings.Contains(out, "cube.fits") {
		t.Errorf("out = %s", out)
	}
}

func TestCreateIndex_NeedsProjects(t *testing.T) {
	if _, err := runCLI(t, "", "lmtslr", "create_index"); !errors.Is(err, errNoProjects) {
		t.Errorf("err = %v, want errNoProjects", err)
	}
}

func TestDataset_NeedsDataverse(t *testing.T) {
	for _, args := range [][]string{
		{"dataset", "info"},
		{"dataset", "list"},
		{"dataset", "upload", "2021-S1-US-3"},
		{"user"},
	} {
		if _, err := runCLI(t, "", args...); !errors.Is(err, internal.ErrDataverseDisabled) {
			t.Errorf("%v: err = %v, want ErrDataverseDisabled", args, err)
		}
	}
}

func TestDatasetInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/info/version" || r.Header.Get("X-Dataverse-key") != "tok" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"OK","data":{"version":"5.12.1","build":"1"}}`))
	}))
	defer srv.Close()
	t.Setenv("DVPIPE_DATAVERSE__BASE_URL", srv.URL)
	t.Setenv("DVPIPE_DATAVERSE__API_TOKEN", "tok")

	out, err := runCLI(t, "", "dataset", "info")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != srv.URL+"\t5.12.1\n" {
		t.Errorf("out = %q", out)
	}
}

func TestJob_Run_NeedsProjects(t *testing.T) {
	if _, err := runCLI(t, "", "job", "run", "create_lmtslr_project_dataset_indices"); !errors.Is(err, errNoProjects) {
		t.Errorf("err = %v", err)
	}
}
