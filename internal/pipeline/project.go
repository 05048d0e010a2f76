// Package pipeline discovers LMT spectral-line project directories, turns
// them into dataset indices and deposits them.
package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/toltec-astro/dvpipe/internal/metadata"
	"github.com/toltec-astro/dvpipe/internal/models"
	"github.com/toltec-astro/dvpipe/internal/session"
)

// DefaultProjectPattern matches LMT project ids such as 2021-S1-US-3.
const DefaultProjectPattern = `\d{4}-S\d-(US|MX|UM)-\d+`

// SessionFile is the metadata session a project directory may carry.
const SessionFile = "dvp_metadata.yaml"

// CompileProjectPattern compiles pattern anchored at the start of the name.
func CompileProjectPattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		pattern = DefaultProjectPattern
	}
	re, err := regexp.Compile("^(?:" + pattern + ")")
	if err != nil {
		return nil, fmt.Errorf("pipeline: project pattern: %w", err)
	}
	return re, nil
}

// FindProjectDirs returns the sorted directories directly under parent whose
// names match re.
func FindProjectDirs(parent string, re *regexp.Regexp) ([]string, error) {
	entries, err := os.ReadDir(parent)
	if err != nil {
		return nil, fmt.Errorf("pipeline: read %s: %w", parent, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && re.MatchString(e.Name()) {
			out = append(out, filepath.Join(parent, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// Indexer builds dataset indices from project directories.
type Indexer struct {
	newGroup func() *metadata.Group
}

// NewIndexer returns an indexer validating session metadata against the
// groups newGroup returns.
func NewIndexer(newGroup func() *metadata.Group) *Indexer {
	return &Indexer{newGroup: newGroup}
}

// CreateDatasetIndex describes the project directory dir. The project id is
// the directory name; every regular file below dir is listed, with its
// sub-directory as the directory label. When dir holds a SessionFile its
// metadata is validated and carried into the index.
func (ix *Indexer) CreateDatasetIndex(dir string) (*models.DatasetIndex, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("pipeline: resolve %s: %w", dir, err)
	}
	id := filepath.Base(abs)
	g := ix.newGroup()

	data, err := os.ReadFile(filepath.Join(abs, SessionFile))
	switch {
	case err == nil:
		if err := session.Unmarshal(data, g); err != nil {
			return nil, fmt.Errorf("pipeline: %s: %s: %w", id, SessionFile, err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("pipeline: %s: %w", id, err)
	}
	if err := setDefault(g, "projectID", id); err != nil {
		return nil, fmt.Errorf("pipeline: %s: %w", id, err)
	}
	if err := setDefault(g, "title", id); err != nil {
		return nil, fmt.Errorf("pipeline: %s: %w", id, err)
	}

	files, err := listFiles(abs)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %s: %w", id, err)
	}

	idx := &models.DatasetIndex{
		Meta:    models.Meta{ProjectID: id, ProjectDir: abs},
		Dataset: models.Dataset{Title: id, Metadata: make(map[string]map[string]any)},
		Files:   files,
	}
	if b, ok := g.Owner("title"); ok {
		if v, ok := b.Leaf("title"); ok {
			idx.Dataset.Title = v.String()
		}
	}
	for _, b := range g.Blocks() {
		if len(b.Keys()) > 0 {
			idx.Dataset.Metadata[b.Name()] = b.Flatten()
		}
	}
	return idx, nil
}

// setDefault sets a leaf through the owning block unless it already holds a
// value. Unknown fields are ignored.
func setDefault(g *metadata.Group, field, value string) error {
	b, ok := g.Owner(field)
	if !ok {
		return nil
	}
	if _, set := b.Leaf(field); set {
		return nil
	}
	return b.SetField(field, value, "")
}

func listFiles(root string) ([]models.DataFile, error) {
	var out []models.DataFile
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") && p != root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || (name == SessionFile && filepath.Dir(p) == root) {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		f := models.DataFile{Filename: filepath.ToSlash(rel)}
		if dir := filepath.Dir(rel); dir != "." {
			f.DirectoryLabel = filepath.ToSlash(dir)
		}
		out = append(out, f)
		return nil
	})
	return out, err
}
