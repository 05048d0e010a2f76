package pipeline

import (
	"bytes"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/toltec-astro/dvpipe/internal/models"
	"github.com/toltec-astro/dvpipe/internal/storage"
)

// IndexStore keeps one "<project_id>.yaml" document per dataset index.
type IndexStore struct {
	store storage.Provider
}

// NewIndexStore returns an index store over store.
func NewIndexStore(store storage.Provider) *IndexStore {
	return &IndexStore{store: store}
}

func indexPath(projectID string) (string, error) {
	if projectID == "" || strings.ContainsAny(projectID, `/\`) || strings.HasPrefix(projectID, ".") {
		return "", fmt.Errorf("pipeline: invalid project id %q", projectID)
	}
	return projectID + ".yaml", nil
}

// Save writes idx and returns the stored path.
func (s *IndexStore) Save(idx *models.DatasetIndex) (string, error) {
	p, err := indexPath(idx.Meta.ProjectID)
	if err != nil {
		return "", err
	}
	data, err := models.MarshalIndex(idx)
	if err != nil {
		return "", err
	}
	if err := s.store.Write(p, data); err != nil {
		return "", err
	}
	return p, nil
}

// Load reads the index of projectID. A missing index wraps apperr.ErrNotFound.
func (s *IndexStore) Load(projectID string) (*models.DatasetIndex, error) {
	p, err := indexPath(projectID)
	if err != nil {
		return nil, err
	}
	data, err := s.store.Read(p)
	if err != nil {
		return nil, err
	}
	return models.ReadIndex(bytes.NewReader(data))
}

// Delete removes the index of projectID.
func (s *IndexStore) Delete(projectID string) error {
	p, err := indexPath(projectID)
	if err != nil {
		return err
	}
	return s.store.Delete(p)
}

// List summarizes every readable index at the store root, sorted by
// project id. Documents that are not dataset indices are skipped.
func (s *IndexStore) List() ([]models.IndexSummary, error) {
	files, err := s.store.List("")
	if err != nil {
		return nil, err
	}
	var out []models.IndexSummary
	for _, f := range files {
		if path.Dir(f.Path) != "." {
			continue
		}
		data, err := s.store.Read(f.Path)
		if err != nil {
			continue
		}
		idx, err := models.ReadIndex(bytes.NewReader(data))
		if err != nil {
			continue
		}
		out = append(out, models.IndexSummary{
			ProjectID: idx.Meta.ProjectID,
			Title:     idx.Dataset.Title,
			Files:     len(idx.Files),
			Path:      f.Path,
			Checksum:  f.Checksum,
			UpdatedAt: f.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProjectID < out[j].ProjectID })
	return out, nil
}
