// Package models holds the dataset index records the pipeline writes for
// each project and uploads to Dataverse.
package models

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// DatasetIndex describes one dataset to be deposited: where it came from,
// its metadata blocks and the files to attach.
type DatasetIndex struct {
	Meta    Meta       `yaml:"meta" json:"meta"`
	Dataset Dataset    `yaml:"dataset" json:"dataset"`
	Files   []DataFile `yaml:"files,omitempty" json:"files,omitempty"`
}

// Meta carries pipeline bookkeeping that is not sent to the repository.
type Meta struct {
	ProjectID  string         `yaml:"project_id" json:"project_id"`
	ProjectDir string         `yaml:"project_dir,omitempty" json:"project_dir,omitempty"`
	Extra      map[string]any `yaml:",inline" json:"extra,omitempty"`
}

// Dataset holds the dataset title and its metadata, keyed by block name then
// field name in flat form.
type Dataset struct {
	Title    string                    `yaml:"title" json:"title"`
	Metadata map[string]map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// DataFile is one file of the dataset. Filename is relative to the project
// directory unless absolute.
type DataFile struct {
	Filename       string   `yaml:"filename" json:"filename"`
	Label          string   `yaml:"label,omitempty" json:"label,omitempty"`
	Description    string   `yaml:"description,omitempty" json:"description,omitempty"`
	DirectoryLabel string   `yaml:"directoryLabel,omitempty" json:"directoryLabel,omitempty"`
	Categories     []string `yaml:"categories,omitempty" json:"categories,omitempty"`
	Restrict       bool     `yaml:"restrict,omitempty" json:"restrict,omitempty"`
}

// DisplayLabel returns Label, falling back to the base name of Filename.
func (f DataFile) DisplayLabel() string {
	if f.Label != "" {
		return f.Label
	}
	return path.Base(f.Filename)
}

// Validate implements validation.Validatable.
func (idx *DatasetIndex) Validate() error {
	return validation.ValidateStruct(idx,
		validation.Field(&idx.Meta),
		validation.Field(&idx.Dataset),
		validation.Field(&idx.Files),
	)
}

func (m Meta) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.ProjectID, validation.Required),
	)
}

func (d Dataset) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Title, validation.Required),
	)
}

func (f DataFile) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Filename, validation.Required),
	)
}

// ReadIndex decodes and validates a dataset index document.
func ReadIndex(r io.Reader) (*DatasetIndex, error) {
	var idx DatasetIndex
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&idx); err != nil {
		return nil, fmt.Errorf("models: decode dataset index: %w", err)
	}
	if err := idx.Validate(); err != nil {
		return nil, fmt.Errorf("models: invalid dataset index: %w", err)
	}
	return &idx, nil
}

// MarshalIndex encodes idx as YAML.
func MarshalIndex(idx *DatasetIndex) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(idx); err != nil {
		return nil, fmt.Errorf("models: encode dataset index: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("models: encode dataset index: %w", err)
	}
	return buf.Bytes(), nil
}

// FileInfo is the lightweight listing entry returned by storage.
type FileInfo struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IndexSummary is what list operations report for a stored dataset index.
type IndexSummary struct {
	ProjectID string    `json:"project_id"`
	Title     string    `json:"title"`
	Files     int       `json:"files"`
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}
