// Package metaservice is the application layer shared by the HTTP API, the
// MCP server and the CLI: schema lookup, metadata conversion, dataset indices
// and pipeline jobs.
package metaservice

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/toltec-astro/dvpipe/internal/apperr"
	"github.com/toltec-astro/dvpipe/internal/lmt"
	"github.com/toltec-astro/dvpipe/internal/metadata"
	"github.com/toltec-astro/dvpipe/internal/models"
	"github.com/toltec-astro/dvpipe/internal/pipeline"
	"github.com/toltec-astro/dvpipe/internal/session"
)

// Format names a metadata representation.
type Format string

const (
	// FormatFlat is JSON of block name to flat field map.
	FormatFlat Format = "flat"
	// FormatWire is the Dataverse metadataBlocks JSON document.
	FormatWire Format = "wire"
	// FormatSession is the YAML session document.
	FormatSession Format = "session"
)

// ParseFormat validates s as a Format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatFlat, FormatWire, FormatSession:
		return f, nil
	}
	return "", fmt.Errorf("metaservice: unknown format %q (want flat, wire or session)", s)
}

// BlockInfo summarizes a metadata block.
type BlockInfo struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Fields   int    `json:"fields"`
	Required int    `json:"required"`
}

// FieldInfo is a field definition with its allowed values.
type FieldInfo struct {
	metadata.FieldDefinition
	Block         string   `json:"block"`
	Children      []string `json:"children,omitempty"`
	AllowedValues []string `json:"allowed_values,omitempty"`
}

// Service coordinates the schema catalog, the index store and the pipeline.
type Service struct {
	catalog *lmt.Catalog
	indices *pipeline.IndexStore
	runner  *pipeline.Runner
}

// NewService creates a service. indices and runner may be nil when the
// caller has no work directory.
func NewService(catalog *lmt.Catalog, indices *pipeline.IndexStore, runner *pipeline.Runner) *Service {
	return &Service{catalog: catalog, indices: indices, runner: runner}
}

// NewGroup returns an empty group of every known block.
func (s *Service) NewGroup() *metadata.Group { return s.catalog.NewGroup() }

// Blocks lists the known metadata blocks.
func (s *Service) Blocks(_ context.Context) []BlockInfo {
	var out []BlockInfo
	for _, sc := range s.catalog.Schemas() {
		info := BlockInfo{Name: sc.Name(), Version: sc.Version()}
		for _, f := range sc.Fields() {
			info.Fields++
			if f.Required {
				info.Required++
			}
		}
		out = append(out, info)
	}
	return out
}

func (s *Service) fieldInfo(sc *metadata.Schema, f metadata.FieldDefinition) FieldInfo {
	return FieldInfo{
		FieldDefinition: f,
		Block:           sc.Name(),
		Children:        sc.Children(f.Name),
		AllowedValues:   sc.AllowedValues(f.Name),
	}
}

// Fields lists the fields of block in schema order.
func (s *Service) Fields(_ context.Context, block string) ([]FieldInfo, error) {
	sc, ok := s.catalog.Schema(block)
	if !ok {
		return nil, fmt.Errorf("metaservice: block %q: %w", block, apperr.ErrNotFound)
	}
	fields := sc.Fields()
	out := make([]FieldInfo, len(fields))
	for i, f := range fields {
		out[i] = s.fieldInfo(sc, f)
	}
	return out, nil
}

// Field looks name up across every block.
func (s *Service) Field(_ context.Context, name string) (*FieldInfo, error) {
	for _, sc := range s.catalog.Schemas() {
		if f, ok := sc.Field(name); ok {
			info := s.fieldInfo(sc, f)
			return &info, nil
		}
	}
	return nil, fmt.Errorf("metaservice: field %q: %w", name, apperr.ErrNotFound)
}

// Load parses data in format from into a fresh group, validating every value.
func (s *Service) Load(data []byte, from Format) (*metadata.Group, error) {
	g := s.catalog.NewGroup()
	switch from {
	case FormatFlat:
		var m map[string]map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, &metadata.StructuralError{Reason: "malformed flat document: " + err.Error()}
		}
		if err := g.LoadFlat(m); err != nil {
			return nil, err
		}
	case FormatWire:
		doc, err := metadata.ParseDocument(data)
		if err != nil {
			return nil, err
		}
		if err := g.FromWire(doc); err != nil {
			return nil, err
		}
	case FormatSession:
		if err := session.Unmarshal(data, g); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("metaservice: unknown format %q", from)
	}
	return g, nil
}

// Render encodes g in format to.
func (s *Service) Render(g *metadata.Group, to Format) ([]byte, error) {
	switch to {
	case FormatFlat:
		return json.MarshalIndent(g.Flatten(), "", "  ")
	case FormatWire:
		return g.ToWire().JSON()
	case FormatSession:
		return session.Marshal(g)
	}
	return nil, fmt.Errorf("metaservice: unknown format %q", to)
}

// Convert re-encodes metadata from one format to another. With validate set
// every block must carry its required fields.
func (s *Service) Convert(_ context.Context, data []byte, from, to Format, validate bool) ([]byte, error) {
	g, err := s.Load(data, from)
	if err != nil {
		return nil, err
	}
	if validate {
		if err := g.Validate(); err != nil {
			return nil, err
		}
	}
	return s.Render(g, to)
}

// ToWire converts flat metadata to the wire document.
func (s *Service) ToWire(_ context.Context, flat map[string]map[string]any) (metadata.Document, error) {
	g := s.catalog.NewGroup()
	if err := g.LoadFlat(flat); err != nil {
		return nil, err
	}
	return g.ToWire(), nil
}

// FromWire converts a wire document to flat metadata.
func (s *Service) FromWire(_ context.Context, doc metadata.Document) (map[string]map[string]any, error) {
	g := s.catalog.NewGroup()
	if err := g.FromWire(doc); err != nil {
		return nil, err
	}
	return g.Flatten(), nil
}

// Example returns the reference session.
func (s *Service) Example(_ context.Context, now time.Time) (*metadata.Group, error) {
	return s.catalog.Example(now)
}

func (s *Service) needIndices() error {
	if s.indices == nil {
		return fmt.Errorf("metaservice: no index store configured")
	}
	return nil
}

// Indices lists the stored dataset indices.
func (s *Service) Indices(_ context.Context) ([]models.IndexSummary, error) {
	if err := s.needIndices(); err != nil {
		return nil, err
	}
	items, err := s.indices.List()
	return nonNilSlice(items), err
}

// Index returns one stored dataset index.
func (s *Service) Index(_ context.Context, projectID string) (*models.DatasetIndex, error) {
	if err := s.needIndices(); err != nil {
		return nil, err
	}
	return s.indices.Load(projectID)
}

// DeleteIndex removes one stored dataset index.
func (s *Service) DeleteIndex(_ context.Context, projectID string) error {
	if err := s.needIndices(); err != nil {
		return err
	}
	return s.indices.Delete(projectID)
}

// JobInfo describes a pipeline job.
type JobInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Jobs lists the pipeline jobs.
func (s *Service) Jobs(_ context.Context) []JobInfo {
	if s.runner == nil {
		return []JobInfo{}
	}
	var out []JobInfo
	for _, j := range s.runner.Jobs() {
		out = append(out, JobInfo{Name: j.Name, Description: j.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RunJob runs the pipeline job name and returns the number of items it
// processed.
func (s *Service) RunJob(ctx context.Context, name string) (int, error) {
	if s.runner == nil {
		return 0, fmt.Errorf("metaservice: job %q: %w", name, apperr.ErrNotFound)
	}
	return s.runner.Run(ctx, name)
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
