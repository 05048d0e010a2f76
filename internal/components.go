package internal

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/toltec-astro/dvpipe/internal/dataverse"
	"github.com/toltec-astro/dvpipe/internal/lmt"
	"github.com/toltec-astro/dvpipe/internal/metaservice"
	"github.com/toltec-astro/dvpipe/internal/pipeline"
	"github.com/toltec-astro/dvpipe/internal/storage"
)

// ErrDataverseDisabled is returned when a command needs Dataverse but no
// base URL is configured.
var ErrDataverseDisabled = errors.New("dataverse: base_url is not configured")

// Components is the domain layer wired from a Config.
type Components struct {
	Catalog  *lmt.Catalog
	Indices  *pipeline.IndexStore
	Store    *storage.FS
	Client   *dataverse.Client   // nil when Dataverse is not configured
	Uploader *dataverse.Uploader // nil when Dataverse is not configured
	Runner   *pipeline.Runner    // nil when no project parent path is set
	Service  *metaservice.Service
}

// NewClient returns a Dataverse client configured from cfg.
func NewClient(cfg *DataverseConfig, logger *slog.Logger) (*dataverse.Client, error) {
	if !cfg.Enabled() {
		return nil, ErrDataverseDisabled
	}
	return dataverse.New(cfg.BaseURL, cfg.APIToken,
		dataverse.WithLogger(logger),
		dataverse.WithRateLimit(cfg.RateLimit),
		dataverse.WithRetry(uint64(cfg.Retries), cfg.RetryWait),
		dataverse.WithTimeout(cfg.Timeout),
	), nil
}

// Build wires the catalog, the index store, the Dataverse client and the job
// runner from cfg.
func Build(cfg *Config, logger *slog.Logger) (*Components, error) {
	catalog, err := lmt.Default()
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	store, err := storage.NewFS(cfg.Work.IndexDir, true)
	if err != nil {
		return nil, fmt.Errorf("init index store: %w", err)
	}
	c := &Components{
		Catalog: catalog,
		Store:   store,
		Indices: pipeline.NewIndexStore(store),
	}

	if cfg.Dataverse.Enabled() {
		c.Client, err = NewClient(&cfg.Dataverse, logger)
		if err != nil {
			return nil, err
		}
		c.Uploader = dataverse.NewUploader(c.Client, catalog.NewGroup, logger)
	}

	if cfg.Project.Enabled() {
		re, err := cfg.Project.Regexp()
		if err != nil {
			return nil, err
		}
		opts := []pipeline.RunnerOption{pipeline.WithLogger(logger)}
		if c.Uploader != nil {
			action, err := dataverse.ParseAction(cfg.Upload.Action)
			if err != nil {
				return nil, err
			}
			publish, err := dataverse.ParsePublishType(cfg.Upload.Publish)
			if err != nil {
				return nil, err
			}
			opts = append(opts, pipeline.WithUploader(c.Uploader, cfg.Upload.Parent, action, publish))
		}
		c.Runner = pipeline.NewRunner(cfg.Project.ParentPath, re,
			pipeline.NewIndexer(catalog.NewGroup), c.Indices, opts...)
	}

	c.Service = metaservice.NewService(catalog, c.Indices, c.Runner)
	return c, nil
}

// Close releases the Dataverse client.
func (c *Components) Close() error {
	if c.Client != nil {
		return c.Client.Close()
	}
	return nil
}
