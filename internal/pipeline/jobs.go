package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"

	"github.com/hashicorp/go-multierror"

	"github.com/toltec-astro/dvpipe/internal/apperr"
	"github.com/toltec-astro/dvpipe/internal/dataverse"
	"github.com/toltec-astro/dvpipe/internal/models"
)

// Job names.
const (
	JobCreateIndices  = "create_lmtslr_project_dataset_indices"
	JobUploadDatasets = "upload_lmtslr_project_datasets"
)

// DatasetUploader deposits one dataset index.
type DatasetUploader interface {
	UploadDataset(ctx context.Context, parent string, idx *models.DatasetIndex, action dataverse.Action, publish dataverse.PublishType) (*dataverse.UploadResult, error)
}

var _ DatasetUploader = (*dataverse.Uploader)(nil)

// Job is a named pipeline run returning the number of items it processed.
type Job struct {
	Name        string
	Description string
	Run         func(ctx context.Context) (int, error)
}

// Runner drives the pipeline jobs over the project directories below
// ParentPath.
type Runner struct {
	parentPath string
	pattern    *regexp.Regexp
	indexer    *Indexer
	indices    *IndexStore
	uploader   DatasetUploader
	dvParent   string
	action     dataverse.Action
	publish    dataverse.PublishType
	logger     *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithUploader enables the upload job.
func WithUploader(u DatasetUploader, parent string, action dataverse.Action, publish dataverse.PublishType) RunnerOption {
	return func(r *Runner) {
		r.uploader = u
		r.dvParent = parent
		r.action = action
		r.publish = publish
	}
}

// WithLogger sets the runner logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// NewRunner returns a runner over the project directories below parentPath
// matching pattern.
func NewRunner(parentPath string, pattern *regexp.Regexp, indexer *Indexer, indices *IndexStore, opts ...RunnerOption) *Runner {
	r := &Runner{
		parentPath: parentPath,
		pattern:    pattern,
		indexer:    indexer,
		indices:    indices,
		dvParent:   ":root",
		action:     dataverse.ActionNone,
		publish:    dataverse.PublishNone,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Jobs lists the jobs the runner provides, sorted by name.
func (r *Runner) Jobs() []Job {
	jobs := []Job{
		{
			Name:        JobCreateIndices,
			Description: "Create a dataset index for every project directory.",
			Run:         r.CreateIndices,
		},
		{
			Name:        JobUploadDatasets,
			Description: "Create the dataset index of every project directory and deposit it.",
			Run:         r.UploadDatasets,
		},
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
	return jobs
}

// Run runs the job called name.
func (r *Runner) Run(ctx context.Context, name string) (int, error) {
	for _, j := range r.Jobs() {
		if j.Name == name {
			r.logger.Info("pipeline: job started", slog.String("job", name))
			n, err := j.Run(ctx)
			r.logger.Info("pipeline: job finished",
				slog.String("job", name),
				slog.Int("n_items", n),
				slog.Bool("failed", err != nil))
			return n, err
		}
	}
	return 0, fmt.Errorf("pipeline: job %q: %w", name, apperr.ErrNotFound)
}

// IndexProject creates and stores the index of one project directory.
func (r *Runner) IndexProject(dir string) (*models.DatasetIndex, error) {
	idx, err := r.indexer.CreateDatasetIndex(dir)
	if err != nil {
		return nil, err
	}
	p, err := r.indices.Save(idx)
	if err != nil {
		return nil, err
	}
	r.logger.Info("pipeline: dataset index written",
		slog.String("project_id", idx.Meta.ProjectID),
		slog.String("path", p),
		slog.Int("files", len(idx.Files)))
	return idx, nil
}

// each calls fn for every project directory, collecting failures. It returns
// the number of directories fn succeeded on.
func (r *Runner) each(ctx context.Context, fn func(dir string) error) (int, error) {
	dirs, err := FindProjectDirs(r.parentPath, r.pattern)
	if err != nil {
		return 0, err
	}
	var (
		n    int
		errs *multierror.Error
	)
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			errs = multierror.Append(errs, err)
			break
		}
		if err := fn(dir); err != nil {
			r.logger.Warn("pipeline: project failed", slog.String("dir", dir), slog.String("error", err.Error()))
			errs = multierror.Append(errs, err)
			continue
		}
		n++
	}
	return n, errs.ErrorOrNil()
}

// CreateIndices indexes every project directory.
func (r *Runner) CreateIndices(ctx context.Context) (int, error) {
	return r.each(ctx, func(dir string) error {
		_, err := r.IndexProject(dir)
		return err
	})
}

// UploadDatasets indexes and deposits every project directory.
func (r *Runner) UploadDatasets(ctx context.Context) (int, error) {
	if r.uploader == nil {
		return 0, errors.New("pipeline: upload job needs a dataverse connection")
	}
	return r.each(ctx, func(dir string) error {
		idx, err := r.IndexProject(dir)
		if err != nil {
			return err
		}
		res, err := r.uploader.UploadDataset(ctx, r.dvParent, idx, r.action, r.publish)
		if err != nil {
			return fmt.Errorf("pipeline: upload %s: %w", idx.Meta.ProjectID, err)
		}
		r.logger.Info("pipeline: dataset deposited",
			slog.String("project_id", idx.Meta.ProjectID),
			slog.String("pid", res.PID))
		return nil
	})
}
