package api

import (
	"github.com/toltec-astro/dvpipe/internal/metaservice"
	"github.com/toltec-astro/dvpipe/internal/models"
)

// BlockInfo is a block summary (aliased from the service layer).
type BlockInfo = metaservice.BlockInfo

// FieldInfo is a field definition (aliased from the service layer).
type FieldInfo = metaservice.FieldInfo

// BlockListResponse wraps the block listing.
type BlockListResponse struct {
	Blocks []BlockInfo `json:"blocks" validate:"required"`
}

// FieldListResponse wraps the fields of one block.
type FieldListResponse struct {
	Block  string      `json:"block" example:"LMTData" validate:"required"`
	Fields []FieldInfo `json:"fields" validate:"required"`
}

// IndexListResponse wraps the stored dataset indices.
type IndexListResponse struct {
	Indices []models.IndexSummary `json:"indices" validate:"required"`
}

// JobListResponse wraps the pipeline jobs.
type JobListResponse struct {
	Jobs []metaservice.JobInfo `json:"jobs" validate:"required"`
}

// JobRunResponse reports one job run. Error is set when some items failed.
type JobRunResponse struct {
	Job   string `json:"job" example:"create_lmtslr_project_dataset_indices" validate:"required"`
	Items int    `json:"items" example:"3"`
	Error string `json:"error,omitempty"`
}
