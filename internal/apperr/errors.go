// Package apperr holds the sentinel errors shared across the service layers.
package apperr

import "errors"

// ErrNotFound marks a missing block, field, dataset index, job or remote
// Dataverse object.
var ErrNotFound = errors.New("not found")
