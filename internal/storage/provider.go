// Package storage defines the work-directory file abstraction dataset
// indices and sessions are kept in.
package storage

import "github.com/toltec-astro/dvpipe/internal/models"

// Provider is the interface for work-directory file operations. Paths are
// relative to the provider root.
type Provider interface {
	// List returns every YAML document under dir.
	List(dir string) ([]models.FileInfo, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically replaces the file at path with content.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
}
