// Package storage defines the file-system abstraction for Markdown sources
// and the built site.
package storage

import "github.com/starford/embedmark/internal/models"

// Provider is the interface for file operations under one root directory.
type Provider interface {
	// Root returns the absolute root directory.
	Root() string
	// List returns metadata for every .md file under dir (relative to root).
	List(dir string) ([]models.SourceMetadata, error)
	// Read returns the raw bytes of the file at path (relative to root).
	Read(path string) ([]byte, error)
	// Write atomically writes content to path (relative to root).
	Write(path string, content []byte) error
	// Delete removes the file at path (relative to root) and any parent
	// directories left empty, up to the root.
	Delete(path string) error
}
