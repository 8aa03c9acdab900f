// Package storage persists generated artifacts (rendered QR code PNGs) to
// object storage: S3-compatible services in production, a local directory
// in development.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrInvalidConfig indicates missing required storage configuration.
	ErrInvalidConfig = errors.New("invalid storage configuration")

	// ErrNotFound indicates no object exists at the path.
	ErrNotFound = errors.New("object not found")

	// ErrFailedToStore indicates a write failure.
	ErrFailedToStore = errors.New("failed to store object")

	// ErrInvalidPath indicates a path that escapes the storage root.
	ErrInvalidPath = errors.New("invalid object path")
)

// Storage is the object storage gateway.
type Storage interface {
	// Put writes data at path with the given content type, overwriting
	// any existing object.
	Put(ctx context.Context, path string, data []byte, contentType string) error

	// Get reads the object at path, or ErrNotFound.
	Get(ctx context.Context, path string) ([]byte, error)

	// Delete removes the object at path. Deleting a missing object is
	// not an error.
	Delete(ctx context.Context, path string) error

	// URL returns the public URL for path.
	URL(path string) string
}
