// Package blobstore provides flat-directory storage for uploaded image files.
package blobstore

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrBlobNotFound is returned when a requested blob does not exist.
var ErrBlobNotFound = errors.New("blob not found")

// ErrInvalidName is returned for names that could escape the storage directory
// or that were not generated by the server.
var ErrInvalidName = errors.New("invalid blob name")

// Info describes a stored blob.
type Info struct {
	Name      string
	Size      int64
	CreatedAt time.Time
}

// ReadSeekCloser is returned by Open so callers can serve ranges.
type ReadSeekCloser interface {
	io.ReadSeeker
	io.Closer
}

// BlobStore defines the contract for storing uploaded files by generated name.
type BlobStore interface {
	// Put creates or replaces the named blob. The name must be server-generated
	// (see ValidName). The blob is visible under its name only once fully written.
	Put(ctx context.Context, name string, data []byte) error

	// Has checks whether a blob exists.
	Has(ctx context.Context, name string) (bool, error)

	// Stat returns the metadata of a blob.
	// Returns ErrBlobNotFound if the blob does not exist.
	Stat(ctx context.Context, name string) (Info, error)

	// Open returns the blob contents for reading along with its metadata.
	// Returns ErrBlobNotFound if the blob does not exist.
	Open(ctx context.Context, name string) (ReadSeekCloser, Info, error)

	// Read returns the blob contents as a stream.
	// Returns ErrBlobNotFound if the blob does not exist.
	Read(ctx context.Context, name string) (io.ReadCloser, error)

	// Delete removes a blob. No error if it doesn't exist.
	Delete(ctx context.Context, name string) error

	// List returns every stored blob with its metadata.
	List(ctx context.Context) ([]Info, error)
}
