package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// validName matches a server-generated blob name: 32 hex chars plus a lowercase extension.
var validName = regexp.MustCompile(`^[0-9a-f]{32}\.[a-z0-9]{1,10}$`)

// ValidName reports whether name has the shape of a server-generated blob name.
func ValidName(name string) bool {
	return validName.MatchString(name)
}

// FSStore implements BlobStore using one flat directory.
// Temporary files are hidden (dot-prefixed) and never listed.
type FSStore struct {
	root string
}

// NewFSStore creates the storage directory (and parents) if needed and returns
// a store rooted there. Calling it on an existing directory is a no-op.
func NewFSStore(root string) (*FSStore, error) {
	if root == "" {
		return nil, errors.New("blob root is required")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &FSStore{root: root}, nil
}

// Root returns the storage directory.
func (s *FSStore) Root() string {
	return s.root
}

// Put writes data to a temp file, syncs it, and renames it over name.
func (s *FSStore) Put(ctx context.Context, name string, data []byte) error {
	if !ValidName(name) {
		return fmt.Errorf("put %q: %w", name, ErrInvalidName)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(s.root, ".blob-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write blob data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync blob data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	// Last chance to abandon the write before it becomes visible.
	if err := ctx.Err(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, s.blobPath(name)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename blob: %w", err)
	}
	return nil
}

// Has checks whether a blob exists.
func (s *FSStore) Has(_ context.Context, name string) (bool, error) {
	if !safeName(name) {
		return false, nil
	}
	_, err := os.Stat(s.blobPath(name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat blob %s: %w", name, err)
	}
	return true, nil
}

// Stat returns the metadata of a blob.
func (s *FSStore) Stat(_ context.Context, name string) (Info, error) {
	if !safeName(name) {
		return Info{}, fmt.Errorf("stat %q: %w", name, ErrInvalidName)
	}
	fi, err := os.Stat(s.blobPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return Info{}, ErrBlobNotFound
		}
		return Info{}, fmt.Errorf("stat blob %s: %w", name, err)
	}
	if !fi.Mode().IsRegular() {
		return Info{}, ErrBlobNotFound
	}
	return toInfo(fi), nil
}

// Open opens a blob for reading.
func (s *FSStore) Open(_ context.Context, name string) (ReadSeekCloser, Info, error) {
	if !safeName(name) {
		return nil, Info{}, ErrBlobNotFound
	}
	f, err := os.Open(s.blobPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Info{}, ErrBlobNotFound
		}
		return nil, Info{}, fmt.Errorf("open blob %s: %w", name, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, Info{}, fmt.Errorf("stat blob %s: %w", name, err)
	}
	if !fi.Mode().IsRegular() {
		f.Close()
		return nil, Info{}, ErrBlobNotFound
	}
	return f, toInfo(fi), nil
}

// Read opens a blob for sequential reading.
func (s *FSStore) Read(ctx context.Context, name string) (io.ReadCloser, error) {
	f, _, err := s.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Delete removes a blob. Missing blobs are not an error.
func (s *FSStore) Delete(_ context.Context, name string) error {
	if !safeName(name) {
		return fmt.Errorf("delete %q: %w", name, ErrInvalidName)
	}
	if err := os.Remove(s.blobPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob %s: %w", name, err)
	}
	return nil
}

// List returns all regular, non-hidden files in the storage directory.
func (s *FSStore) List(ctx context.Context) ([]Info, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}

	infos := make([]Info, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue // removed while listing
			}
			return nil, fmt.Errorf("stat blob %s: %w", e.Name(), err)
		}
		infos = append(infos, toInfo(fi))
	}
	return infos, nil
}

// blobPath returns the filesystem path for a blob.
func (s *FSStore) blobPath(name string) string {
	return filepath.Join(s.root, name)
}

// safeName rejects names that are empty, hidden, or contain path elements.
// Files placed in the directory out-of-band may have any such safe name.
func safeName(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && filepath.Base(name) == name
}

func toInfo(fi os.FileInfo) Info {
	return Info{Name: fi.Name(), Size: fi.Size(), CreatedAt: fi.ModTime()}
}
