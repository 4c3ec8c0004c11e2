// Package dedup implements the upload pipeline of the image store: validate,
// fingerprint, store once, and answer every later copy with the first filename.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Nrfhsa/Image-To-URL/internal/blobstore"
	"github.com/Nrfhsa/Image-To-URL/internal/fingerprint"
	"github.com/Nrfhsa/Image-To-URL/internal/index"
)

// DefaultMaxUploadSize is the largest accepted upload (5 MiB).
const DefaultMaxUploadSize int64 = 5 << 20

// ImagePathPrefix is the URL path under which stored blobs are served.
const ImagePathPrefix = "/image/"

// extensionTypes maps the built-in image extensions to their MIME type.
var extensionTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// DefaultAllowedTypes lists the accepted image MIME types.
var DefaultAllowedTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

// Persister writes the index to durable storage.
type Persister interface {
	Flush(ctx context.Context) error
}

// Options configures a Service.
type Options struct {
	Blobs         blobstore.BlobStore
	Index         *index.Index
	Persister     Persister
	MaxUploadSize int64
	AllowedTypes  []string
	Logger        *slog.Logger
}

// UploadRequest is one received file.
type UploadRequest struct {
	Filename    string
	ContentType string
	Data        []byte
}

// UploadResult describes the stored (or already present) file.
type UploadResult struct {
	Filename    string
	Fingerprint string
	Path        string
	MimeType    string
	Size        int64
	IsDuplicate bool
}

// FileInfo is one entry of a listing.
type FileInfo struct {
	Filename    string    `json:"filename"`
	Fingerprint string    `json:"fingerprint"`
	Path        string    `json:"path"`
	MimeType    string    `json:"mimetype"`
	Size        int64     `json:"size"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

// DeleteAllResult reports what a bulk delete removed.
type DeleteAllResult struct {
	Deleted []string
	Failed  []string
}

// Stats is a point-in-time summary of the store.
type Stats struct {
	Entries int
}

// Service is the dedup store. All methods are safe for concurrent use.
type Service struct {
	blobs     blobstore.BlobStore
	index     *index.Index
	persister Persister
	maxSize   int64
	allowed   map[string]bool
	exts      map[string]string // accepted extension -> MIME type
	logger    *slog.Logger

	// mu serializes every index mutation that pairs with a blob store change.
	mu sync.Mutex
}

// NewService validates opts and returns a ready service.
func NewService(opts Options) (*Service, error) {
	if opts.Blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if opts.Index == nil {
		return nil, errors.New("index is required")
	}
	maxSize := opts.MaxUploadSize
	if maxSize <= 0 {
		maxSize = DefaultMaxUploadSize
	}
	types := opts.AllowedTypes
	if len(types) == 0 {
		types = DefaultAllowedTypes
	}
	allowed := make(map[string]bool, len(types))
	for _, t := range types {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			allowed[t] = true
		}
	}
	exts, err := extensionsFor(allowed)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		blobs:     opts.Blobs,
		index:     opts.Index,
		persister: opts.Persister,
		maxSize:   maxSize,
		allowed:   allowed,
		exts:      exts,
		logger:    logger,
	}, nil
}

// extensionsFor maps every extension known for the allowed types to its type.
// The built-in table wins over the system MIME registry.
func extensionsFor(allowed map[string]bool) (map[string]string, error) {
	exts := make(map[string]string)
	for t := range allowed {
		known, _ := mime.ExtensionsByType(t)
		for _, ext := range known {
			ext = strings.ToLower(ext)
			if _, ok := exts[ext]; !ok {
				exts[ext] = t
			}
		}
	}
	for ext, t := range extensionTypes {
		if allowed[t] {
			exts[ext] = t
		}
	}

	covered := make(map[string]bool, len(allowed))
	for _, t := range exts {
		covered[t] = true
	}
	var unknown []string
	for t := range allowed {
		if !covered[t] {
			unknown = append(unknown, t)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("no file extension known for allowed type(s): %s", strings.Join(unknown, ", "))
	}
	return exts, nil
}

// MaxUploadSize returns the configured upload limit in bytes.
func (s *Service) MaxUploadSize() int64 {
	return s.maxSize
}

// Upload stores req unless identical bytes were stored before, in which case
// the existing filename is returned with IsDuplicate set.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	const op = "upload"

	if len(req.Data) == 0 {
		return nil, E(KindValidation, op, "", "no file uploaded")
	}
	if req.Filename == "" {
		return nil, E(KindValidation, op, "", "filename is required")
	}
	ext := strings.ToLower(path.Ext(req.Filename))
	if err := s.checkType(req.ContentType, ext); err != nil {
		return nil, err
	}
	if int64(len(req.Data)) > s.maxSize {
		return nil, E(KindTooLarge, op, req.Filename, fmt.Sprintf("file exceeds the %d byte limit", s.maxSize))
	}

	fp := fingerprint.Sum(req.Data)
	size := int64(len(req.Data))

	if name, ok := s.index.Lookup(fp); ok {
		s.logger.Debug("duplicate upload", "filename", name, "fingerprint", fp)
		return s.result(name, fp, size, true), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another upload of the same bytes may have won the race for the lock.
	if name, ok := s.index.Lookup(fp); ok {
		return s.result(name, fp, size, true), nil
	}

	if err := ctx.Err(); err != nil {
		return nil, Wrap(KindStorage, op, req.Filename, err)
	}

	name := fp + ext
	if err := s.blobs.Put(ctx, name, req.Data); err != nil {
		return nil, Wrap(KindStorage, op, name, err)
	}
	s.index.Insert(fp, name)

	s.logger.Info("file stored", "filename", name, "original", req.Filename, "size", size)
	return s.result(name, fp, size, false), nil
}

// checkType requires both the declared content type and the extension to be accepted.
func (s *Service) checkType(contentType, ext string) error {
	const op = "upload"

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !s.allowed[strings.ToLower(mediaType)] {
		return E(KindValidation, op, "", "only image files are allowed")
	}
	if _, ok := s.exts[ext]; !ok {
		return E(KindValidation, op, "", "only image files are allowed")
	}
	return nil
}

// result describes the stored file name. The MIME type follows the stored
// extension, which for a duplicate may differ from what the request declared.
func (s *Service) result(name, fp string, size int64, dup bool) *UploadResult {
	return &UploadResult{
		Filename:    name,
		Fingerprint: fp,
		Path:        ImagePathPrefix + name,
		MimeType:    s.MimeType(name),
		Size:        size,
		IsDuplicate: dup,
	}
}

// List joins the index with blob metadata, newest first. Entries whose blob
// has disappeared are dropped from the index and left out of the result.
func (s *Service) List(ctx context.Context) ([]FileInfo, error) {
	const op = "list"

	entries, _ := s.index.Snapshot()
	files := make([]FileInfo, 0, len(entries))
	var missing map[string]string

	for fp, name := range entries {
		info, err := s.blobs.Stat(ctx, name)
		if errors.Is(err, blobstore.ErrBlobNotFound) || errors.Is(err, blobstore.ErrInvalidName) {
			if missing == nil {
				missing = make(map[string]string)
			}
			missing[fp] = name
			continue
		}
		if err != nil {
			return nil, Wrap(KindStorage, op, name, err)
		}
		files = append(files, FileInfo{
			Filename:    name,
			Fingerprint: fp,
			Path:        ImagePathPrefix + name,
			MimeType:    s.MimeType(name),
			Size:        info.Size,
			UploadedAt:  info.CreatedAt,
		})
	}

	if len(missing) > 0 {
		s.heal(ctx, missing)
	}

	sort.Slice(files, func(i, j int) bool {
		if !files[i].UploadedAt.Equal(files[j].UploadedAt) {
			return files[i].UploadedAt.After(files[j].UploadedAt)
		}
		return files[i].Filename < files[j].Filename
	})
	return files, nil
}

// heal removes index entries that point at missing blobs.
func (s *Service) heal(ctx context.Context, missing map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for fp, name := range missing {
		// Recheck under the lock; an upload may have just written it.
		if has, err := s.blobs.Has(ctx, name); err != nil || has {
			continue
		}
		if s.index.RemoveIf(fp, name) {
			removed++
			s.logger.Warn("index entry without backing file removed", "filename", name, "fingerprint", fp)
		}
	}
	if removed > 0 {
		s.persist(ctx, "list")
	}
}

// Delete removes one stored file and its index entry and returns the
// fingerprint it was stored under.
func (s *Service) Delete(ctx context.Context, filename string) (string, error) {
	const op = "delete"

	s.mu.Lock()
	defer s.mu.Unlock()

	fp, ok := s.index.LookupFilename(filename)
	if !ok {
		return "", E(KindNotFound, op, filename, "file not found")
	}
	if err := s.blobs.Delete(ctx, filename); err != nil {
		return "", Wrap(KindStorage, op, filename, err)
	}
	if !s.index.RemoveIf(fp, filename) {
		return "", E(KindConsistency, op, filename, "index entry changed during delete")
	}

	s.logger.Info("file deleted", "filename", filename, "fingerprint", fp)
	s.persist(ctx, op)
	return fp, nil
}

// DeleteAll removes every indexed file. Entries whose blob could not be
// deleted stay indexed and are reported in the returned error.
func (s *Service) DeleteAll(ctx context.Context) (*DeleteAllResult, error) {
	const op = "delete all"

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, _ := s.index.Snapshot()
	result := &DeleteAllResult{}
	var errs []error

	for fp, name := range entries {
		if err := s.blobs.Delete(ctx, name); err != nil {
			result.Failed = append(result.Failed, name)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		s.index.RemoveIf(fp, name)
		result.Deleted = append(result.Deleted, name)
	}
	sort.Strings(result.Deleted)
	sort.Strings(result.Failed)

	if len(errs) == 0 {
		s.index.Clear()
	}
	s.logger.Info("all files deleted", "deleted", len(result.Deleted), "failed", len(result.Failed))
	s.persist(ctx, op)

	if len(errs) > 0 {
		return result, &Error{
			Kind: KindStorage,
			Op:   op,
			Msg:  fmt.Sprintf("failed to delete %d file(s): %s", len(result.Failed), strings.Join(result.Failed, ", ")),
			Err:  errors.Join(errs...),
		}
	}
	return result, nil
}

// persist flushes the snapshot after a deletion. A failed flush is logged;
// the periodic flusher retries it.
func (s *Service) persist(ctx context.Context, op string) {
	if s.persister == nil {
		return
	}
	if err := s.persister.Flush(ctx); err != nil {
		s.logger.Error("snapshot flush failed", "op", op, "error", err)
	}
}

// Flush writes the index snapshot now.
func (s *Service) Flush(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	return s.persister.Flush(ctx)
}

// Stats returns the current entry count.
func (s *Service) Stats() Stats {
	return Stats{Entries: s.index.Len()}
}

// Open returns a stored file for reading. Any file present in the blob
// store can be served, tracked or not.
func (s *Service) Open(ctx context.Context, name string) (blobstore.ReadSeekCloser, blobstore.Info, error) {
	r, info, err := s.blobs.Open(ctx, name)
	if errors.Is(err, blobstore.ErrBlobNotFound) {
		return nil, blobstore.Info{}, E(KindNotFound, "open", name, "file not found")
	}
	if err != nil {
		return nil, blobstore.Info{}, Wrap(KindStorage, "open", name, err)
	}
	return r, info, nil
}

// Resolve reports whether name is a tracked file.
func (s *Service) Resolve(name string) (string, bool) {
	return s.index.LookupFilename(name)
}

// MimeType returns the MIME type for name's extension, preferring the
// service's accepted types.
func (s *Service) MimeType(name string) string {
	if t, ok := s.exts[strings.ToLower(path.Ext(name))]; ok {
		return t
	}
	return MimeTypeOf(name)
}

// MimeTypeOf returns the image MIME type for name's extension. Extensions
// the system registry maps to a non-image type are served as octet-stream.
func MimeTypeOf(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	if t, _, err := mime.ParseMediaType(mime.TypeByExtension(ext)); err == nil && strings.HasPrefix(t, "image/") {
		return t
	}
	return "application/octet-stream"
}
