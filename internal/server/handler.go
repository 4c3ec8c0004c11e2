// Package server implements the imgdedup HTTP handlers and middleware.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/Nrfhsa/Image-To-URL/internal/dedup"
)

// uploadField is the multipart field carrying the image.
const uploadField = "image"

// deleteAll is the image= value that clears the whole store.
const deleteAll = "all"

// multipartOverhead is the allowance for multipart framing on top of the file size.
const multipartOverhead = 64 * 1024

// Config holds the HTTP surface settings.
type Config struct {
	PublicURL         string // base for returned image URLs; derived from the request when empty
	PublicDir         string // static upload page served at /
	APIKey            string
	ProtectListing    bool
	CORSOrigins       []string
	RequestsPerMinute int
	MaxWebhookBody    int64
	Notifier          *Notifier
}

// DefaultConfig returns reasonable defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxWebhookBody: 1 << 20,
	}
}

// Handler creates the HTTP handler with all routes and middleware.
// The returned cleanup function stops background goroutines and waits for
// pending notifications; call it on server shutdown.
func Handler(svc *dedup.Service, cfg *Config, logger *slog.Logger) (http.Handler, func()) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxWebhookBody <= 0 {
		cfg.MaxWebhookBody = DefaultConfig().MaxWebhookBody
	}
	if logger == nil {
		logger = slog.Default()
	}

	h := &api{svc: svc, cfg: cfg, logger: logger, notify: cfg.Notifier}
	rl := newRateLimiter(cfg.RequestsPerMinute)
	admin := requireAPIKey(cfg.APIKey)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", h.readyz)

	mux.HandleFunc("POST /upload", h.upload)
	mux.HandleFunc("GET /image/{filename}", h.image)
	mux.HandleFunc("POST /webhook", h.webhook)

	if cfg.ProtectListing {
		mux.Handle("GET /files", admin(http.HandlerFunc(h.files)))
	} else {
		mux.HandleFunc("GET /files", h.files)
	}
	mux.Handle("GET /delete", admin(http.HandlerFunc(h.delete)))
	mux.Handle("DELETE /delete", admin(http.HandlerFunc(h.delete)))

	if cfg.PublicDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(cfg.PublicDir)))
	}

	handler := applyMiddleware(mux,
		recoveryMiddleware(logger),
		loggingMiddleware(logger),
		requestIDMiddleware,
		corsMiddleware(cfg.CORSOrigins),
		rl.middleware,
	)

	cleanup := func() {
		rl.Stop()
		cfg.Notifier.Wait()
	}

	return handler, cleanup
}

// applyMiddleware applies middleware in reverse order so the first in the list
// runs first. Nil entries are skipped.
func applyMiddleware(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			h = mws[i](h)
		}
	}
	return h
}

type api struct {
	svc    *dedup.Service
	cfg    *Config
	logger *slog.Logger
	notify *Notifier
}

// --- Response shapes ---

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type fileInfo struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimetype"`
}

type uploadResponse struct {
	Success     bool     `json:"success"`
	Message     string   `json:"message"`
	ImageURL    string   `json:"imageUrl"`
	IsDuplicate bool     `json:"isDuplicate"`
	FileInfo    fileInfo `json:"fileInfo"`
}

type listedFile struct {
	Filename   string    `json:"filename"`
	URL        string    `json:"url"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploadedAt"`
	MimeType   string    `json:"mimetype"`
}

type listResponse struct {
	Success bool         `json:"success"`
	Count   int          `json:"count"`
	Files   []listedFile `json:"files"`
}

type deleteAllResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Deleted int      `json:"deleted"`
	Failed  []string `json:"failed,omitempty"`
}

// --- Upload ---

func (h *api) upload(w http.ResponseWriter, r *http.Request) {
	maxSize := h.svc.MaxUploadSize()
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

	req, err := readUpload(r, maxSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.svc.Upload(r.Context(), *req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	message := "Upload successful"
	if res.IsDuplicate {
		message = "File already exists"
	} else {
		h.notify.Notify(EventUpload, res.Filename, res.Fingerprint)
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		Success:     true,
		Message:     message,
		ImageURL:    publicURL(r, h.cfg.PublicURL, res.Path),
		IsDuplicate: res.IsDuplicate,
		FileInfo: fileInfo{
			Filename: res.Filename,
			Size:     res.Size,
			MimeType: res.MimeType,
		},
	})
}

// readUpload streams the multipart body and returns the first image part,
// reading at most maxSize+1 bytes of it.
func readUpload(r *http.Request, maxSize int64) (*dedup.UploadRequest, error) {
	const op = "upload"

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, dedup.E(dedup.KindValidation, op, "", "no file uploaded")
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, dedup.E(dedup.KindValidation, op, "", "no file uploaded")
		}
		if err != nil {
			return nil, bodyError(op, err)
		}
		if part.FormName() != uploadField || part.FileName() == "" {
			part.Close()
			continue
		}
		return readPart(part, maxSize)
	}
}

func readPart(part *multipart.Part, maxSize int64) (*dedup.UploadRequest, error) {
	defer part.Close()
	data, err := io.ReadAll(io.LimitReader(part, maxSize+1))
	if err != nil {
		return nil, bodyError("upload", err)
	}
	return &dedup.UploadRequest{
		Filename:    part.FileName(),
		ContentType: part.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func bodyError(op string, err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return dedup.E(dedup.KindTooLarge, op, "", fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
	}
	return &dedup.Error{Kind: dedup.KindValidation, Op: op, Msg: "malformed multipart body", Err: err}
}

// --- Files ---

func (h *api) files(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]listedFile, 0, len(list))
	for _, f := range list {
		out = append(out, listedFile{
			Filename:   f.Filename,
			URL:        publicURL(r, h.cfg.PublicURL, f.Path),
			Size:       f.Size,
			UploadedAt: f.UploadedAt.UTC(),
			MimeType:   f.MimeType,
		})
	}
	writeJSON(w, http.StatusOK, listResponse{Success: true, Count: len(out), Files: out})
}

// --- Delete ---

func (h *api) delete(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("image"))
	if name == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "image parameter is required"})
		return
	}

	if name == deleteAll {
		res, err := h.svc.DeleteAll(r.Context())
		if err != nil {
			status := statusFor(dedup.KindOf(err))
			h.logger.Error("delete all incomplete", "error", err, "request_id", requestID(r))
			writeJSON(w, status, deleteAllResponse{
				Message: errorMessage(err),
				Deleted: len(res.Deleted),
				Failed:  res.Failed,
			})
			return
		}
		h.notify.Notify(EventDeleteAll, "", "")
		writeJSON(w, http.StatusOK, deleteAllResponse{
			Success: true,
			Message: "All files deleted",
			Deleted: len(res.Deleted),
		})
		return
	}

	fp, err := h.svc.Delete(r.Context(), name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.notify.Notify(EventDelete, name, fp)
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "File deleted: " + name})
}

// --- Image ---

func (h *api) image(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")
	f, info, err := h.svc.Open(r.Context(), name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", h.svc.MimeType(name))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeContent(w, r, name, info.CreatedAt, f)
}

// --- Deployment webhook ---

// deployEvent is the subset of a deployment platform callback that is logged.
type deployEvent struct {
	Type       string `json:"type"`
	Deployment *struct {
		ID string `json:"id"`
	} `json:"deployment"`
}

func (h *api) webhook(w http.ResponseWriter, r *http.Request) {
	var ev deployEvent
	if err := readJSON(r, h.cfg.MaxWebhookBody, &ev); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: err.Error()})
		return
	}

	var deploymentID string
	if ev.Deployment != nil {
		deploymentID = ev.Deployment.ID
	}

	switch ev.Type {
	case "DEPLOYMENT_SUCCEEDED":
		h.logger.Info("deployment succeeded", "deployment_id", deploymentID)
	case "DEPLOYMENT_FAILED":
		h.logger.Warn("deployment failed", "deployment_id", deploymentID)
	default:
		h.logger.Info("webhook event received", "type", ev.Type, "deployment_id", deploymentID)
	}

	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Webhook received and processed"})
}

// --- Health ---

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *api) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"entries": h.svc.Stats().Entries,
	})
}

// --- Helpers ---

func (h *api) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(dedup.KindOf(err))
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", r.URL.Path, "error", err, "request_id", requestID(r))
	} else {
		h.logger.Debug("request rejected", "path", r.URL.Path, "error", err, "request_id", requestID(r))
	}
	writeJSON(w, status, errorResponse{Message: errorMessage(err)})
}

func statusFor(kind dedup.Kind) int {
	switch kind {
	case dedup.KindValidation:
		return http.StatusBadRequest
	case dedup.KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case dedup.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage returns client-safe text; causes of storage failures stay in the log.
func errorMessage(err error) string {
	var e *dedup.Error
	if errors.As(err, &e) {
		return e.Message()
	}
	return "internal server error"
}

// publicURL joins the configured base, or the request's scheme and host, with path.
func publicURL(r *http.Request, base, path string) string {
	if base != "" {
		return strings.TrimRight(base, "/") + path
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}
	return scheme + "://" + r.Host + path
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, maxSize int64, v interface{}) error {
	limited := io.LimitReader(r.Body, maxSize)
	if err := json.NewDecoder(limited).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}
