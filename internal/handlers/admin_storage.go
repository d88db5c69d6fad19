package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/maplewick/api/internal/domain"
	"github.com/maplewick/api/internal/platform/httpx"
	"github.com/maplewick/api/internal/repositories"
	"github.com/maplewick/api/internal/services"
)

// AdminStorageHandlers exposes bucket health, cleanup, and upload endpoints.
type AdminStorageHandlers struct {
	storage services.StorageService
}

// AdminStorageOption customises construction of AdminStorageHandlers.
type AdminStorageOption func(*AdminStorageHandlers)

// WithStorageService injects the storage service dependency.
func WithStorageService(svc services.StorageService) AdminStorageOption {
	return func(h *AdminStorageHandlers) {
		h.storage = svc
	}
}

// NewAdminStorageHandlers constructs the admin storage endpoints.
func NewAdminStorageHandlers(opts ...AdminStorageOption) *AdminStorageHandlers {
	handler := &AdminStorageHandlers{}
	for _, opt := range opts {
		if opt != nil {
			opt(handler)
		}
	}
	return handler
}

// Routes registers admin storage endpoints against the provided router.
func (h *AdminStorageHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/storage/health", h.health)
	r.Post("/storage/cleanup", h.cleanup)
	r.Post("/storage/ensure", h.ensure)
	r.Post("/storage/images/{sku}", h.uploadImage)
}

func (h *AdminStorageHandlers) health(w http.ResponseWriter, r *http.Request) {
	if h.storage == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("storage_unavailable", "storage service is unavailable", http.StatusServiceUnavailable))
		return
	}

	health, err := h.storage.CheckHealth(r.Context())
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("storage_error", err.Error(), http.StatusInternalServerError))
		return
	}
	writeJSON(w, http.StatusOK, storageHealthPayload(health))
}

// cleanup sweeps for orphaned bucket objects. Deletion requires an explicit
// delete=true query parameter; the default response is a dry-run report.
func (h *AdminStorageHandlers) cleanup(w http.ResponseWriter, r *http.Request) {
	if h.storage == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("storage_unavailable", "storage service is unavailable", http.StatusServiceUnavailable))
		return
	}

	deleteOrphans := strings.EqualFold(strings.TrimSpace(r.URL.Query().Get("delete")), "true")

	report, err := h.storage.CleanupOrphans(r.Context(), deleteOrphans)
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("storage_error", err.Error(), http.StatusInternalServerError))
		return
	}

	payload := map[string]any{
		"bucket":  report.Bucket,
		"scanned": report.Scanned,
		"orphans": report.Orphans,
		"deleted": report.Deleted,
		"dryRun":  report.DryRun,
	}
	if len(report.Failures) > 0 {
		payload["failures"] = report.Failures
	}
	writeJSON(w, http.StatusOK, payload)
}

// ensure creates the image bucket when it is missing.
func (h *AdminStorageHandlers) ensure(w http.ResponseWriter, r *http.Request) {
	if h.storage == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("storage_unavailable", "storage service is unavailable", http.StatusServiceUnavailable))
		return
	}

	if err := h.storage.EnsureBucket(r.Context()); err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("storage_error", err.Error(), http.StatusInternalServerError))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ensured": true})
}

// uploadImage stores a multipart "file" part as a product image.
func (h *AdminStorageHandlers) uploadImage(w http.ResponseWriter, r *http.Request) {
	if h.storage == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("storage_unavailable", "storage service is unavailable", http.StatusServiceUnavailable))
		return
	}

	sku := strings.TrimSpace(chi.URLParam(r, "sku"))
	if sku == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "sku is required", http.StatusBadRequest))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxImportBodyBytes)
	if err := r.ParseMultipartForm(maxImportBodyBytes); err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "multipart form with a file part is required", http.StatusBadRequest))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "file part is required", http.StatusBadRequest))
		return
	}
	defer file.Close()

	upload, err := h.storage.UploadProductImage(r.Context(), sku, header.Filename, header.Header.Get("Content-Type"), file)
	if errors.Is(err, repositories.ErrProductNotFound) {
		httpx.WriteError(r.Context(), w, httpx.NewError("product_not_found", "no product with sku "+sku, http.StatusNotFound))
		return
	}
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("storage_error", err.Error(), http.StatusInternalServerError))
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"sku":        upload.SKU,
		"object":     upload.Object,
		"url":        upload.URL,
		"size":       upload.Size,
		"uploadedAt": upload.UploadedAt.UTC().Format(time.RFC3339),
	})
}

func storageHealthPayload(health domain.StorageHealth) map[string]any {
	payload := map[string]any{
		"bucket":      health.Bucket,
		"exists":      health.Exists,
		"listable":    health.Listable,
		"objectCount": health.ObjectCount,
		"checkedAt":   health.CheckedAt.UTC().Format(time.RFC3339),
	}
	if health.SampleURL != "" {
		payload["sampleUrl"] = health.SampleURL
		payload["sampleOk"] = health.SampleOK
	}
	if health.Detail != "" {
		payload["detail"] = health.Detail
	}
	return payload
}
