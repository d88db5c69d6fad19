package handlers

import (
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/maplewick/api/internal/domain"
	"github.com/maplewick/api/internal/platform/httpx"
	"github.com/maplewick/api/internal/services"
)

const maxImportBodyBytes = 32 << 20

// AdminImportHandlers accepts product export files for ingestion.
type AdminImportHandlers struct {
	importer services.ImportService
}

// AdminImportOption customises construction of AdminImportHandlers.
type AdminImportOption func(*AdminImportHandlers)

// WithImportService injects the import service dependency.
func WithImportService(svc services.ImportService) AdminImportOption {
	return func(h *AdminImportHandlers) {
		h.importer = svc
	}
}

// NewAdminImportHandlers constructs the admin import endpoints.
func NewAdminImportHandlers(opts ...AdminImportOption) *AdminImportHandlers {
	handler := &AdminImportHandlers{}
	for _, opt := range opts {
		if opt != nil {
			opt(handler)
		}
	}
	return handler
}

// Routes registers admin import endpoints against the provided router.
func (h *AdminImportHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/imports", h.importFile)
}

// importFile reads a multipart "file" part and dispatches on extension.
func (h *AdminImportHandlers) importFile(w http.ResponseWriter, r *http.Request) {
	if h.importer == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("import_unavailable", "import service is unavailable", http.StatusServiceUnavailable))
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

	filename := strings.TrimSpace(header.Filename)
	var report domain.ImportReport
	switch strings.ToLower(path.Ext(filename)) {
	case ".csv":
		report, err = h.importer.ImportCSV(r.Context(), filename, file)
	case ".xlsx":
		report, err = h.importer.ImportXLSX(r.Context(), filename, file, header.Size)
	default:
		httpx.WriteError(r.Context(), w, httpx.NewError("unsupported_format", "only .csv and .xlsx files are supported", http.StatusUnsupportedMediaType))
		return
	}
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("import_failed", err.Error(), http.StatusUnprocessableEntity))
		return
	}

	writeJSON(w, http.StatusOK, importReportPayload(report))
}

func importReportPayload(report domain.ImportReport) map[string]any {
	errors := make([]map[string]any, 0, len(report.Errors))
	for _, importErr := range report.Errors {
		entry := map[string]any{
			"line":   importErr.Line,
			"reason": importErr.Reason,
		}
		if importErr.SKU != "" {
			entry["sku"] = importErr.SKU
		}
		errors = append(errors, entry)
	}
	return map[string]any{
		"runId":     report.RunID,
		"source":    report.Source,
		"startedAt": report.StartedAt.UTC().Format(time.RFC3339),
		"total":     report.Total,
		"imported":  report.Imported,
		"skipped":   report.Skipped,
		"errors":    errors,
	}
}
