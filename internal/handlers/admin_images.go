package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	domain "github.com/maplewick/api/internal/domain"
	"github.com/maplewick/api/internal/platform/httpx"
	"github.com/maplewick/api/internal/repositories"
	fsrepo "github.com/maplewick/api/internal/repositories/firestore"
	"github.com/maplewick/api/internal/services"
)

const maxReconcileBodyBytes = 1 << 20

// AdminImageHandlers exposes image reconciliation endpoints for operators.
type AdminImageHandlers struct {
	reconcile services.ReconcileService
	publisher services.ReconcileJobPublisher
	reports   repositories.ReportRepository
	clock     func() time.Time
}

// AdminImageOption customises construction of AdminImageHandlers.
type AdminImageOption func(*AdminImageHandlers)

// WithReconcileService injects the reconcile service dependency.
func WithReconcileService(svc services.ReconcileService) AdminImageOption {
	return func(h *AdminImageHandlers) {
		h.reconcile = svc
	}
}

// WithReconcilePublisher injects the asynchronous job publisher.
func WithReconcilePublisher(pub services.ReconcileJobPublisher) AdminImageOption {
	return func(h *AdminImageHandlers) {
		h.publisher = pub
	}
}

// WithReconcileReports injects the archived run repository.
func WithReconcileReports(repo repositories.ReportRepository) AdminImageOption {
	return func(h *AdminImageHandlers) {
		h.reports = repo
	}
}

// WithAdminImageClock injects a custom clock (useful for tests).
func WithAdminImageClock(clock func() time.Time) AdminImageOption {
	return func(h *AdminImageHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewAdminImageHandlers constructs the admin image endpoints.
func NewAdminImageHandlers(opts ...AdminImageOption) *AdminImageHandlers {
	handler := &AdminImageHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(handler)
		}
	}
	return handler
}

// Routes registers admin image endpoints against the provided router.
func (h *AdminImageHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/images/reconcile", h.reconcileAll)
	r.Post("/images/reconcile/{sku}", h.reconcileOne)
	r.Get("/images/diagnose/{sku}", h.diagnose)
	r.Get("/images/runs", h.listRuns)
	r.Get("/images/runs/{runID}", h.getRun)
}

type reconcileRequest struct {
	SKUs             []string `json:"skus,omitempty"`
	DryRun           bool     `json:"dryRun,omitempty"`
	SkipVerification bool     `json:"skipVerification,omitempty"`
	// Async enqueues the run on Pub/Sub instead of blocking the request.
	Async bool `json:"async,omitempty"`
}

func (h *AdminImageHandlers) reconcileAll(w http.ResponseWriter, r *http.Request) {
	if h.reconcile == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("reconcile_unavailable", "reconcile service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req reconcileRequest
	if err := decodeJSONBody(r, &req); err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	if req.Async {
		h.enqueue(w, r, req)
		return
	}

	report, err := h.reconcile.Reconcile(r.Context(), services.ReconcileOptions{
		SKUs:             req.SKUs,
		DryRun:           req.DryRun,
		SkipVerification: req.SkipVerification,
	})
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("reconcile_failed", err.Error(), http.StatusInternalServerError))
		return
	}
	writeJSON(w, http.StatusOK, reconcileReportPayload(report))
}

func (h *AdminImageHandlers) enqueue(w http.ResponseWriter, r *http.Request, req reconcileRequest) {
	if h.publisher == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("jobs_unavailable", "asynchronous runs are not configured", http.StatusServiceUnavailable))
		return
	}

	message := services.ReconcileJobMessage{
		JobID:       strings.ToLower(ulid.Make().String()),
		SKUs:        req.SKUs,
		DryRun:      req.DryRun,
		RequestedBy: strings.TrimSpace(r.Header.Get("X-Operator")),
		EnqueuedAt:  h.clock().UTC().Format(time.RFC3339),
	}
	messageID, err := h.publisher.PublishReconcileJob(r.Context(), message)
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("enqueue_failed", err.Error(), http.StatusBadGateway))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"jobId":     message.JobID,
		"messageId": messageID,
	})
}

func (h *AdminImageHandlers) reconcileOne(w http.ResponseWriter, r *http.Request) {
	h.runForSKU(w, r, false)
}

// diagnose runs the single-SKU pipeline without persisting, surfacing the
// per-candidate verification verdicts.
func (h *AdminImageHandlers) diagnose(w http.ResponseWriter, r *http.Request) {
	h.runForSKU(w, r, true)
}

func (h *AdminImageHandlers) runForSKU(w http.ResponseWriter, r *http.Request, dryRun bool) {
	if h.reconcile == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("reconcile_unavailable", "reconcile service is unavailable", http.StatusServiceUnavailable))
		return
	}

	sku := strings.TrimSpace(chi.URLParam(r, "sku"))
	if sku == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_sku", "sku is required", http.StatusBadRequest))
		return
	}

	resolved, detail, err := h.reconcile.ReconcileSKU(r.Context(), sku, services.ReconcileOptions{DryRun: dryRun})
	if err != nil {
		if errors.Is(err, repositories.ErrProductNotFound) {
			httpx.WriteError(r.Context(), w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
			return
		}
		httpx.WriteError(r.Context(), w, httpx.NewError("reconcile_failed", err.Error(), http.StatusInternalServerError))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sku":          resolved.SKU,
		"primaryImage": resolved.Primary(),
		"images":       resolved.URLs,
		"resolved":     !resolved.IsEmpty(),
		"dryRun":       dryRun,
		"detail":       verificationPayloads(detail),
	})
}

func (h *AdminImageHandlers) listRuns(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("runs_unavailable", "run archive is not configured", http.StatusServiceUnavailable))
		return
	}

	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "limit must be a positive integer", http.StatusBadRequest))
			return
		}
		limit = parsed
	}

	reports, err := h.reports.ListReconcileReports(r.Context(), limit)
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("runs_error", err.Error(), http.StatusInternalServerError))
		return
	}

	payloads := make([]map[string]any, 0, len(reports))
	for _, report := range reports {
		payloads = append(payloads, reconcileReportPayload(report))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": payloads})
}

func (h *AdminImageHandlers) getRun(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("runs_unavailable", "run archive is not configured", http.StatusServiceUnavailable))
		return
	}

	runID := strings.TrimSpace(chi.URLParam(r, "runID"))
	report, err := h.reports.GetReconcileReport(r.Context(), runID)
	if err != nil {
		if errors.Is(err, fsrepo.ErrReportNotFound) {
			httpx.WriteError(r.Context(), w, httpx.NewError("run_not_found", "run not found", http.StatusNotFound))
			return
		}
		httpx.WriteError(r.Context(), w, httpx.NewError("runs_error", err.Error(), http.StatusInternalServerError))
		return
	}
	writeJSON(w, http.StatusOK, reconcileReportPayload(report))
}

func reconcileReportPayload(report domain.ReconcileReport) map[string]any {
	results := make(map[string]any, len(report.Results))
	for sku, resolved := range report.Results {
		results[sku] = map[string]any{
			"primaryImage": resolved.Primary(),
			"images":       resolved.URLs,
			"resolved":     !resolved.IsEmpty(),
		}
	}
	payload := map[string]any{
		"runId":      report.RunID,
		"startedAt":  report.StartedAt.UTC().Format(time.RFC3339),
		"finishedAt": report.FinishedAt.UTC().Format(time.RFC3339),
		"products":   report.Products,
		"resolved":   report.Resolved,
		"unresolved": report.Unresolved,
		"persisted":  report.Persisted,
		"results":    results,
	}
	if len(report.WriteErrors) > 0 {
		payload["writeErrors"] = report.WriteErrors
	}
	if len(report.Detail) > 0 {
		payload["detail"] = verificationPayloads(report.Detail)
	}
	return payload
}

func verificationPayloads(results []domain.VerificationResult) []map[string]any {
	payloads := make([]map[string]any, 0, len(results))
	for _, result := range results {
		entry := map[string]any{
			"url":        result.URL,
			"status":     string(result.Status),
			"retryCount": result.RetryCount,
		}
		if result.Error != "" {
			entry["error"] = result.Error
		}
		if result.Class != "" {
			entry["class"] = string(result.Class)
		}
		payloads = append(payloads, entry)
	}
	return payloads
}

func decodeJSONBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxReconcileBodyBytes))
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	return json.Unmarshal(body, target)
}
