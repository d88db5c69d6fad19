package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/maplewick/api/internal/domain"
	pfirestore "github.com/maplewick/api/internal/platform/firestore"
	"github.com/maplewick/api/internal/repositories"
)

const reportCollection = "reconcileRuns"

var ErrReportNotFound = errors.New("report repository: run not found")

// ReportRepository archives reconciliation run reports keyed by run ID.
type ReportRepository struct {
	base *pfirestore.BaseRepository[reconcileRunDocument]
}

// NewReportRepository constructs a Firestore-backed report repository.
func NewReportRepository(provider *pfirestore.Provider) (*ReportRepository, error) {
	if provider == nil {
		return nil, errors.New("report repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[reconcileRunDocument](provider, reportCollection, nil, nil)
	return &ReportRepository{base: base}, nil
}

// SaveReconcileReport stores the report under its run ID.
func (r *ReportRepository) SaveReconcileReport(ctx context.Context, report domain.ReconcileReport) error {
	runID := strings.TrimSpace(report.RunID)
	if runID == "" {
		return errors.New("report repository: run id is required")
	}
	_, err := r.base.Set(ctx, runID, encodeReconcileRun(report))
	return err
}

// GetReconcileReport fetches a single archived run.
func (r *ReportRepository) GetReconcileReport(ctx context.Context, runID string) (domain.ReconcileReport, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return domain.ReconcileReport{}, errors.New("report repository: run id is required")
	}
	doc, err := r.base.Get(ctx, runID)
	if err != nil {
		if pfirestore.IsNotFound(err) {
			return domain.ReconcileReport{}, ErrReportNotFound
		}
		return domain.ReconcileReport{}, err
	}
	return decodeReconcileRun(doc.ID, doc.Data), nil
}

// ListReconcileReports returns the most recent runs, newest first.
func (r *ReportRepository) ListReconcileReports(ctx context.Context, limit int) ([]domain.ReconcileReport, error) {
	if limit <= 0 {
		limit = 20
	}
	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.OrderBy("StartedAt", firestore.Desc).Limit(limit)
	})
	if err != nil {
		return nil, err
	}
	reports := make([]domain.ReconcileReport, 0, len(docs))
	for _, doc := range docs {
		reports = append(reports, decodeReconcileRun(doc.ID, doc.Data))
	}
	return reports, nil
}

// reconcileRunDocument flattens the per-SKU result map into parallel rows,
// keeping the document shape query-friendly.
type reconcileRunDocument struct {
	StartedAt   time.Time
	FinishedAt  time.Time
	Products    int
	Resolved    int
	Unresolved  int
	Persisted   int
	WriteErrors []string
	Rows        []reconcileRunRow
}

type reconcileRunRow struct {
	SKU  string
	URLs []string
}

func encodeReconcileRun(report domain.ReconcileReport) reconcileRunDocument {
	rows := make([]reconcileRunRow, 0, len(report.Results))
	for sku, resolved := range report.Results {
		rows = append(rows, reconcileRunRow{SKU: sku, URLs: resolved.URLs})
	}
	return reconcileRunDocument{
		StartedAt:   report.StartedAt.UTC(),
		FinishedAt:  report.FinishedAt.UTC(),
		Products:    report.Products,
		Resolved:    report.Resolved,
		Unresolved:  report.Unresolved,
		Persisted:   report.Persisted,
		WriteErrors: report.WriteErrors,
		Rows:        rows,
	}
}

func decodeReconcileRun(runID string, doc reconcileRunDocument) domain.ReconcileReport {
	results := make(map[string]domain.ResolvedImageSet, len(doc.Rows))
	for _, row := range doc.Rows {
		results[row.SKU] = domain.ResolvedImageSet{SKU: row.SKU, URLs: row.URLs}
	}
	return domain.ReconcileReport{
		RunID:       runID,
		StartedAt:   doc.StartedAt,
		FinishedAt:  doc.FinishedAt,
		Products:    doc.Products,
		Resolved:    doc.Resolved,
		Unresolved:  doc.Unresolved,
		Persisted:   doc.Persisted,
		WriteErrors: doc.WriteErrors,
		Results:     results,
	}
}

// Ensure interface compliance.
var _ repositories.ReportRepository = (*ReportRepository)(nil)
