package repositories

import (
	"context"

	domain "github.com/maplewick/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ProductRepository persists catalog products keyed by SKU.
type ProductRepository interface {
	// List returns products matching the filter, ordered by SKU.
	List(ctx context.Context, filter domain.ProductFilter, pager domain.Pagination) (domain.CursorPage[domain.Product], error)
	// GetBySKU fetches a single product.
	GetBySKU(ctx context.Context, sku string) (domain.Product, error)
	// Upsert creates or replaces the product document.
	Upsert(ctx context.Context, product domain.Product) error
	// UpdateImages persists the reconciled image set for a product.
	UpdateImages(ctx context.Context, sku string, primaryURL string, images []string) error
	// Count reports the number of products matching the filter.
	Count(ctx context.Context, filter domain.ProductFilter) (int, error)
}

// ReportRepository archives reconciliation run reports for diagnostic surfaces.
type ReportRepository interface {
	SaveReconcileReport(ctx context.Context, report domain.ReconcileReport) error
	GetReconcileReport(ctx context.Context, runID string) (domain.ReconcileReport, error)
	ListReconcileReports(ctx context.Context, limit int) ([]domain.ReconcileReport, error)
}

// HealthRepository verifies connectivity to the product store.
type HealthRepository interface {
	Ping(ctx context.Context) error
}
