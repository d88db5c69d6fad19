package services

import (
	"context"
	"io"

	domain "github.com/maplewick/api/internal/domain"
)

// CatalogService exposes storefront product listings with display-ready images.
type CatalogService interface {
	ListProducts(ctx context.Context, filter domain.ProductFilter) (domain.CursorPage[domain.ProductView], error)
	GetProduct(ctx context.Context, sku string) (domain.ProductView, error)
}

// ObjectLister enumerates objects in the product image bucket.
type ObjectLister interface {
	ListObjects(ctx context.Context, search string, limit int) ([]domain.StorageObject, error)
}

// URLVerifier probes image URLs for reachability.
type URLVerifier interface {
	Verify(ctx context.Context, rawURL string) domain.VerificationResult
	VerifyAll(ctx context.Context, urls []string) []domain.VerificationResult
}

// ReconcileService matches products to storage imagery and persists the outcome.
type ReconcileService interface {
	Reconcile(ctx context.Context, opts ReconcileOptions) (domain.ReconcileReport, error)
	ReconcileSKU(ctx context.Context, sku string, opts ReconcileOptions) (domain.ResolvedImageSet, []domain.VerificationResult, error)
}

// ReconcileOptions tune a reconciliation run.
type ReconcileOptions struct {
	// SKUs limits the run to the named products. Empty means every product.
	SKUs []string
	// DryRun computes results without persisting them.
	DryRun bool
	// SkipVerification trusts candidate URLs without probing them.
	SkipVerification bool
}

// ReconcileJobMessage is the payload published for asynchronous bulk runs.
type ReconcileJobMessage struct {
	JobID       string   `json:"jobId"`
	SKUs        []string `json:"skus,omitempty"`
	DryRun      bool     `json:"dryRun,omitempty"`
	RequestedBy string   `json:"requestedBy,omitempty"`
	EnqueuedAt  string   `json:"enqueuedAt"`
}

// ReconcileJobPublisher enqueues asynchronous reconcile runs.
type ReconcileJobPublisher interface {
	PublishReconcileJob(ctx context.Context, message ReconcileJobMessage) (string, error)
}

// ImportService ingests product rows from uploaded CSV or XLSX files.
type ImportService interface {
	ImportCSV(ctx context.Context, source string, r io.Reader) (domain.ImportReport, error)
	ImportXLSX(ctx context.Context, source string, r io.Reader, size int64) (domain.ImportReport, error)
}

// StorageService reports bucket health, sweeps orphaned objects, and
// stores uploaded product imagery.
type StorageService interface {
	CheckHealth(ctx context.Context) (domain.StorageHealth, error)
	CleanupOrphans(ctx context.Context, deleteOrphans bool) (domain.CleanupReport, error)
	EnsureBucket(ctx context.Context) error
	UploadProductImage(ctx context.Context, sku, filename, contentType string, body io.Reader) (domain.ImageUpload, error)
}
