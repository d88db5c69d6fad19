package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	domain "github.com/maplewick/api/internal/domain"
	"github.com/maplewick/api/internal/repositories"
)

const (
	healthListLimit           = 100
	defaultHealthProbeTimeout = 3 * time.Second
)

// ErrStorageBucketMissing indicates the bucket dependency is absent.
var ErrStorageBucketMissing = errors.New("storage service: bucket client is not configured")

// BucketInspector is the slice of bucket behaviour the storage service needs.
type BucketInspector interface {
	Bucket() string
	Exists(ctx context.Context) (bool, error)
	EnsureBucket(ctx context.Context) error
	ListObjects(ctx context.Context, search string, limit int) ([]domain.StorageObject, error)
	Upload(ctx context.Context, object, contentType string, body io.Reader) (string, error)
	Attrs(ctx context.Context, object string) (domain.StorageObject, error)
	Delete(ctx context.Context, object string) error
}

// StorageServiceDeps bundles constructor inputs for the storage service.
type StorageServiceDeps struct {
	Bucket   BucketInspector
	Products repositories.ProductRepository
	Verifier URLVerifier
	// Resolve maps a bucket object name to its public URL.
	Resolve func(object string) string
	// ObjectKey builds the bucket object name for an uploaded image.
	ObjectKey func(sku, filename string, now time.Time) string
	// ProbeTimeout bounds the sample-object probe during health checks.
	ProbeTimeout time.Duration
	Clock        func() time.Time
}

type storageService struct {
	bucket       BucketInspector
	products     repositories.ProductRepository
	verifier     URLVerifier
	resolve      func(object string) string
	objectKey    func(sku, filename string, now time.Time) string
	probeTimeout time.Duration
	clock        func() time.Time
}

// NewStorageService constructs the storage health and cleanup service.
func NewStorageService(deps StorageServiceDeps) (StorageService, error) {
	if deps.Bucket == nil {
		return nil, ErrStorageBucketMissing
	}
	if deps.Products == nil {
		return nil, errors.New("storage service: product repository is required")
	}
	if deps.Resolve == nil {
		return nil, errors.New("storage service: object url resolver is required")
	}
	if deps.ObjectKey == nil {
		return nil, errors.New("storage service: object key builder is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	probeTimeout := deps.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = defaultHealthProbeTimeout
	}
	return &storageService{
		bucket:       deps.Bucket,
		products:     deps.Products,
		verifier:     deps.Verifier,
		resolve:      deps.Resolve,
		objectKey:    deps.ObjectKey,
		probeTimeout: probeTimeout,
		clock:        func() time.Time { return clock().UTC() },
	}, nil
}

// EnsureBucket creates the image bucket when it is missing.
func (s *storageService) EnsureBucket(ctx context.Context) error {
	return s.bucket.EnsureBucket(ctx)
}

// UploadProductImage stores an image for an existing product and appends
// its public URL to the product's image list. The upload survives even when
// the follow-up metadata read fails.
func (s *storageService) UploadProductImage(ctx context.Context, sku, filename, contentType string, body io.Reader) (domain.ImageUpload, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return domain.ImageUpload{}, errors.New("storage service: sku is required")
	}

	product, err := s.products.GetBySKU(ctx, sku)
	if err != nil {
		return domain.ImageUpload{}, err
	}

	now := s.clock()
	object := s.objectKey(sku, filename, now)
	url, err := s.bucket.Upload(ctx, object, contentType, body)
	if err != nil {
		return domain.ImageUpload{}, fmt.Errorf("storage service: upload image for %s: %w", sku, err)
	}

	upload := domain.ImageUpload{
		SKU:         sku,
		Object:      object,
		URL:         url,
		ContentType: contentType,
		UploadedAt:  now,
	}
	if attrs, attrsErr := s.bucket.Attrs(ctx, object); attrsErr == nil {
		upload.Size = attrs.Size
		if attrs.ContentType != "" {
			upload.ContentType = attrs.ContentType
		}
	}

	images := product.Images
	if !containsString(images, url) {
		images = append(images, url)
	}
	primary := strings.TrimSpace(product.ImageURL)
	if primary == "" || primary == domain.PlaceholderImage {
		primary = url
	}
	if err := s.products.UpdateImages(ctx, sku, primary, images); err != nil {
		return upload, fmt.Errorf("storage service: record image for %s: %w", sku, err)
	}
	return upload, nil
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

// CheckHealth reports whether the image bucket exists, lists, and serves a
// sample object.
func (s *storageService) CheckHealth(ctx context.Context) (domain.StorageHealth, error) {
	health := domain.StorageHealth{
		Bucket:    s.bucket.Bucket(),
		CheckedAt: s.clock(),
	}

	exists, err := s.bucket.Exists(ctx)
	if err != nil {
		health.Detail = fmt.Sprintf("bucket lookup failed: %v", err)
		return health, nil
	}
	health.Exists = exists
	if !exists {
		health.Detail = "bucket does not exist"
		return health, nil
	}

	objects, err := s.bucket.ListObjects(ctx, "", healthListLimit)
	if err != nil {
		health.Detail = fmt.Sprintf("listing failed: %v", err)
		return health, nil
	}
	health.Listable = true
	health.ObjectCount = len(objects)

	for _, object := range objects {
		if object.IsDirectory() {
			continue
		}
		health.SampleURL = s.resolve(object.Name)
		break
	}
	if health.SampleURL == "" {
		health.Detail = "bucket is empty"
		return health, nil
	}

	if s.verifier != nil {
		// Health checks answer fast; the probe gets a short deadline instead
		// of the verifier's full retry budget.
		probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
		defer cancel()
		result := s.verifier.Verify(probeCtx, health.SampleURL)
		health.SampleOK = result.Status == domain.VerificationVerified
		if !health.SampleOK {
			health.Detail = fmt.Sprintf("sample object not reachable: %s", result.Error)
		}
	}
	return health, nil
}

// CleanupOrphans finds objects no product SKU claims. Deletion only happens
// when explicitly requested; the default is a dry run.
func (s *storageService) CleanupOrphans(ctx context.Context, deleteOrphans bool) (domain.CleanupReport, error) {
	report := domain.CleanupReport{
		Bucket: s.bucket.Bucket(),
		DryRun: !deleteOrphans,
	}

	objects, err := s.bucket.ListObjects(ctx, "", 0)
	if err != nil {
		return report, fmt.Errorf("storage service: list objects: %w", err)
	}

	products, err := s.allProducts(ctx)
	if err != nil {
		return report, err
	}

	claimed := make(map[string]struct{})
	for _, product := range products {
		for _, object := range MatchSKUToObjects(product.SKU, objects) {
			claimed[object.Name] = struct{}{}
		}
	}

	for _, object := range objects {
		if object.IsDirectory() {
			continue
		}
		report.Scanned++
		if _, ok := claimed[object.Name]; ok {
			continue
		}
		report.Orphans = append(report.Orphans, object.Name)

		if !deleteOrphans {
			continue
		}
		if err := s.bucket.Delete(ctx, object.Name); err != nil {
			report.Failures = append(report.Failures, fmt.Sprintf("%s: %v", object.Name, err))
			continue
		}
		report.Deleted++
	}
	return report, nil
}

func (s *storageService) allProducts(ctx context.Context) ([]domain.Product, error) {
	var (
		products []domain.Product
		token    string
	)
	for {
		page, err := s.products.List(ctx, domain.ProductFilter{}, domain.Pagination{
			PageSize:  reconcileListPageSize,
			PageToken: token,
		})
		if err != nil {
			return nil, err
		}
		products = append(products, page.Items...)
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}
	return products, nil
}
