package services

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"testing"
	"time"

	domain "github.com/maplewick/api/internal/domain"
	"github.com/maplewick/api/internal/repositories"
)

type stubBucket struct {
	name    string
	exists  bool
	objects []domain.StorageObject

	existsErr error
	listErr   error
	deleteErr map[string]error
	deleted   []string

	uploadErr error
	uploads   map[string]string
	ensured   bool
}

func (b *stubBucket) Bucket() string { return b.name }

func (b *stubBucket) Exists(ctx context.Context) (bool, error) {
	return b.exists, b.existsErr
}

func (b *stubBucket) EnsureBucket(ctx context.Context) error {
	b.ensured = true
	b.exists = true
	return nil
}

func (b *stubBucket) ListObjects(ctx context.Context, search string, limit int) ([]domain.StorageObject, error) {
	if b.listErr != nil {
		return nil, b.listErr
	}
	return b.objects, nil
}

func (b *stubBucket) Upload(ctx context.Context, object, contentType string, body io.Reader) (string, error) {
	if b.uploadErr != nil {
		return "", b.uploadErr
	}
	if b.uploads == nil {
		b.uploads = map[string]string{}
	}
	b.uploads[object] = contentType
	return testResolve(object), nil
}

func (b *stubBucket) Attrs(ctx context.Context, object string) (domain.StorageObject, error) {
	if _, ok := b.uploads[object]; ok {
		return domain.StorageObject{Name: object, Size: 2048, ContentType: b.uploads[object]}, nil
	}
	return domain.StorageObject{}, errors.New("object missing")
}

func (b *stubBucket) Delete(ctx context.Context, object string) error {
	if err, ok := b.deleteErr[object]; ok {
		return err
	}
	b.deleted = append(b.deleted, object)
	return nil
}

func testObjectKey(sku, filename string, now time.Time) string {
	return "products/" + strings.ToLower(sku) + "/upload" + strings.ToLower(path.Ext(filename))
}

// deadlineVerifier records the probe context deadline and reports success.
type deadlineVerifier struct {
	deadline    time.Time
	hasDeadline bool
}

func (v *deadlineVerifier) Verify(ctx context.Context, rawURL string) domain.VerificationResult {
	v.deadline, v.hasDeadline = ctx.Deadline()
	return domain.VerificationResult{URL: rawURL, Status: domain.VerificationVerified}
}

func (v *deadlineVerifier) VerifyAll(ctx context.Context, urls []string) []domain.VerificationResult {
	results := make([]domain.VerificationResult, 0, len(urls))
	for _, rawURL := range urls {
		results = append(results, v.Verify(ctx, rawURL))
	}
	return results
}

func newTestStorageService(t *testing.T, bucket *stubBucket, repo *stubProductRepo, verifier URLVerifier) StorageService {
	t.Helper()
	svc, err := NewStorageService(StorageServiceDeps{
		Bucket:    bucket,
		Products:  repo,
		Verifier:  verifier,
		Resolve:   testResolve,
		ObjectKey: testObjectKey,
	})
	if err != nil {
		t.Fatalf("NewStorageService returned error: %v", err)
	}
	return svc
}

func TestCheckHealth(t *testing.T) {
	t.Run("healthy bucket with reachable sample", func(t *testing.T) {
		bucket := &stubBucket{
			name:   "product-images",
			exists: true,
			objects: []domain.StorageObject{
				{Name: "products/"},
				{Name: "products/ch-201.jpg"},
			},
		}
		verifier := &stubVerifier{good: []string{testResolve("products/ch-201.jpg")}}
		svc := newTestStorageService(t, bucket, newStubProductRepo(), verifier)

		health, err := svc.CheckHealth(context.Background())
		if err != nil {
			t.Fatalf("CheckHealth returned error: %v", err)
		}
		if !health.Exists || !health.Listable || !health.SampleOK {
			t.Fatalf("health = %+v", health)
		}
		if health.ObjectCount != 2 {
			t.Fatalf("ObjectCount = %d", health.ObjectCount)
		}
		if health.SampleURL != testResolve("products/ch-201.jpg") {
			t.Fatalf("SampleURL = %q", health.SampleURL)
		}
	})

	t.Run("sample probe runs under a short deadline", func(t *testing.T) {
		bucket := &stubBucket{
			name:    "product-images",
			exists:  true,
			objects: []domain.StorageObject{{Name: "products/ch-201.jpg"}},
		}
		verifier := &deadlineVerifier{}
		svc, err := NewStorageService(StorageServiceDeps{
			Bucket:       bucket,
			Products:     newStubProductRepo(),
			Verifier:     verifier,
			Resolve:      testResolve,
			ObjectKey:    testObjectKey,
			ProbeTimeout: 3 * time.Second,
		})
		if err != nil {
			t.Fatalf("NewStorageService returned error: %v", err)
		}

		before := time.Now()
		if _, err := svc.CheckHealth(context.Background()); err != nil {
			t.Fatalf("CheckHealth returned error: %v", err)
		}
		if !verifier.hasDeadline {
			t.Fatal("probe context has no deadline")
		}
		if remaining := verifier.deadline.Sub(before); remaining > 3*time.Second+time.Second {
			t.Fatalf("probe deadline %v exceeds the configured timeout", remaining)
		}
	})

	t.Run("missing bucket", func(t *testing.T) {
		bucket := &stubBucket{name: "product-images"}
		svc := newTestStorageService(t, bucket, newStubProductRepo(), &stubVerifier{})

		health, err := svc.CheckHealth(context.Background())
		if err != nil {
			t.Fatalf("CheckHealth returned error: %v", err)
		}
		if health.Exists || health.Listable {
			t.Fatalf("health = %+v", health)
		}
		if health.Detail != "bucket does not exist" {
			t.Fatalf("Detail = %q", health.Detail)
		}
	})

	t.Run("empty bucket", func(t *testing.T) {
		bucket := &stubBucket{name: "product-images", exists: true}
		svc := newTestStorageService(t, bucket, newStubProductRepo(), &stubVerifier{})

		health, err := svc.CheckHealth(context.Background())
		if err != nil {
			t.Fatalf("CheckHealth returned error: %v", err)
		}
		if !health.Listable || health.SampleURL != "" {
			t.Fatalf("health = %+v", health)
		}
		if health.Detail != "bucket is empty" {
			t.Fatalf("Detail = %q", health.Detail)
		}
	})

	t.Run("unreachable sample", func(t *testing.T) {
		bucket := &stubBucket{
			name:    "product-images",
			exists:  true,
			objects: []domain.StorageObject{{Name: "products/ch-201.jpg"}},
		}
		svc := newTestStorageService(t, bucket, newStubProductRepo(), &stubVerifier{})

		health, err := svc.CheckHealth(context.Background())
		if err != nil {
			t.Fatalf("CheckHealth returned error: %v", err)
		}
		if health.SampleOK {
			t.Fatal("SampleOK = true, want false")
		}
		if health.Detail == "" {
			t.Fatal("expected a failure detail")
		}
	})
}

func TestCleanupOrphans(t *testing.T) {
	newBucket := func() *stubBucket {
		return &stubBucket{
			name:   "product-images",
			exists: true,
			objects: []domain.StorageObject{
				{Name: "products/"},
				{Name: "products/ch-201.jpg"},
				{Name: "products/stray.jpg"},
			},
		}
	}
	repo := newStubProductRepo(domain.Product{SKU: "CH-201"})

	t.Run("dry run lists orphans without deleting", func(t *testing.T) {
		bucket := newBucket()
		svc := newTestStorageService(t, bucket, repo, &stubVerifier{})

		report, err := svc.CleanupOrphans(context.Background(), false)
		if err != nil {
			t.Fatalf("CleanupOrphans returned error: %v", err)
		}
		if !report.DryRun {
			t.Fatal("DryRun = false")
		}
		if report.Scanned != 2 {
			t.Fatalf("Scanned = %d, want 2", report.Scanned)
		}
		if len(report.Orphans) != 1 || report.Orphans[0] != "products/stray.jpg" {
			t.Fatalf("Orphans = %v", report.Orphans)
		}
		if report.Deleted != 0 || len(bucket.deleted) != 0 {
			t.Fatalf("deleted = %d / %v", report.Deleted, bucket.deleted)
		}
	})

	t.Run("delete removes only orphans", func(t *testing.T) {
		bucket := newBucket()
		svc := newTestStorageService(t, bucket, repo, &stubVerifier{})

		report, err := svc.CleanupOrphans(context.Background(), true)
		if err != nil {
			t.Fatalf("CleanupOrphans returned error: %v", err)
		}
		if report.DryRun {
			t.Fatal("DryRun = true")
		}
		if report.Deleted != 1 || len(bucket.deleted) != 1 || bucket.deleted[0] != "products/stray.jpg" {
			t.Fatalf("deleted = %d / %v", report.Deleted, bucket.deleted)
		}
	})

	t.Run("delete failures collected per object", func(t *testing.T) {
		bucket := newBucket()
		bucket.deleteErr = map[string]error{"products/stray.jpg": errors.New("permission denied")}
		svc := newTestStorageService(t, bucket, repo, &stubVerifier{})

		report, err := svc.CleanupOrphans(context.Background(), true)
		if err != nil {
			t.Fatalf("CleanupOrphans returned error: %v", err)
		}
		if report.Deleted != 0 {
			t.Fatalf("Deleted = %d, want 0", report.Deleted)
		}
		if len(report.Failures) != 1 {
			t.Fatalf("Failures = %v", report.Failures)
		}
	})

	t.Run("listing failure aborts", func(t *testing.T) {
		bucket := newBucket()
		bucket.listErr = errors.New("unavailable")
		svc := newTestStorageService(t, bucket, repo, &stubVerifier{})

		if _, err := svc.CleanupOrphans(context.Background(), false); err == nil {
			t.Fatal("expected error when listing fails")
		}
	})
}

func TestEnsureBucket(t *testing.T) {
	bucket := &stubBucket{name: "product-images"}
	svc := newTestStorageService(t, bucket, newStubProductRepo(), &stubVerifier{})

	if err := svc.EnsureBucket(context.Background()); err != nil {
		t.Fatalf("EnsureBucket returned error: %v", err)
	}
	if !bucket.ensured {
		t.Fatal("bucket was not ensured")
	}
}

func TestUploadProductImage(t *testing.T) {
	newRepo := func() *stubProductRepo {
		return newStubProductRepo(domain.Product{SKU: "CH-201", Title: "Oak Chair"})
	}

	t.Run("stores image and records url on product", func(t *testing.T) {
		bucket := &stubBucket{name: "product-images", exists: true}
		repo := newRepo()
		svc := newTestStorageService(t, bucket, repo, &stubVerifier{})

		upload, err := svc.UploadProductImage(context.Background(), "CH-201", "chair.jpg", "image/jpeg", strings.NewReader("fake"))
		if err != nil {
			t.Fatalf("UploadProductImage returned error: %v", err)
		}
		wantObject := testObjectKey("CH-201", "chair.jpg", time.Time{})
		if upload.Object != wantObject {
			t.Fatalf("Object = %q, want %q", upload.Object, wantObject)
		}
		if upload.URL != testResolve(wantObject) {
			t.Fatalf("URL = %q", upload.URL)
		}
		if upload.Size != 2048 {
			t.Fatalf("Size = %d, want 2048", upload.Size)
		}
		images, ok := repo.updates["CH-201"]
		if !ok {
			t.Fatal("product image list was not updated")
		}
		if len(images) != 1 || images[0] != upload.URL {
			t.Fatalf("images = %v", images)
		}
	})

	t.Run("unknown sku", func(t *testing.T) {
		bucket := &stubBucket{name: "product-images", exists: true}
		svc := newTestStorageService(t, bucket, newRepo(), &stubVerifier{})

		_, err := svc.UploadProductImage(context.Background(), "XX-000", "x.jpg", "image/jpeg", strings.NewReader("fake"))
		if !errors.Is(err, repositories.ErrProductNotFound) {
			t.Fatalf("err = %v, want ErrProductNotFound", err)
		}
		if len(bucket.uploads) != 0 {
			t.Fatalf("uploads = %v, want none", bucket.uploads)
		}
	})

	t.Run("upload failure surfaces without repo write", func(t *testing.T) {
		bucket := &stubBucket{name: "product-images", exists: true, uploadErr: errors.New("quota exceeded")}
		repo := newRepo()
		svc := newTestStorageService(t, bucket, repo, &stubVerifier{})

		if _, err := svc.UploadProductImage(context.Background(), "CH-201", "chair.jpg", "image/jpeg", strings.NewReader("fake")); err == nil {
			t.Fatal("expected error when upload fails")
		}
		if len(repo.updates) != 0 {
			t.Fatalf("updates = %v, want none", repo.updates)
		}
	})

	t.Run("blank sku rejected", func(t *testing.T) {
		svc := newTestStorageService(t, &stubBucket{name: "product-images"}, newRepo(), &stubVerifier{})
		if _, err := svc.UploadProductImage(context.Background(), "  ", "x.jpg", "image/jpeg", strings.NewReader("fake")); err == nil {
			t.Fatal("expected error for blank sku")
		}
	})
}
