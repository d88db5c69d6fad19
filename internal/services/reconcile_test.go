package services

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	domain "github.com/maplewick/api/internal/domain"
	"github.com/maplewick/api/internal/repositories"
)

type stubProductRepo struct {
	products map[string]domain.Product
	order    []string

	updates  map[string][]string
	upserted []domain.Product

	updateErr error
	listErr   error
}

func newStubProductRepo(products ...domain.Product) *stubProductRepo {
	repo := &stubProductRepo{
		products: make(map[string]domain.Product, len(products)),
		updates:  make(map[string][]string),
	}
	for _, product := range products {
		repo.products[product.SKU] = product
		repo.order = append(repo.order, product.SKU)
	}
	return repo
}

func (r *stubProductRepo) List(ctx context.Context, filter domain.ProductFilter, pager domain.Pagination) (domain.CursorPage[domain.Product], error) {
	if r.listErr != nil {
		return domain.CursorPage[domain.Product]{}, r.listErr
	}
	page := domain.CursorPage[domain.Product]{}
	for _, sku := range r.order {
		page.Items = append(page.Items, r.products[sku])
	}
	return page, nil
}

func (r *stubProductRepo) GetBySKU(ctx context.Context, sku string) (domain.Product, error) {
	product, ok := r.products[sku]
	if !ok {
		return domain.Product{}, repositories.ErrProductNotFound
	}
	return product, nil
}

func (r *stubProductRepo) Upsert(ctx context.Context, product domain.Product) error {
	r.upserted = append(r.upserted, product)
	if _, ok := r.products[product.SKU]; !ok {
		r.order = append(r.order, product.SKU)
	}
	r.products[product.SKU] = product
	return nil
}

func (r *stubProductRepo) UpdateImages(ctx context.Context, sku string, primaryURL string, images []string) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	r.updates[sku] = images
	return nil
}

func (r *stubProductRepo) Count(ctx context.Context, filter domain.ProductFilter) (int, error) {
	return len(r.products), nil
}

type stubLister struct {
	objects    []domain.StorageObject
	err        error
	lastSearch string
}

func (l *stubLister) ListObjects(ctx context.Context, search string, limit int) ([]domain.StorageObject, error) {
	l.lastSearch = search
	if l.err != nil {
		return nil, l.err
	}
	return l.objects, nil
}

// stubVerifier marks exactly the listed URLs as verified.
type stubVerifier struct {
	good   []string
	probed []string
}

func (v *stubVerifier) Verify(ctx context.Context, rawURL string) domain.VerificationResult {
	v.probed = append(v.probed, rawURL)
	for _, url := range v.good {
		if rawURL == url {
			return domain.VerificationResult{URL: rawURL, Status: domain.VerificationVerified}
		}
	}
	return domain.VerificationResult{
		URL:    rawURL,
		Status: domain.VerificationFailed,
		Error:  "HTTP 404: Not Found",
		Class:  domain.FailureHTTPStatus,
	}
}

func (v *stubVerifier) VerifyAll(ctx context.Context, urls []string) []domain.VerificationResult {
	results := make([]domain.VerificationResult, 0, len(urls))
	for _, rawURL := range urls {
		results = append(results, v.Verify(ctx, rawURL))
	}
	return results
}

type stubReportRepo struct {
	saved []domain.ReconcileReport
	err   error
}

func (r *stubReportRepo) SaveReconcileReport(ctx context.Context, report domain.ReconcileReport) error {
	if r.err != nil {
		return r.err
	}
	r.saved = append(r.saved, report)
	return nil
}

func (r *stubReportRepo) GetReconcileReport(ctx context.Context, runID string) (domain.ReconcileReport, error) {
	return domain.ReconcileReport{}, errors.New("not implemented")
}

func (r *stubReportRepo) ListReconcileReports(ctx context.Context, limit int) ([]domain.ReconcileReport, error) {
	return nil, errors.New("not implemented")
}

const testBaseURL = "https://shop.example.com"

func testResolve(object string) string {
	return "https://storage.googleapis.com/product-images/" + object
}

func newTestReconcileService(t *testing.T, repo *stubProductRepo, lister *stubLister, verifier URLVerifier, reports repositories.ReportRepository) ReconcileService {
	t.Helper()
	svc, err := NewReconcileService(ReconcileServiceDeps{
		Products:      repo,
		Objects:       lister,
		Verifier:      verifier,
		Reports:       reports,
		Resolve:       testResolve,
		PublicBaseURL: testBaseURL,
		Clock:         func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) },
		NewRunID:      func() string { return "run-test" },
	})
	if err != nil {
		t.Fatalf("NewReconcileService returned error: %v", err)
	}
	return svc
}

func TestReconcile(t *testing.T) {
	t.Run("persists verified storage matches", func(t *testing.T) {
		repo := newStubProductRepo(
			domain.Product{SKU: "CH-201"},
			domain.Product{SKU: "TB-900"},
		)
		lister := &stubLister{objects: []domain.StorageObject{
			{Name: "products/CH-201.jpg"},
		}}
		verifier := &stubVerifier{good: []string{testResolve("products/CH-201.jpg")}}
		reports := &stubReportRepo{}
		svc := newTestReconcileService(t, repo, lister, verifier, reports)

		report, err := svc.Reconcile(context.Background(), ReconcileOptions{})
		if err != nil {
			t.Fatalf("Reconcile returned error: %v", err)
		}

		if report.RunID != "run-test" {
			t.Fatalf("RunID = %q", report.RunID)
		}
		if report.Products != 2 || report.Resolved != 1 || report.Unresolved != 1 || report.Persisted != 1 {
			t.Fatalf("report counts = %+v", report)
		}
		want := testResolve("products/CH-201.jpg")
		if got := repo.updates["CH-201"]; len(got) != 1 || got[0] != want {
			t.Fatalf("persisted images = %v, want [%s]", got, want)
		}
		if _, ok := repo.updates["TB-900"]; ok {
			t.Fatal("unresolved product must not be written")
		}
		if len(reports.saved) != 1 {
			t.Fatalf("archived reports = %d, want 1", len(reports.saved))
		}
	})

	t.Run("direct field outranks storage match", func(t *testing.T) {
		repo := newStubProductRepo(domain.Product{
			SKU:      "CH-201",
			ImageURL: "https://cdn.example.com/hero/ch-201.jpg",
		})
		lister := &stubLister{objects: []domain.StorageObject{
			{Name: "products/CH-201.jpg"},
		}}
		verifier := &stubVerifier{good: []string{
			"https://cdn.example.com/hero/ch-201.jpg",
			testResolve("products/CH-201.jpg"),
		}}
		svc := newTestReconcileService(t, repo, lister, verifier, nil)

		report, err := svc.Reconcile(context.Background(), ReconcileOptions{})
		if err != nil {
			t.Fatalf("Reconcile returned error: %v", err)
		}

		resolved := report.Results["CH-201"]
		if len(resolved.URLs) != 2 {
			t.Fatalf("resolved urls = %v", resolved.URLs)
		}
		if resolved.Primary() != "https://cdn.example.com/hero/ch-201.jpg" {
			t.Fatalf("primary = %q", resolved.Primary())
		}
	})

	t.Run("generated candidates outrank storage matches", func(t *testing.T) {
		repo := newStubProductRepo(domain.Product{SKU: "CH-201"})
		lister := &stubLister{objects: []domain.StorageObject{
			{Name: "CH-201-front.jpg"},
		}}
		verifier := &stubVerifier{good: []string{
			testResolve("CH-201.jpg"),
			testResolve("CH-201-front.jpg"),
		}}
		svc := newTestReconcileService(t, repo, lister, verifier, nil)

		report, err := svc.Reconcile(context.Background(), ReconcileOptions{DryRun: true})
		if err != nil {
			t.Fatalf("Reconcile returned error: %v", err)
		}

		resolved := report.Results["CH-201"]
		if len(resolved.URLs) != 2 {
			t.Fatalf("resolved urls = %v", resolved.URLs)
		}
		if resolved.Primary() != testResolve("CH-201.jpg") {
			t.Fatalf("primary = %q, want the extension guess ahead of the bucket match", resolved.Primary())
		}
		if resolved.URLs[1] != testResolve("CH-201-front.jpg") {
			t.Fatalf("urls = %v", resolved.URLs)
		}
	})

	t.Run("repeated runs resolve identically", func(t *testing.T) {
		repo := newStubProductRepo(domain.Product{
			SKU:      "CH-201",
			ImageURL: "https://cdn.example.com/hero/ch-201.jpg",
		})
		lister := &stubLister{objects: []domain.StorageObject{
			{Name: "CH-201-front.jpg"},
		}}
		verifier := &stubVerifier{good: []string{
			"https://cdn.example.com/hero/ch-201.jpg",
			testResolve("CH-201.jpg"),
			testResolve("CH-201-front.jpg"),
		}}
		svc := newTestReconcileService(t, repo, lister, verifier, nil)

		first, err := svc.Reconcile(context.Background(), ReconcileOptions{DryRun: true})
		if err != nil {
			t.Fatalf("first Reconcile returned error: %v", err)
		}
		second, err := svc.Reconcile(context.Background(), ReconcileOptions{DryRun: true})
		if err != nil {
			t.Fatalf("second Reconcile returned error: %v", err)
		}

		if !reflect.DeepEqual(first.Results["CH-201"].URLs, second.Results["CH-201"].URLs) {
			t.Fatalf("runs diverged: %v vs %v", first.Results["CH-201"].URLs, second.Results["CH-201"].URLs)
		}
	})

	t.Run("dry run skips writes", func(t *testing.T) {
		repo := newStubProductRepo(domain.Product{SKU: "CH-201"})
		lister := &stubLister{objects: []domain.StorageObject{{Name: "products/CH-201.jpg"}}}
		verifier := &stubVerifier{good: []string{testResolve("products/CH-201.jpg")}}
		svc := newTestReconcileService(t, repo, lister, verifier, nil)

		report, err := svc.Reconcile(context.Background(), ReconcileOptions{DryRun: true})
		if err != nil {
			t.Fatalf("Reconcile returned error: %v", err)
		}
		if report.Resolved != 1 || report.Persisted != 0 {
			t.Fatalf("report counts = %+v", report)
		}
		if len(repo.updates) != 0 {
			t.Fatalf("updates = %v, want none", repo.updates)
		}
	})

	t.Run("each url probed once per run", func(t *testing.T) {
		// Two products sharing one SKU prefix so both match the same object.
		repo := newStubProductRepo(
			domain.Product{SKU: "CH-201", ImageURL: "https://cdn.example.com/shared.jpg"},
			domain.Product{SKU: "CH-202", ImageURL: "https://cdn.example.com/shared.jpg"},
		)
		lister := &stubLister{}
		verifier := &stubVerifier{good: []string{"https://cdn.example.com/shared.jpg"}}
		svc := newTestReconcileService(t, repo, lister, verifier, nil)

		if _, err := svc.Reconcile(context.Background(), ReconcileOptions{}); err != nil {
			t.Fatalf("Reconcile returned error: %v", err)
		}

		count := 0
		for _, url := range verifier.probed {
			if url == "https://cdn.example.com/shared.jpg" {
				count++
			}
		}
		if count != 1 {
			t.Fatalf("shared url probed %d times, want 1", count)
		}
	})

	t.Run("write failures recorded per sku", func(t *testing.T) {
		repo := newStubProductRepo(domain.Product{SKU: "CH-201"})
		repo.updateErr = errors.New("firestore unavailable")
		lister := &stubLister{objects: []domain.StorageObject{{Name: "products/CH-201.jpg"}}}
		verifier := &stubVerifier{good: []string{testResolve("products/CH-201.jpg")}}
		svc := newTestReconcileService(t, repo, lister, verifier, nil)

		report, err := svc.Reconcile(context.Background(), ReconcileOptions{})
		if err != nil {
			t.Fatalf("Reconcile returned error: %v", err)
		}
		if report.Persisted != 0 {
			t.Fatalf("Persisted = %d, want 0", report.Persisted)
		}
		if len(report.WriteErrors) != 1 || !strings.HasPrefix(report.WriteErrors[0], "CH-201:") {
			t.Fatalf("WriteErrors = %v", report.WriteErrors)
		}
	})

	t.Run("scoped skus skip missing products", func(t *testing.T) {
		repo := newStubProductRepo(domain.Product{SKU: "CH-201"})
		lister := &stubLister{}
		verifier := &stubVerifier{}
		svc := newTestReconcileService(t, repo, lister, verifier, nil)

		report, err := svc.Reconcile(context.Background(), ReconcileOptions{SKUs: []string{"CH-201", "GHOST-1"}})
		if err != nil {
			t.Fatalf("Reconcile returned error: %v", err)
		}
		if report.Products != 1 {
			t.Fatalf("Products = %d, want 1", report.Products)
		}
	})

	t.Run("skip verification trusts candidate order", func(t *testing.T) {
		repo := newStubProductRepo(domain.Product{SKU: "CH-201"})
		lister := &stubLister{objects: []domain.StorageObject{{Name: "products/CH-201.jpg"}}}
		verifier := &stubVerifier{}
		svc := newTestReconcileService(t, repo, lister, verifier, nil)

		report, err := svc.Reconcile(context.Background(), ReconcileOptions{SkipVerification: true, DryRun: true})
		if err != nil {
			t.Fatalf("Reconcile returned error: %v", err)
		}
		if len(verifier.probed) != 0 {
			t.Fatalf("probed = %v, want none", verifier.probed)
		}
		if report.Results["CH-201"].IsEmpty() {
			t.Fatal("expected unverified candidates to resolve")
		}
	})

	t.Run("persistence disabled forces dry runs", func(t *testing.T) {
		repo := newStubProductRepo(domain.Product{SKU: "CH-201"})
		lister := &stubLister{objects: []domain.StorageObject{{Name: "products/CH-201.jpg"}}}
		verifier := &stubVerifier{good: []string{testResolve("products/CH-201.jpg")}}
		svc, err := NewReconcileService(ReconcileServiceDeps{
			Products:       repo,
			Objects:        lister,
			Verifier:       verifier,
			Resolve:        testResolve,
			PublicBaseURL:  testBaseURL,
			DisablePersist: true,
			NewRunID:       func() string { return "run-test" },
		})
		if err != nil {
			t.Fatalf("NewReconcileService returned error: %v", err)
		}

		report, err := svc.Reconcile(context.Background(), ReconcileOptions{})
		if err != nil {
			t.Fatalf("Reconcile returned error: %v", err)
		}
		if report.Resolved != 1 || report.Persisted != 0 {
			t.Fatalf("report counts = %+v", report)
		}
		if len(repo.updates) != 0 {
			t.Fatalf("updates = %v, want none", repo.updates)
		}

		if _, _, err := svc.ReconcileSKU(context.Background(), "CH-201", ReconcileOptions{}); err != nil {
			t.Fatalf("ReconcileSKU returned error: %v", err)
		}
		if len(repo.updates) != 0 {
			t.Fatalf("updates after single-sku run = %v, want none", repo.updates)
		}
	})

	t.Run("blank sku logs a candidate warning", func(t *testing.T) {
		core, logs := observer.New(zapcore.WarnLevel)
		repo := newStubProductRepo(domain.Product{SKU: "  "})
		svc, err := NewReconcileService(ReconcileServiceDeps{
			Products:      repo,
			Objects:       &stubLister{},
			Verifier:      &stubVerifier{},
			Resolve:       testResolve,
			PublicBaseURL: testBaseURL,
			Logger:        zap.New(core),
		})
		if err != nil {
			t.Fatalf("NewReconcileService returned error: %v", err)
		}

		if _, err := svc.Reconcile(context.Background(), ReconcileOptions{DryRun: true}); err != nil {
			t.Fatalf("Reconcile returned error: %v", err)
		}
		if logs.FilterMessage("reconcile: sku produced no generated candidates").Len() != 1 {
			t.Fatalf("warnings = %v", logs.All())
		}
	})

	t.Run("failed archive recorded without failing run", func(t *testing.T) {
		repo := newStubProductRepo(domain.Product{SKU: "CH-201"})
		lister := &stubLister{}
		verifier := &stubVerifier{}
		reports := &stubReportRepo{err: errors.New("archive down")}
		svc := newTestReconcileService(t, repo, lister, verifier, reports)

		report, err := svc.Reconcile(context.Background(), ReconcileOptions{})
		if err != nil {
			t.Fatalf("Reconcile returned error: %v", err)
		}
		found := false
		for _, writeErr := range report.WriteErrors {
			if strings.HasPrefix(writeErr, "archive run:") {
				found = true
			}
		}
		if !found {
			t.Fatalf("WriteErrors = %v, want archive failure entry", report.WriteErrors)
		}
	})
}

func TestReconcileSKU(t *testing.T) {
	t.Run("returns verification detail", func(t *testing.T) {
		repo := newStubProductRepo(domain.Product{SKU: "CH-201"})
		lister := &stubLister{objects: []domain.StorageObject{{Name: "products/CH-201.jpg"}}}
		verifier := &stubVerifier{good: []string{testResolve("products/CH-201.jpg")}}
		svc := newTestReconcileService(t, repo, lister, verifier, nil)

		resolved, detail, err := svc.ReconcileSKU(context.Background(), "CH-201", ReconcileOptions{})
		if err != nil {
			t.Fatalf("ReconcileSKU returned error: %v", err)
		}
		if resolved.IsEmpty() {
			t.Fatal("expected a resolved image set")
		}
		if len(detail) == 0 {
			t.Fatal("expected verification detail")
		}
		if lister.lastSearch != "CH-201" {
			t.Fatalf("listing search = %q, want CH-201", lister.lastSearch)
		}
		if got := repo.updates["CH-201"]; len(got) == 0 {
			t.Fatal("expected images to be persisted")
		}
	})

	t.Run("unknown sku", func(t *testing.T) {
		repo := newStubProductRepo()
		svc := newTestReconcileService(t, repo, &stubLister{}, &stubVerifier{}, nil)

		_, _, err := svc.ReconcileSKU(context.Background(), "GHOST-1", ReconcileOptions{})
		if !errors.Is(err, repositories.ErrProductNotFound) {
			t.Fatalf("err = %v, want ErrProductNotFound", err)
		}
	})

	t.Run("blank sku", func(t *testing.T) {
		repo := newStubProductRepo()
		svc := newTestReconcileService(t, repo, &stubLister{}, &stubVerifier{}, nil)

		if _, _, err := svc.ReconcileSKU(context.Background(), "  ", ReconcileOptions{}); err == nil {
			t.Fatal("expected error for blank sku")
		}
	})
}

func TestNewReconcileServiceValidation(t *testing.T) {
	repo := newStubProductRepo()
	lister := &stubLister{}
	verifier := &stubVerifier{}

	cases := []struct {
		name string
		deps ReconcileServiceDeps
		want error
	}{
		{
			name: "missing products",
			deps: ReconcileServiceDeps{Objects: lister, Verifier: verifier, Resolve: testResolve},
			want: ErrReconcileProductsMissing,
		},
		{
			name: "missing lister",
			deps: ReconcileServiceDeps{Products: repo, Verifier: verifier, Resolve: testResolve},
			want: ErrReconcileObjectsMissing,
		},
		{
			name: "missing verifier",
			deps: ReconcileServiceDeps{Products: repo, Objects: lister, Resolve: testResolve},
			want: ErrReconcileVerifierMissing,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewReconcileService(tc.deps); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}
