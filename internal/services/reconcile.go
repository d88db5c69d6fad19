package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	domain "github.com/maplewick/api/internal/domain"
	"github.com/maplewick/api/internal/repositories"
)

const reconcileListPageSize = 500

var (
	// ErrReconcileProductsMissing indicates the product repository dependency is absent.
	ErrReconcileProductsMissing = errors.New("reconcile service: product repository is not configured")
	// ErrReconcileObjectsMissing indicates the bucket lister dependency is absent.
	ErrReconcileObjectsMissing = errors.New("reconcile service: object lister is not configured")
	// ErrReconcileVerifierMissing indicates the verifier dependency is absent.
	ErrReconcileVerifierMissing = errors.New("reconcile service: url verifier is not configured")
)

// ReconcileServiceDeps bundles constructor inputs for the reconcile service.
type ReconcileServiceDeps struct {
	Products repositories.ProductRepository
	Objects  ObjectLister
	Verifier URLVerifier
	// Reports is optional; runs are archived when present.
	Reports repositories.ReportRepository
	// Resolve maps a bucket object name to its public URL.
	Resolve func(object string) string
	// PublicBaseURL makes site-relative image paths probe-able.
	PublicBaseURL string
	Clock         func() time.Time
	NewRunID      func() string
	// DisablePersist forces every run into dry-run mode regardless of the
	// per-request options.
	DisablePersist bool
	// Logger is optional; a nop logger is used when absent.
	Logger *zap.Logger
}

type reconcileService struct {
	products       repositories.ProductRepository
	objects        ObjectLister
	verifier       URLVerifier
	reports        repositories.ReportRepository
	resolve        func(object string) string
	baseURL        string
	clock          func() time.Time
	newRunID       func() string
	disablePersist bool
	logger         *zap.Logger
}

// NewReconcileService constructs the reconciliation orchestrator.
func NewReconcileService(deps ReconcileServiceDeps) (ReconcileService, error) {
	if deps.Products == nil {
		return nil, ErrReconcileProductsMissing
	}
	if deps.Objects == nil {
		return nil, ErrReconcileObjectsMissing
	}
	if deps.Verifier == nil {
		return nil, ErrReconcileVerifierMissing
	}
	if deps.Resolve == nil {
		return nil, errors.New("reconcile service: object url resolver is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newRunID := deps.NewRunID
	if newRunID == nil {
		newRunID = func() string { return strings.ToLower(ulid.Make().String()) }
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &reconcileService{
		products:       deps.Products,
		objects:        deps.Objects,
		verifier:       deps.Verifier,
		reports:        deps.Reports,
		resolve:        deps.Resolve,
		baseURL:        strings.TrimSpace(deps.PublicBaseURL),
		clock:          func() time.Time { return clock().UTC() },
		newRunID:       newRunID,
		disablePersist: deps.DisablePersist,
		logger:         logger,
	}, nil
}

// Reconcile runs the full pipeline: load products, list the bucket once,
// gather candidates per product, verify, and persist the winners.
func (s *reconcileService) Reconcile(ctx context.Context, opts ReconcileOptions) (domain.ReconcileReport, error) {
	report := domain.ReconcileReport{
		RunID:     s.newRunID(),
		StartedAt: s.clock(),
		Results:   make(map[string]domain.ResolvedImageSet),
	}

	products, err := s.loadProducts(ctx, opts.SKUs)
	if err != nil {
		return report, err
	}
	report.Products = len(products)

	objects, err := s.objects.ListObjects(ctx, "", 0)
	if err != nil {
		return report, fmt.Errorf("reconcile service: list bucket objects: %w", err)
	}

	candidatesBySKU := make(map[string][]domain.ImageCandidate, len(products))
	for _, product := range products {
		candidatesBySKU[product.SKU] = s.gatherCandidates(product, objects)
	}

	verdicts := map[string]domain.VerificationResult{}
	if !opts.SkipVerification {
		verdicts = s.verifyCandidates(ctx, candidatesBySKU, &report)
	}

	for _, product := range products {
		resolved := s.resolveProduct(product.SKU, candidatesBySKU[product.SKU], verdicts, opts.SkipVerification)
		report.Results[product.SKU] = resolved
		if resolved.IsEmpty() {
			report.Unresolved++
			continue
		}
		report.Resolved++

		if opts.DryRun || s.disablePersist {
			continue
		}
		if err := s.products.UpdateImages(ctx, product.SKU, resolved.Primary(), resolved.URLs); err != nil {
			report.WriteErrors = append(report.WriteErrors, fmt.Sprintf("%s: %v", product.SKU, err))
			continue
		}
		report.Persisted++
	}

	report.FinishedAt = s.clock()

	if s.reports != nil {
		// Archiving is best effort; a failed write never fails the run.
		if err := s.reports.SaveReconcileReport(ctx, report); err != nil {
			report.WriteErrors = append(report.WriteErrors, fmt.Sprintf("archive run: %v", err))
		}
	}
	return report, nil
}

// ReconcileSKU runs the pipeline for a single product and returns the
// per-candidate verification detail for diagnostics.
func (s *reconcileService) ReconcileSKU(ctx context.Context, sku string, opts ReconcileOptions) (domain.ResolvedImageSet, []domain.VerificationResult, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return domain.ResolvedImageSet{}, nil, errors.New("reconcile service: sku is required")
	}

	product, err := s.products.GetBySKU(ctx, sku)
	if err != nil {
		return domain.ResolvedImageSet{}, nil, err
	}

	objects, err := s.objects.ListObjects(ctx, sku, 0)
	if err != nil {
		return domain.ResolvedImageSet{}, nil, fmt.Errorf("reconcile service: list bucket objects: %w", err)
	}

	candidates := s.gatherCandidates(product, objects)

	var detail []domain.VerificationResult
	verdicts := map[string]domain.VerificationResult{}
	if !opts.SkipVerification {
		urls := probeURLs(candidates, s.baseURL)
		results := s.verifier.VerifyAll(ctx, urls.ordered)
		for _, result := range results {
			verdicts[result.URL] = result
			detail = append(detail, result)
		}
	}

	resolved := s.resolveProduct(product.SKU, candidates, verdicts, opts.SkipVerification)
	if !opts.DryRun && !s.disablePersist && !resolved.IsEmpty() {
		if err := s.products.UpdateImages(ctx, product.SKU, resolved.Primary(), resolved.URLs); err != nil {
			return resolved, detail, fmt.Errorf("reconcile service: persist images for %s: %w", product.SKU, err)
		}
	}
	return resolved, detail, nil
}

func (s *reconcileService) loadProducts(ctx context.Context, skus []string) ([]domain.Product, error) {
	if len(skus) > 0 {
		products := make([]domain.Product, 0, len(skus))
		for _, sku := range skus {
			sku = strings.TrimSpace(sku)
			if sku == "" {
				continue
			}
			product, err := s.products.GetBySKU(ctx, sku)
			if errors.Is(err, repositories.ErrProductNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			products = append(products, product)
		}
		return products, nil
	}

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

// gatherCandidates merges the three candidate sources for one product and
// dedupes by URL, keeping the highest-confidence source. Ordering is
// confidence first, then discovery order.
func (s *reconcileService) gatherCandidates(product domain.Product, objects []domain.StorageObject) []domain.ImageCandidate {
	var raw []domain.ImageCandidate

	appendDirect := func(value string) {
		normalized := NormalizeImageURL(value)
		if normalized == domain.PlaceholderImage {
			return
		}
		raw = append(raw, domain.ImageCandidate{
			SKU:    product.SKU,
			URL:    normalized,
			Source: domain.CandidateSourceDirectField,
		})
	}
	appendDirect(product.ImageURL)
	for _, url := range product.Images {
		appendDirect(url)
	}

	raw = append(raw, s.generateCandidates(product.SKU)...)

	for _, object := range MatchSKUToObjects(product.SKU, objects) {
		url := s.resolve(object.Name)
		if url == "" {
			continue
		}
		raw = append(raw, domain.ImageCandidate{
			SKU:    product.SKU,
			URL:    url,
			Object: object.Name,
			Source: domain.CandidateSourceStorageMatch,
		})
	}

	seen := make(map[string]int)
	var deduped []domain.ImageCandidate
	for _, candidate := range raw {
		if idx, ok := seen[candidate.URL]; ok {
			if candidate.Source.Confidence() > deduped[idx].Source.Confidence() {
				deduped[idx].Source = candidate.Source
				deduped[idx].Object = candidate.Object
			}
			continue
		}
		seen[candidate.URL] = len(deduped)
		deduped = append(deduped, candidate)
	}

	sort.SliceStable(deduped, func(i, j int) bool {
		return deduped[i].Source.Confidence() > deduped[j].Source.Confidence()
	})
	return deduped
}

func (s *reconcileService) generateCandidates(sku string) []domain.ImageCandidate {
	candidates := GenerateCandidates(sku, s.resolve)
	if len(candidates) == 0 {
		s.logger.Warn("reconcile: sku produced no generated candidates", zap.String("sku", sku))
	}
	return candidates
}

// verifyCandidates probes every distinct candidate URL exactly once across
// the whole run.
func (s *reconcileService) verifyCandidates(ctx context.Context, candidatesBySKU map[string][]domain.ImageCandidate, report *domain.ReconcileReport) map[string]domain.VerificationResult {
	all := probeURLs(nil, s.baseURL)
	for _, candidates := range candidatesBySKU {
		all.addAll(candidates, s.baseURL)
	}

	verdicts := make(map[string]domain.VerificationResult, len(all.ordered))
	results := s.verifier.VerifyAll(ctx, all.ordered)
	for _, result := range results {
		verdicts[result.URL] = result
		report.Detail = append(report.Detail, result)
	}
	return verdicts
}

func (s *reconcileService) resolveProduct(sku string, candidates []domain.ImageCandidate, verdicts map[string]domain.VerificationResult, skipVerification bool) domain.ResolvedImageSet {
	resolved := domain.ResolvedImageSet{SKU: sku}
	for _, candidate := range candidates {
		if skipVerification {
			resolved.URLs = append(resolved.URLs, candidate.URL)
			continue
		}

		probeURL, probeable := AbsoluteImageURL(s.baseURL, candidate.URL)
		if !probeable {
			// Site-relative assets cannot be probed from the backend; a
			// direct field reference is trusted, guesses are not.
			if candidate.Source == domain.CandidateSourceDirectField {
				resolved.URLs = append(resolved.URLs, candidate.URL)
			}
			continue
		}
		if verdict, ok := verdicts[probeURL]; ok && verdict.Status == domain.VerificationVerified {
			resolved.URLs = append(resolved.URLs, candidate.URL)
		}
	}
	return resolved
}

// probeSet tracks distinct probe-able URLs preserving first-seen order.
type probeSet struct {
	ordered []string
	seen    map[string]struct{}
}

func probeURLs(candidates []domain.ImageCandidate, baseURL string) *probeSet {
	set := &probeSet{seen: make(map[string]struct{})}
	set.addAll(candidates, baseURL)
	return set
}

func (p *probeSet) addAll(candidates []domain.ImageCandidate, baseURL string) {
	for _, candidate := range candidates {
		probeURL, ok := AbsoluteImageURL(baseURL, candidate.URL)
		if !ok {
			continue
		}
		if _, dup := p.seen[probeURL]; dup {
			continue
		}
		p.seen[probeURL] = struct{}{}
		p.ordered = append(p.ordered, probeURL)
	}
}
