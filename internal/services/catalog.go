package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/maplewick/api/internal/domain"
	"github.com/maplewick/api/internal/repositories"
)

const defaultCatalogPageSize = 24

// ErrCatalogRepositoryMissing indicates the repository dependency is absent.
var ErrCatalogRepositoryMissing = errors.New("catalog service: product repository is not configured")

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Products repositories.ProductRepository
	Clock    func() time.Time
}

type catalogService struct {
	products repositories.ProductRepository
	clock    func() time.Time
}

// NewCatalogService constructs the catalog service with the supplied dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, ErrCatalogRepositoryMissing
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &catalogService{
		products: deps.Products,
		clock:    func() time.Time { return clock().UTC() },
	}, nil
}

// ListProducts returns a page of display-ready products. Image resolution
// here is purely the stored state; nothing is probed on the read path.
func (s *catalogService) ListProducts(ctx context.Context, filter domain.ProductFilter) (domain.CursorPage[domain.ProductView], error) {
	pager := filter.Pagination
	if pager.PageSize <= 0 {
		pager.PageSize = defaultCatalogPageSize
	}
	pager.PageToken = strings.TrimSpace(pager.PageToken)

	page, err := s.products.List(ctx, filter, pager)
	if err != nil {
		return domain.CursorPage[domain.ProductView]{}, err
	}

	views := make([]domain.ProductView, 0, len(page.Items))
	for _, product := range page.Items {
		views = append(views, productView(product))
	}
	return domain.CursorPage[domain.ProductView]{
		Items:         views,
		NextPageToken: page.NextPageToken,
	}, nil
}

// GetProduct returns the display projection for one SKU.
func (s *catalogService) GetProduct(ctx context.Context, sku string) (domain.ProductView, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return domain.ProductView{}, errors.New("catalog service: sku is required")
	}
	product, err := s.products.GetBySKU(ctx, sku)
	if err != nil {
		return domain.ProductView{}, err
	}
	return productView(product), nil
}

// productView resolves the stored image columns into the display set: the
// JSON image list when present, otherwise the single primary column.
func productView(product domain.Product) domain.ProductView {
	urls := make([]string, 0, len(product.Images)+1)
	appendURL := func(raw string) {
		normalized := NormalizeImageURL(raw)
		if normalized == domain.PlaceholderImage {
			return
		}
		for _, existing := range urls {
			if existing == normalized {
				return
			}
		}
		urls = append(urls, normalized)
	}

	appendURL(product.ImageURL)
	for _, raw := range product.Images {
		appendURL(raw)
	}

	return domain.NewProductView(product, domain.ResolvedImageSet{SKU: product.SKU, URLs: urls})
}
