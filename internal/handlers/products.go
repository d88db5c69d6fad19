package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/maplewick/api/internal/domain"
	"github.com/maplewick/api/internal/platform/httpx"
	"github.com/maplewick/api/internal/repositories"
	"github.com/maplewick/api/internal/services"
)

const (
	defaultProductPageSize = 24
	maxProductPageSize     = 100
	productCacheControl    = "public, max-age=300"
)

// CatalogHandlers exposes the storefront product endpoints.
type CatalogHandlers struct {
	catalog services.CatalogService
}

// CatalogHandlerOption customises construction of CatalogHandlers.
type CatalogHandlerOption func(*CatalogHandlers)

// WithCatalogService injects the catalog service dependency.
func WithCatalogService(svc services.CatalogService) CatalogHandlerOption {
	return func(h *CatalogHandlers) {
		h.catalog = svc
	}
}

// NewCatalogHandlers constructs handlers for storefront endpoints.
func NewCatalogHandlers(opts ...CatalogHandlerOption) *CatalogHandlers {
	handler := &CatalogHandlers{}
	for _, opt := range opts {
		if opt != nil {
			opt(handler)
		}
	}
	return handler
}

// Routes registers storefront endpoints against the provided router.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/products", h.listProducts)
	r.Get("/products/{sku}", h.getProduct)
}

func (h *CatalogHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	filter, err := parseProductFilter(r)
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.catalog.ListProducts(r.Context(), filter)
	if err != nil {
		writeProductError(r, w, err)
		return
	}

	w.Header().Set("Cache-Control", productCacheControl)
	writeJSON(w, http.StatusOK, productListResponse{
		Products:      page.Items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *CatalogHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	sku := strings.TrimSpace(chi.URLParam(r, "sku"))
	if sku == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_sku", "sku is required", http.StatusBadRequest))
		return
	}

	view, err := h.catalog.GetProduct(r.Context(), sku)
	if err != nil {
		writeProductError(r, w, err)
		return
	}

	w.Header().Set("Cache-Control", productCacheControl)
	writeJSON(w, http.StatusOK, view)
}

func parseProductFilter(r *http.Request) (domain.ProductFilter, error) {
	query := r.URL.Query()

	pageSize := defaultProductPageSize
	if raw := strings.TrimSpace(query.Get("pageSize")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return domain.ProductFilter{}, errors.New("pageSize must be a positive integer")
		}
		if parsed > maxProductPageSize {
			parsed = maxProductPageSize
		}
		pageSize = parsed
	}

	return domain.ProductFilter{
		Category: strings.TrimSpace(query.Get("category")),
		Search:   strings.TrimSpace(query.Get("q")),
		Pagination: domain.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("pageToken")),
		},
	}, nil
}

func writeProductError(r *http.Request, w http.ResponseWriter, err error) {
	ctx := r.Context()
	if errors.Is(err, repositories.ErrProductNotFound) {
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
		return
	}
	if errors.Is(err, repositories.ErrInvalidSKU) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_sku", "sku is required", http.StatusBadRequest))
		return
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		if repoErr.IsNotFound() {
			httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
			return
		}
		if repoErr.IsUnavailable() {
			httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "product store is unavailable", http.StatusServiceUnavailable))
			return
		}
	}
	httpx.WriteError(ctx, w, httpx.NewError("catalog_error", err.Error(), http.StatusInternalServerError))
}

type productListResponse struct {
	Products      []domain.ProductView `json:"products"`
	NextPageToken string               `json:"next_page_token,omitempty"`
}
