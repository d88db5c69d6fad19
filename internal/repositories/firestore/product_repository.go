package firestore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/maplewick/api/internal/domain"
	pfirestore "github.com/maplewick/api/internal/platform/firestore"
	"github.com/maplewick/api/internal/repositories"
)

const productCollection = "products"

// ProductRepository is the Firestore-backed product store. Documents keep
// the column names inherited from the original catalog export ("Sku",
// "Image URL", "Images") so existing data keeps decoding without migration.
type ProductRepository struct {
	provider *pfirestore.Provider
	now      func() time.Time
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider, opts ...ProductRepositoryOption) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	repo := &ProductRepository{
		provider: provider,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

// ProductRepositoryOption customises repository behaviour.
type ProductRepositoryOption func(*ProductRepository)

// WithProductClock injects a custom clock (useful for tests).
func WithProductClock(clock func() time.Time) ProductRepositoryOption {
	return func(r *ProductRepository) {
		if clock != nil {
			r.now = clock
		}
	}
}

// List returns products ordered by SKU with cursor pagination. The search
// filter matches SKU and title substrings case-insensitively.
func (r *ProductRepository) List(ctx context.Context, filter domain.ProductFilter, pager domain.Pagination) (domain.CursorPage[domain.Product], error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}

	limit := pager.PageSize
	if limit < 0 {
		limit = 0
	}

	query := coll.Query.OrderBy(firestore.DocumentID, firestore.Asc)
	if category := strings.TrimSpace(filter.Category); category != "" {
		query = query.Where("Category", "==", category)
	}
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		lastSKU, err := decodeProductToken(token)
		if err != nil {
			return domain.CursorPage[domain.Product]{}, fmt.Errorf("products.list: invalid page token: %w", err)
		}
		query = query.StartAfter(lastSKU)
	}

	search := strings.ToLower(strings.TrimSpace(filter.Search))

	iter := query.Documents(ctx)
	defer iter.Stop()

	var (
		items     []domain.Product
		nextToken string
	)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
		}

		product := decodeProductDocument(snap)
		if search != "" && !productMatchesSearch(product, search) {
			continue
		}

		if limit > 0 && len(items) == limit {
			nextToken = encodeProductToken(items[len(items)-1].SKU)
			break
		}
		items = append(items, product)
	}

	return domain.CursorPage[domain.Product]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

// GetBySKU fetches a single product document.
func (r *ProductRepository) GetBySKU(ctx context.Context, sku string) (domain.Product, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return domain.Product{}, repositories.ErrInvalidSKU
	}

	coll, err := r.collection(ctx)
	if err != nil {
		return domain.Product{}, err
	}

	snap, err := coll.Doc(sku).Get(ctx)
	if err != nil {
		wrapped := pfirestore.WrapError("products.get", err)
		if pfirestore.IsNotFound(wrapped) {
			return domain.Product{}, repositories.ErrProductNotFound
		}
		return domain.Product{}, wrapped
	}
	return decodeProductDocument(snap), nil
}

// Upsert creates or replaces the product document keyed by SKU.
func (r *ProductRepository) Upsert(ctx context.Context, product domain.Product) error {
	sku := strings.TrimSpace(product.SKU)
	if sku == "" {
		return repositories.ErrInvalidSKU
	}

	coll, err := r.collection(ctx)
	if err != nil {
		return err
	}

	doc, err := encodeProductDocument(product, r.now())
	if err != nil {
		return fmt.Errorf("products.upsert: %w", err)
	}
	if _, err := coll.Doc(sku).Set(ctx, doc); err != nil {
		return pfirestore.WrapError("products.upsert", err)
	}
	return nil
}

// UpdateImages persists the reconciled image set without touching other fields.
// The image list is stored as a JSON array string to match the legacy column.
func (r *ProductRepository) UpdateImages(ctx context.Context, sku string, primaryURL string, images []string) error {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return repositories.ErrInvalidSKU
	}

	coll, err := r.collection(ctx)
	if err != nil {
		return err
	}

	encoded, err := domain.EncodeImageList(images)
	if err != nil {
		return fmt.Errorf("products.update-images: %w", err)
	}

	updates := []firestore.Update{
		{Path: "Image URL", Value: strings.TrimSpace(primaryURL)},
		{Path: "Images", Value: encoded},
		{Path: "updatedAt", Value: r.now()},
	}
	if _, err := coll.Doc(sku).Update(ctx, updates); err != nil {
		wrapped := pfirestore.WrapError("products.update-images", err)
		if pfirestore.IsNotFound(wrapped) {
			return repositories.ErrProductNotFound
		}
		return wrapped
	}
	return nil
}

// Count reports the number of products matching the filter.
func (r *ProductRepository) Count(ctx context.Context, filter domain.ProductFilter) (int, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return 0, err
	}

	query := coll.Query
	if category := strings.TrimSpace(filter.Category); category != "" {
		query = query.Where("Category", "==", category)
	}

	iter := query.Select().Documents(ctx)
	defer iter.Stop()

	count := 0
	for {
		_, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return 0, pfirestore.WrapError("products.count", err)
		}
		count++
	}
	return count, nil
}

// Ping verifies basic connectivity by issuing a minimal read.
func (r *ProductRepository) Ping(ctx context.Context) error {
	coll, err := r.collection(ctx)
	if err != nil {
		return err
	}
	iter := coll.Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return pfirestore.WrapError("products.ping", err)
	}
	return nil
}

func (r *ProductRepository) collection(ctx context.Context) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("product repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(productCollection), nil
}

func productMatchesSearch(product domain.Product, loweredSearch string) bool {
	return strings.Contains(strings.ToLower(product.SKU), loweredSearch) ||
		strings.Contains(strings.ToLower(product.Title), loweredSearch)
}

type productDocument struct {
	SKU         string    `firestore:"Sku"`
	Title       string    `firestore:"Title"`
	Description string    `firestore:"Description"`
	Price       float64   `firestore:"Price"`
	Currency    string    `firestore:"Currency"`
	Category    string    `firestore:"Category"`
	ImageURL    string    `firestore:"Image URL"`
	Images      string    `firestore:"Images"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func encodeProductDocument(product domain.Product, now time.Time) (productDocument, error) {
	images, err := domain.EncodeImageList(product.Images)
	if err != nil {
		return productDocument{}, err
	}

	createdAt := product.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	return productDocument{
		SKU:         strings.TrimSpace(product.SKU),
		Title:       strings.TrimSpace(product.Title),
		Description: product.Description,
		Price:       product.Price,
		Currency:    strings.TrimSpace(product.Currency),
		Category:    strings.TrimSpace(product.Category),
		ImageURL:    strings.TrimSpace(product.ImageURL),
		Images:      images,
		CreatedAt:   createdAt.UTC(),
		UpdatedAt:   now,
	}, nil
}

// decodeProductDocument is deliberately forgiving: legacy exports stored
// prices as strings and image lists as raw URLs, and a single malformed
// field must not drop the product from listings.
func decodeProductDocument(snap *firestore.DocumentSnapshot) domain.Product {
	data := snap.Data()
	if data == nil {
		data = map[string]any{}
	}

	product := domain.Product{
		SKU:         stringField(data, "Sku", snap.Ref.ID),
		Title:       stringField(data, "Title", ""),
		Description: stringField(data, "Description", ""),
		Currency:    stringField(data, "Currency", ""),
		Category:    stringField(data, "Category", ""),
		ImageURL:    stringField(data, "Image URL", ""),
		Price:       numberField(data, "Price"),
		Images:      domain.DecodeImageList(stringField(data, "Images", "")),
		CreatedAt:   timeField(data, "createdAt"),
		UpdatedAt:   timeField(data, "updatedAt"),
	}
	if product.SKU == "" {
		product.SKU = snap.Ref.ID
	}
	return product
}

func stringField(data map[string]any, key, fallback string) string {
	if raw, ok := data[key]; ok {
		if s, ok := raw.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return fallback
}

func numberField(data map[string]any, key string) float64 {
	switch v := data[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err == nil {
			return parsed
		}
	}
	return 0
}

func timeField(data map[string]any, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}

func encodeProductToken(sku string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(sku))
}

func decodeProductToken(token string) (string, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", err
	}
	sku := strings.TrimSpace(string(data))
	if sku == "" {
		return "", errors.New("empty token")
	}
	return sku, nil
}

// Ensure interface compliance.
var (
	_ repositories.ProductRepository = (*ProductRepository)(nil)
	_ repositories.HealthRepository  = (*ProductRepository)(nil)
)
