package domain

import (
	"fmt"
	"strings"
)

// PlaceholderImage is the sentinel served when a product has no usable image.
// It is distinct from any real URL and is what the normalizer returns for
// empty input.
const PlaceholderImage = "/placeholder.svg"

// ProductView is the UI-ready projection of a product record plus its
// resolved image set. Rendering layers consume this shape directly and never
// reach into raw image columns.
type ProductView struct {
	SKU          string   `json:"sku"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Price        float64  `json:"price"`
	PriceDisplay string   `json:"priceDisplay"`
	Category     string   `json:"category"`
	PrimaryImage string   `json:"primaryImage"`
	Images       []string `json:"images"`
	HasImages    bool     `json:"hasImages"`
}

// NewProductView combines a product record with its resolved images. When the
// resolved set is empty the view falls back to the placeholder silently; a
// missing image is not a shopping-flow error.
func NewProductView(product Product, resolved ResolvedImageSet) ProductView {
	images := resolved.URLs
	primary := resolved.Primary()
	if primary == "" {
		primary = PlaceholderImage
		images = nil
	}

	currency := strings.TrimSpace(product.Currency)
	if currency == "" {
		currency = "USD"
	}

	return ProductView{
		SKU:          product.SKU,
		Title:        product.Title,
		Description:  product.Description,
		Price:        product.Price,
		PriceDisplay: fmt.Sprintf("%s %.2f", currency, product.Price),
		Category:     product.Category,
		PrimaryImage: primary,
		Images:       images,
		HasImages:    !resolved.IsEmpty(),
	}
}
