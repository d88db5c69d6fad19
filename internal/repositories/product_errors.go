package repositories

import "errors"

var (
	// ErrProductNotFound indicates no product exists for the requested SKU.
	ErrProductNotFound = errors.New("product repository: product not found")
	// ErrInvalidSKU indicates the caller supplied an empty or unusable SKU.
	ErrInvalidSKU = errors.New("product repository: sku is required")
)
