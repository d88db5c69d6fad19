package services

import (
	"path"
	"strings"
	"unicode/utf8"

	domain "github.com/maplewick/api/internal/domain"
)

// minMatchableSKULen guards against short SKUs matching half the bucket.
const minMatchableSKULen = 3

// MatchSKUToObjects returns the bucket objects whose names plausibly belong
// to the SKU, in listing order. Matching works on the object's base name so
// folder prefixes never influence the outcome. Directory placeholders are
// skipped.
func MatchSKUToObjects(sku string, objects []domain.StorageObject) []domain.StorageObject {
	sku = strings.TrimSpace(sku)
	if utf8.RuneCountInString(sku) < minMatchableSKULen {
		return nil
	}

	var matched []domain.StorageObject
	for _, object := range objects {
		if object.IsDirectory() {
			continue
		}
		if objectNameMatchesSKU(path.Base(object.Name), sku) {
			matched = append(matched, object)
		}
	}
	return matched
}

// MatchProductsToObjects evaluates every product against one shared listing
// and resolves matches into candidates.
func MatchProductsToObjects(products []domain.Product, objects []domain.StorageObject, resolve func(object string) string) map[string][]domain.ImageCandidate {
	result := make(map[string][]domain.ImageCandidate, len(products))
	for _, product := range products {
		matched := MatchSKUToObjects(product.SKU, objects)
		if len(matched) == 0 {
			continue
		}
		candidates := make([]domain.ImageCandidate, 0, len(matched))
		for _, object := range matched {
			url := ""
			if resolve != nil {
				url = resolve(object.Name)
			}
			if url == "" {
				continue
			}
			candidates = append(candidates, domain.ImageCandidate{
				SKU:    product.SKU,
				URL:    url,
				Object: object.Name,
				Source: domain.CandidateSourceStorageMatch,
			})
		}
		if len(candidates) > 0 {
			result[product.SKU] = candidates
		}
	}
	return result
}

func objectNameMatchesSKU(name, sku string) bool {
	if name == "" {
		return false
	}

	// Exact then case-insensitive substring.
	if strings.Contains(name, sku) {
		return true
	}
	loweredName := strings.ToLower(name)
	loweredSKU := strings.ToLower(sku)
	if strings.Contains(loweredName, loweredSKU) {
		return true
	}

	// Separator-insensitive: "ch-201" should find "ch_201.jpg" and "CH201.png".
	strippedName := separatorStripper.Replace(loweredName)
	strippedSKU := separatorStripper.Replace(loweredSKU)
	if strippedSKU != "" && strings.Contains(strippedName, strippedSKU) {
		return true
	}

	// Multi-part SKUs match when every part appears somewhere in the name.
	parts := splitTokens(loweredSKU)
	if len(parts) > 1 {
		all := true
		for _, part := range parts {
			if !strings.Contains(loweredName, part) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}

	// One whole filename token equals the SKU.
	for _, token := range splitTokens(trimExtension(loweredName)) {
		if token == loweredSKU {
			return true
		}
	}

	// Name anchored on the SKU followed by an extension or separator.
	if strings.HasPrefix(loweredName, loweredSKU+".") ||
		strings.HasPrefix(loweredName, loweredSKU+"-") ||
		strings.HasPrefix(loweredName, loweredSKU+"_") {
		return true
	}

	return false
}

func splitTokens(value string) []string {
	return strings.FieldsFunc(value, func(r rune) bool {
		switch r {
		case '-', '_', '.', ' ':
			return true
		}
		return false
	})
}

func trimExtension(name string) string {
	if ext := path.Ext(name); ext != "" {
		return strings.TrimSuffix(name, ext)
	}
	return name
}
