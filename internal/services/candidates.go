package services

import (
	"strings"

	domain "github.com/maplewick/api/internal/domain"
)

var (
	candidateExtensions = []string{"", ".jpg", ".jpeg", ".png", ".webp", ".gif"}
	candidatePrefixes   = []string{"product-", "img-", "image-", "pic-"}
)

var separatorStripper = strings.NewReplacer("-", "", "_", "", ".", "", " ", "")

// skuVariants returns the spellings under which a SKU may appear in object
// names: as written, lowercased, and with separators stripped. Order matters
// because candidate priority follows generation order.
func skuVariants(sku string) []string {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return nil
	}

	variants := []string{sku}
	appendUnique := func(v string) {
		if v == "" {
			return
		}
		for _, existing := range variants {
			if existing == v {
				return
			}
		}
		variants = append(variants, v)
	}

	appendUnique(strings.ToLower(sku))
	appendUnique(separatorStripper.Replace(sku))
	appendUnique(separatorStripper.Replace(strings.ToLower(sku)))
	return variants
}

// GenerateCandidates derives plausible object names for a SKU and resolves
// them to URLs. Bare names cover extensionless objects; prefixed forms are
// only generated with a concrete extension since prefixed extensionless
// uploads do not occur in practice.
func GenerateCandidates(sku string, resolve func(object string) string) []domain.ImageCandidate {
	if resolve == nil {
		return nil
	}

	variants := skuVariants(sku)
	if len(variants) == 0 {
		return nil
	}

	seen := make(map[string]struct{})
	var candidates []domain.ImageCandidate
	add := func(object string) {
		url := resolve(object)
		if url == "" {
			return
		}
		if _, dup := seen[url]; dup {
			return
		}
		seen[url] = struct{}{}
		candidates = append(candidates, domain.ImageCandidate{
			SKU:    sku,
			URL:    url,
			Object: object,
			Source: domain.CandidateSourceGenerated,
		})
	}

	for _, variant := range variants {
		for _, ext := range candidateExtensions {
			add(variant + ext)
		}
	}
	for _, variant := range variants {
		for _, prefix := range candidatePrefixes {
			for _, ext := range candidateExtensions {
				if ext == "" {
					continue
				}
				add(prefix + variant + ext)
			}
		}
	}
	return candidates
}
