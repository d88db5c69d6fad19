package services

import (
	"strings"

	domain "github.com/maplewick/api/internal/domain"
)

// NormalizeImageURL canonicalises a stored image reference for display.
// Empty values map to the placeholder, absolute URLs pass through trimmed,
// and bare object names gain a leading slash so they resolve site-relative.
func NormalizeImageURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return domain.PlaceholderImage
	}
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		return trimmed
	}
	if strings.HasPrefix(trimmed, "/") {
		return trimmed
	}
	return "/" + trimmed
}

// AbsoluteImageURL rewrites a normalized reference into a probe-able absolute
// URL. Site-relative paths need a public base URL; without one they cannot be
// verified and the second return is false. The placeholder is never probed.
func AbsoluteImageURL(publicBaseURL, normalized string) (string, bool) {
	normalized = strings.TrimSpace(normalized)
	if normalized == "" || normalized == domain.PlaceholderImage {
		return "", false
	}
	if strings.HasPrefix(normalized, "http://") || strings.HasPrefix(normalized, "https://") {
		return normalized, true
	}

	base := strings.TrimRight(strings.TrimSpace(publicBaseURL), "/")
	if base == "" {
		return "", false
	}
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	return base + normalized, true
}
