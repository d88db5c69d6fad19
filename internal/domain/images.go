package domain

import (
	"encoding/json"
	"strings"
)

// EncodeImageList serialises an image URL list for the persisted Images
// column. The column contract is a JSON array of strings; blank entries are
// dropped before encoding. An empty list encodes to "[]" so a rerun cleanly
// overwrites stale values.
func EncodeImageList(urls []string) (string, error) {
	cleaned := make([]string, 0, len(urls))
	for _, url := range urls {
		if trimmed := strings.TrimSpace(url); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	encoded, err := json.Marshal(cleaned)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// DecodeImageList parses the persisted Images column back into a URL list.
// Legacy rows hold either a JSON array, a single bare URL, or nothing;
// malformed payloads decode to an empty list rather than an error because a
// broken column value must never make a product unrenderable.
func DecodeImageList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	if strings.HasPrefix(raw, "[") {
		var parsed []any
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return nil
		}
		urls := make([]string, 0, len(parsed))
		for _, entry := range parsed {
			if s, ok := entry.(string); ok && strings.TrimSpace(s) != "" {
				urls = append(urls, strings.TrimSpace(s))
			}
		}
		return urls
	}

	// A bare URL stored before the JSON contract existed.
	return []string{raw}
}
