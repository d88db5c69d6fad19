package storage

import (
	"math/rand"
	"path"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

var objectKeyReplacer = strings.NewReplacer(
	" ", "-",
	"\t", "-",
	"/", "-",
	"\\", "-",
	"#", "",
	"?", "",
	"%", "",
)

// ProductImageKey builds a collision-free object name for an uploaded product
// image, keeping the original extension so downstream matching by extension
// keeps working.
func ProductImageKey(sku, filename string, now time.Time) string {
	sku = objectKeyReplacer.Replace(strings.TrimSpace(strings.ToLower(sku)))
	if sku == "" {
		sku = "unassigned"
	}

	ext := strings.ToLower(path.Ext(filename))
	entropy := ulid.Monotonic(rand.New(rand.NewSource(now.UnixNano())), 0)
	id := ulid.MustNew(ulid.Timestamp(now.UTC()), entropy)

	return "products/" + sku + "/" + strings.ToLower(id.String()) + ext
}
