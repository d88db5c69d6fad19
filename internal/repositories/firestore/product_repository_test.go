package firestore

import (
	"testing"
	"time"

	"github.com/maplewick/api/internal/domain"
)

func TestProductToken(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		token := encodeProductToken("CH-201")
		sku, err := decodeProductToken(token)
		if err != nil {
			t.Fatalf("decodeProductToken returned error: %v", err)
		}
		if sku != "CH-201" {
			t.Fatalf("sku = %q", sku)
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		if _, err := decodeProductToken("!!!not-base64!!!"); err == nil {
			t.Fatal("expected error for malformed token")
		}
	})

	t.Run("empty token payload", func(t *testing.T) {
		if _, err := decodeProductToken(encodeProductToken("   ")); err == nil {
			t.Fatal("expected error for blank sku token")
		}
	})
}

func TestEncodeProductDocument(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("trims fields and encodes images", func(t *testing.T) {
		doc, err := encodeProductDocument(domain.Product{
			SKU:      " CH-201 ",
			Title:    " Oak Chair ",
			Price:    129.99,
			Currency: "USD",
			ImageURL: " /img/ch-201.jpg ",
			Images:   []string{"/img/ch-201.jpg", ""},
		}, now)
		if err != nil {
			t.Fatalf("encodeProductDocument returned error: %v", err)
		}
		if doc.SKU != "CH-201" || doc.Title != "Oak Chair" || doc.ImageURL != "/img/ch-201.jpg" {
			t.Fatalf("doc = %+v", doc)
		}
		if doc.Images != `["/img/ch-201.jpg"]` {
			t.Fatalf("Images = %q", doc.Images)
		}
		if !doc.CreatedAt.Equal(now) || !doc.UpdatedAt.Equal(now) {
			t.Fatalf("timestamps = %s / %s", doc.CreatedAt, doc.UpdatedAt)
		}
	})

	t.Run("existing created timestamp preserved", func(t *testing.T) {
		created := now.Add(-48 * time.Hour)
		doc, err := encodeProductDocument(domain.Product{SKU: "CH-201", CreatedAt: created}, now)
		if err != nil {
			t.Fatalf("encodeProductDocument returned error: %v", err)
		}
		if !doc.CreatedAt.Equal(created) {
			t.Fatalf("CreatedAt = %s, want %s", doc.CreatedAt, created)
		}
		if !doc.UpdatedAt.Equal(now) {
			t.Fatalf("UpdatedAt = %s, want %s", doc.UpdatedAt, now)
		}
	})
}

func TestNumberField(t *testing.T) {
	cases := []struct {
		name string
		data map[string]any
		want float64
	}{
		{name: "float", data: map[string]any{"Price": 129.99}, want: 129.99},
		{name: "integer", data: map[string]any{"Price": int64(200)}, want: 200},
		{name: "legacy string price", data: map[string]any{"Price": " 99.50 "}, want: 99.5},
		{name: "unparseable string", data: map[string]any{"Price": "n/a"}, want: 0},
		{name: "missing", data: map[string]any{}, want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := numberField(tc.data, "Price"); got != tc.want {
				t.Fatalf("numberField = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestProductMatchesSearch(t *testing.T) {
	product := domain.Product{SKU: "CH-201", Title: "Oak Dining Chair"}

	if !productMatchesSearch(product, "ch-2") {
		t.Fatal("sku substring must match")
	}
	if !productMatchesSearch(product, "dining") {
		t.Fatal("title substring must match")
	}
	if productMatchesSearch(product, "walnut") {
		t.Fatal("unrelated term must not match")
	}
}
