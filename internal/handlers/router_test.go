package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/maplewick/api/internal/domain"
)

func TestRouter(t *testing.T) {
	t.Run("mounts catalog routes under the api prefix", func(t *testing.T) {
		catalog := NewCatalogHandlers(WithCatalogService(&stubCatalogService{
			page: domain.CursorPage[domain.ProductView]{},
		}))
		router := NewRouter(WithCatalogRoutes(catalog.Routes))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/catalog/products", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("unknown routes return a json envelope", func(t *testing.T) {
		router := NewRouter()

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil))

		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d", rec.Code)
		}
		if payload := decodeBody(t, rec); payload["error"] != "route_not_found" {
			t.Fatalf("error code = %v", payload["error"])
		}
	})

	t.Run("unregistered groups answer not implemented", func(t *testing.T) {
		router := NewRouter()

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/admin/anything", nil))

		if rec.Code != http.StatusNotImplemented {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("admin middlewares guard only the admin group", func(t *testing.T) {
		catalog := NewCatalogHandlers(WithCatalogService(&stubCatalogService{}))
		admin := func(r chi.Router) {
			r.Get("/ping", func(w http.ResponseWriter, req *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			})
		}
		router := NewRouter(
			WithCatalogRoutes(catalog.Routes),
			WithAdminRoutes(admin),
			WithAdminMiddlewares(AdminTokenMiddleware("s3cret")),
		)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/admin/ping", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("unauthenticated admin status = %d", rec.Code)
		}

		req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/ping", nil)
		req.Header.Set("Authorization", "Bearer s3cret")
		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("authenticated admin status = %d", rec.Code)
		}

		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/catalog/products", nil))
		if rec.Code == http.StatusUnauthorized {
			t.Fatal("catalog group must not require the admin token")
		}
	})

	t.Run("health endpoints live outside the api prefix", func(t *testing.T) {
		router := NewRouter()

		for _, path := range []string{"/healthz", "/readyz"} {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("%s status = %d", path, rec.Code)
			}
		}
	})
}
