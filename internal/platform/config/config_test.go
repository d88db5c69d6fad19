package config

import (
	"context"
	"errors"
	"testing"
	"time"
)

func load(t *testing.T, env map[string]string, opts ...Option) (Config, error) {
	t.Helper()
	base := []Option{
		WithEnvFile(""),
		WithoutSystemEnv(),
		WithEnvMap(env),
	}
	return Load(context.Background(), append(base, opts...)...)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(t, map[string]string{
		"API_FIRESTORE_PROJECT_ID": "maplewick-dev",
	})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Fatalf("Port = %q", cfg.Server.Port)
	}
	if cfg.Storage.ImagesBucket != "product-images" {
		t.Fatalf("ImagesBucket = %q", cfg.Storage.ImagesBucket)
	}
	if cfg.Reconcile.VerifyTimeout != 8*time.Second {
		t.Fatalf("VerifyTimeout = %s", cfg.Reconcile.VerifyTimeout)
	}
	if cfg.Reconcile.MaxRetries != 2 || cfg.Reconcile.Concurrency != 5 {
		t.Fatalf("Reconcile = %+v", cfg.Reconcile)
	}
	if !cfg.Reconcile.RetryOnHTTPFailure || !cfg.Reconcile.PersistResults {
		t.Fatalf("Reconcile flags = %+v", cfg.Reconcile)
	}
	if cfg.RateLimits.AdminPerMinute != 60 {
		t.Fatalf("AdminPerMinute = %d", cfg.RateLimits.AdminPerMinute)
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := load(t, map[string]string{
		"API_FIRESTORE_PROJECT_ID":            "maplewick-prod",
		"API_SERVER_PORT":                     "9090",
		"API_STORAGE_IMAGES_BUCKET":           "maplewick-images",
		"API_STORAGE_PUBLIC_BASE_URL":         "https://shop.example.com",
		"API_RECONCILE_VERIFY_TIMEOUT":        "15s",
		"API_RECONCILE_MAX_RETRIES":           "4",
		"API_RECONCILE_CONCURRENCY":           "10",
		"API_RECONCILE_RETRY_ON_HTTP_FAILURE": "false",
		"API_JOBS_RECONCILE_TOPIC":            "image-reconcile",
		"API_RATELIMIT_ADMIN_PER_MIN":         "120",
	})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Fatalf("Port = %q", cfg.Server.Port)
	}
	if cfg.Storage.ImagesBucket != "maplewick-images" || cfg.Storage.PublicBaseURL != "https://shop.example.com" {
		t.Fatalf("Storage = %+v", cfg.Storage)
	}
	if cfg.Reconcile.VerifyTimeout != 15*time.Second || cfg.Reconcile.MaxRetries != 4 || cfg.Reconcile.Concurrency != 10 {
		t.Fatalf("Reconcile = %+v", cfg.Reconcile)
	}
	if cfg.Reconcile.RetryOnHTTPFailure {
		t.Fatal("RetryOnHTTPFailure = true, want false")
	}
	if cfg.Jobs.ReconcileTopic != "image-reconcile" {
		t.Fatalf("ReconcileTopic = %q", cfg.Jobs.ReconcileTopic)
	}
	if cfg.RateLimits.AdminPerMinute != 120 {
		t.Fatalf("AdminPerMinute = %d", cfg.RateLimits.AdminPerMinute)
	}
}

func TestLoadValidation(t *testing.T) {
	_, err := load(t, map[string]string{})
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	fields := validation.Fields()
	if len(fields) != 1 || fields[0] != "Firestore.ProjectID" {
		t.Fatalf("fields = %v", fields)
	}
}

func TestLoadSecretResolution(t *testing.T) {
	t.Run("secret reference resolved", func(t *testing.T) {
		resolver := SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			if ref != "secret://admin-token" {
				t.Fatalf("ref = %q", ref)
			}
			return "resolved-token", nil
		})
		cfg, err := load(t, map[string]string{
			"API_FIRESTORE_PROJECT_ID": "maplewick-dev",
			"API_ADMIN_TOKEN":          "secret://admin-token",
		}, WithSecretResolver(resolver))
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if cfg.Admin.APIToken != "resolved-token" {
			t.Fatalf("APIToken = %q", cfg.Admin.APIToken)
		}
	})

	t.Run("sm scheme canonicalised", func(t *testing.T) {
		var seen string
		resolver := SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			seen = ref
			return "value", nil
		})
		if _, err := load(t, map[string]string{
			"API_FIRESTORE_PROJECT_ID": "maplewick-dev",
			"API_ADMIN_TOKEN":          "sm://admin-token",
		}, WithSecretResolver(resolver)); err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if seen != "secret://admin-token" {
			t.Fatalf("ref = %q", seen)
		}
	})

	t.Run("resolver failure surfaces as SecretError", func(t *testing.T) {
		resolver := SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", errors.New("access denied")
		})
		_, err := load(t, map[string]string{
			"API_FIRESTORE_PROJECT_ID": "maplewick-dev",
			"API_ADMIN_TOKEN":          "secret://admin-token",
		}, WithSecretResolver(resolver))

		var secretErr *SecretError
		if !errors.As(err, &secretErr) {
			t.Fatalf("err = %v, want SecretError", err)
		}
		if secretErr.Ref != "secret://admin-token" {
			t.Fatalf("Ref = %q", secretErr.Ref)
		}
	})

	t.Run("plain value untouched", func(t *testing.T) {
		cfg, err := load(t, map[string]string{
			"API_FIRESTORE_PROJECT_ID": "maplewick-dev",
			"API_ADMIN_TOKEN":          "plain-token",
		})
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if cfg.Admin.APIToken != "plain-token" {
			t.Fatalf("APIToken = %q", cfg.Admin.APIToken)
		}
	})
}
