package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile      = ".env"
	defaultPort         = "8080"
	defaultReadTimeout  = 15 * time.Second
	defaultWriteTimeout = 30 * time.Second
	defaultIdleTimeout  = 120 * time.Second

	defaultImagesBucket     = "product-images"
	defaultBucketSizeLimit  = int64(10 << 20)
	defaultVerifyTimeout    = 8 * time.Second
	defaultProbeTimeout     = 3 * time.Second
	defaultMaxRetries       = 2
	defaultVerifyConcurrent = 5
	defaultRateLimitAdmin   = 60
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server     ServerConfig
	Firestore  FirestoreConfig
	Storage    StorageConfig
	Reconcile  ReconcileConfig
	Jobs       JobsConfig
	Admin      AdminConfig
	RateLimits RateLimitConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StorageConfig describes the image bucket.
type StorageConfig struct {
	ImagesBucket    string
	BucketSizeLimit int64
	PublicBaseURL   string
}

// ReconcileConfig tunes the image reconciliation pipeline.
type ReconcileConfig struct {
	VerifyTimeout time.Duration
	ProbeTimeout  time.Duration
	MaxRetries    int
	Concurrency   int
	// RetryOnHTTPFailure preserves the legacy behaviour of retrying
	// definitive non-2xx responses. Disable for a stricter pipeline.
	RetryOnHTTPFailure bool
	PersistResults     bool
}

// JobsConfig configures background job publishing.
type JobsConfig struct {
	ReconcileTopic string
}

// AdminConfig gates the administrative surface.
type AdminConfig struct {
	APIToken string
}

// RateLimitConfig controls request throttling for admin routes.
type RateLimitConfig struct {
	AdminPerMinute int
}

// SecretResolver resolves references to externally stored secrets.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError reports required configuration fields that are missing
// or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes a failure while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map. Its values take precedence
// over the system environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables os.Getenv lookups; only provided maps and the
// .env file are consulted.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

func applyOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// source is the merged lookup surface used by Load. Precedence is explicit
// map, then system environment, then the .env file.
type source struct {
	options loaderOptions
	dotEnv  map[string]string
}

func newSource(options loaderOptions) (source, error) {
	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return source{}, err
	}
	return source{options: options, dotEnv: dotEnv}, nil
}

func (s source) lookup(key string) (string, bool) {
	if value, ok := s.options.envMap[key]; ok {
		return value, true
	}
	if s.options.useSystemEnv {
		if value, ok := os.LookupEnv(key); ok {
			return value, true
		}
	}
	value, ok := s.dotEnv[key]
	return value, ok
}

func (s source) str(key, fallback string) string {
	if value, ok := s.lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func (s source) duration(key string, fallback time.Duration) time.Duration {
	if value, ok := s.lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func (s source) integer(key string, fallback int) int {
	if value, ok := s.lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func (s source) integer64(key string, fallback int64) int64 {
	if value, ok := s.lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func (s source) boolean(key string, fallback bool) bool {
	if value, ok := s.lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

// EnvironmentValues returns the effective key/value map after applying the
// same precedence rules as Load. Callers use it to initialise dependencies,
// such as the secret fetcher, before Load runs.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	src, err := newSource(applyOptions(opts))
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(src.dotEnv))
	for key, value := range src.dotEnv {
		values[key] = value
	}
	if src.options.useSystemEnv {
		for _, entry := range os.Environ() {
			if key, value, ok := strings.Cut(entry, "="); ok && key != "" {
				values[key] = value
			}
		}
	}
	for key, value := range src.options.envMap {
		values[key] = value
	}
	return values, nil
}

// Load assembles the configuration from defaults, the .env file, the
// environment, and secret references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := applyOptions(opts)
	src, err := newSource(options)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         src.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:  src.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: src.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  src.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    src.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: src.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			ImagesBucket:    src.str("API_STORAGE_IMAGES_BUCKET", defaultImagesBucket),
			BucketSizeLimit: src.integer64("API_STORAGE_BUCKET_SIZE_LIMIT", defaultBucketSizeLimit),
			PublicBaseURL:   src.str("API_STORAGE_PUBLIC_BASE_URL", ""),
		},
		Reconcile: ReconcileConfig{
			VerifyTimeout:      src.duration("API_RECONCILE_VERIFY_TIMEOUT", defaultVerifyTimeout),
			ProbeTimeout:       src.duration("API_RECONCILE_PROBE_TIMEOUT", defaultProbeTimeout),
			MaxRetries:         src.integer("API_RECONCILE_MAX_RETRIES", defaultMaxRetries),
			Concurrency:        src.integer("API_RECONCILE_CONCURRENCY", defaultVerifyConcurrent),
			RetryOnHTTPFailure: src.boolean("API_RECONCILE_RETRY_ON_HTTP_FAILURE", true),
			PersistResults:     src.boolean("API_RECONCILE_PERSIST", true),
		},
		Jobs: JobsConfig{
			ReconcileTopic: src.str("API_JOBS_RECONCILE_TOPIC", ""),
		},
		Admin: AdminConfig{
			APIToken: src.str("API_ADMIN_TOKEN", ""),
		},
		RateLimits: RateLimitConfig{
			AdminPerMinute: src.integer("API_RATELIMIT_ADMIN_PER_MIN", defaultRateLimitAdmin),
		},
	}

	cfg.Admin.APIToken, err = resolveSecret(ctx, cfg.Admin.APIToken, options.secret)
	if err != nil {
		return Config{}, err
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	ref := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string
	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	if strings.TrimSpace(cfg.Storage.ImagesBucket) == "" {
		missing = append(missing, "Storage.ImagesBucket")
	}
	if cfg.Reconcile.VerifyTimeout <= 0 {
		missing = append(missing, "Reconcile.VerifyTimeout")
	}
	if cfg.Reconcile.MaxRetries < 0 {
		missing = append(missing, "Reconcile.MaxRetries")
	}
	if cfg.Reconcile.Concurrency <= 0 {
		missing = append(missing, "Reconcile.Concurrency")
	}
	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

// loadDotEnv parses KEY=VALUE lines, skipping comments and honouring an
// optional "export " prefix. A missing file is not an error.
func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", path, err)
	}
	return values, nil
}
