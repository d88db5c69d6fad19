package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultEnvironment  = "local"
	defaultFallbackPath = ".secrets.local"
	defaultVersion      = "latest"
)

// accessClient is the slice of the Secret Manager client the fetcher needs.
type accessClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

var newAccessClient = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

// Fetcher resolves secret:// references against Google Secret Manager.
// Resolved values are cached for the process lifetime, and a local
// key=value file can stand in for Secret Manager during development.
type Fetcher struct {
	client     accessClient
	ownsClient bool
	clientOpts []option.ClientOption

	logger *zap.Logger

	env            string
	defaultProject string
	projectByEnv   map[string]string

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string
	fallbackErr  error

	mu    sync.RWMutex
	cache map[string]string
}

// Option customises Fetcher construction.
type Option func(*Fetcher)

// WithLogger sets the logger for diagnostic output.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithEnvironment selects the deployment environment used to pick a
// per-environment project ID.
func WithEnvironment(env string) Option {
	return func(f *Fetcher) {
		if v := strings.ToLower(strings.TrimSpace(env)); v != "" {
			f.env = v
		}
	}
}

// WithDefaultProject sets the project ID used when no environment mapping
// applies.
func WithDefaultProject(projectID string) Option {
	return func(f *Fetcher) {
		f.defaultProject = strings.TrimSpace(projectID)
	}
}

// WithProjectMap supplies per-environment project IDs.
func WithProjectMap(m map[string]string) Option {
	return func(f *Fetcher) {
		for env, projectID := range m {
			f.projectByEnv[env] = projectID
		}
	}
}

// WithFallbackFile overrides the local fallback secrets file path.
func WithFallbackFile(path string) Option {
	return func(f *Fetcher) {
		f.fallbackPath = strings.TrimSpace(path)
	}
}

// WithSecretManagerClient injects a preconfigured client, used by tests.
func WithSecretManagerClient(client accessClient) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// WithClientOptions forwards Cloud client options to the Secret Manager
// client constructor.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(f *Fetcher) {
		f.clientOpts = append(f.clientOpts, opts...)
	}
}

// NewFetcher builds a Fetcher. A missing Secret Manager client is not
// fatal; the fetcher then serves only fallback-file values.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	f := &Fetcher{
		logger:       zap.NewNop(),
		env:          defaultEnvironment,
		projectByEnv: map[string]string{},
		fallbackPath: defaultFallbackPath,
		cache:        map[string]string{},
	}
	if env := strings.ToLower(strings.TrimSpace(os.Getenv("API_ENVIRONMENT"))); env != "" {
		f.env = env
	}
	for _, opt := range opts {
		opt(f)
	}

	if f.client == nil {
		client, err := newAccessClient(ctx, f.clientOpts...)
		if err != nil {
			f.logger.Warn("secrets: secret manager client unavailable, serving fallback values only", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}
	return f, nil
}

// Close releases the Secret Manager client when the fetcher created it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Resolve returns the secret value for ref, consulting the cache, then
// Secret Manager, then the local fallback file.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}

	version := parsed.Version
	if version == "" {
		version = defaultVersion
	}
	key := cacheKey(parsed.Canonical, version)

	f.mu.RLock()
	cached, hit := f.cache[key]
	f.mu.RUnlock()
	if hit {
		return cached, nil
	}

	projectID := f.projectFor(parsed)
	if projectID != "" && f.client != nil {
		value, fetchErr := f.access(ctx, projectID, parsed.Secret, version)
		if fetchErr == nil {
			f.remember(key, value)
			return value, nil
		}
		if !recoverableWithFallback(fetchErr) {
			return "", fmt.Errorf("secrets: fetch failed for %s: %w", parsed.Canonical, fetchErr)
		}
		f.logger.Debug("secrets: falling back to local values", zap.String("ref", parsed.Canonical), zap.Error(fetchErr))
	}

	value, ok := f.fallbackValue(parsed.Canonical, version)
	if !ok {
		return "", fmt.Errorf("secrets: fallback value not found for %s", parsed.Canonical)
	}
	f.remember(key, value)
	return value, nil
}

func (f *Fetcher) remember(key, value string) {
	f.mu.Lock()
	f.cache[key] = value
	f.mu.Unlock()
}

func (f *Fetcher) access(ctx context.Context, projectID, secret, version string) (string, error) {
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", projectID, secret, version)
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("secret manager returned empty payload for %s", name)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) projectFor(ref parsedReference) string {
	if ref.ProjectOverride != "" {
		return ref.ProjectOverride
	}
	if id := strings.TrimSpace(f.projectByEnv[f.env]); id != "" {
		return id
	}
	return f.defaultProject
}

func (f *Fetcher) fallbackValue(canonical, version string) (string, bool) {
	f.fallbackOnce.Do(func() {
		f.fallback, f.fallbackErr = readFallbackFile(f.fallbackPath)
	})
	if f.fallbackErr != nil {
		f.logger.Debug("secrets: fallback file unreadable", zap.Error(f.fallbackErr))
		return "", false
	}
	if value, ok := f.fallback[cacheKey(canonical, version)]; ok {
		return value, true
	}
	value, ok := f.fallback[canonical]
	return value, ok
}

// readFallbackFile parses a key=value file. Keys are secret references
// (sm:// is accepted and canonicalised); blank lines and # comments are
// skipped. A missing file is not an error.
func readFallbackFile(path string) (map[string]string, error) {
	values := map[string]string{}
	if strings.TrimSpace(path) == "" {
		return values, nil
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return values, nil
		}
		return values, fmt.Errorf("secrets: unable to open fallback file %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rawKey, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key := canonicalFallbackKey(rawKey)
		if key == "" {
			continue
		}
		value = strings.TrimSpace(value)
		if parsed, err := parseReference(key); err == nil {
			version := parsed.Version
			if version == "" {
				version = defaultVersion
			}
			values[parsed.Canonical] = value
			values[cacheKey(parsed.Canonical, version)] = value
		} else {
			values[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return values, fmt.Errorf("secrets: failed reading %s: %w", path, err)
	}
	return values, nil
}

type parsedReference struct {
	Raw             string
	Canonical       string
	Secret          string
	Version         string
	ProjectOverride string
}

func parseReference(ref string) (parsedReference, error) {
	if strings.TrimSpace(ref) == "" {
		return parsedReference{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(ref)
	if err != nil {
		return parsedReference{}, fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" {
		return parsedReference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	secret := strings.Trim(u.Host+u.Path, "/")
	if secret == "" {
		return parsedReference{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}

	canonical := *u
	canonical.RawQuery = ""
	canonical.Fragment = ""
	query := u.Query()

	return parsedReference{
		Raw:             ref,
		Canonical:       canonical.String(),
		Secret:          secret,
		Version:         strings.TrimSpace(query.Get("version")),
		ProjectOverride: strings.TrimSpace(query.Get("project")),
	}, nil
}

func cacheKey(canonical, version string) string {
	return canonical + "#" + version
}

// recoverableWithFallback reports whether the fallback file may serve the
// value instead of surfacing the Secret Manager error.
func recoverableWithFallback(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}

func canonicalFallbackKey(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}
