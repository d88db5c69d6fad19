package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/maplewick/api/internal/domain"
	"github.com/maplewick/api/internal/handlers"
	"github.com/maplewick/api/internal/platform/config"
	pfirestore "github.com/maplewick/api/internal/platform/firestore"
	"github.com/maplewick/api/internal/platform/jobs"
	"github.com/maplewick/api/internal/platform/observability"
	"github.com/maplewick/api/internal/platform/secrets"
	platformstorage "github.com/maplewick/api/internal/platform/storage"
	firestoreRepo "github.com/maplewick/api/internal/repositories/firestore"
	"github.com/maplewick/api/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
	)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	bucketClient, err := platformstorage.NewBucketClient(ctx, cfg.Storage.ImagesBucket, nil,
		platformstorage.WithObjectSizeLimit(cfg.Storage.BucketSizeLimit))
	if err != nil {
		logger.Fatal("failed to initialise storage client", zap.Error(err))
	}
	defer func() {
		if err := bucketClient.Close(); err != nil {
			logger.Warn("storage close error", zap.Error(err))
		}
	}()
	bucket := &bucketAdapter{client: bucketClient, projectID: cfg.Firestore.ProjectID}
	resolveObjectURL := func(object string) string {
		return platformstorage.PublicURL(cfg.Storage.ImagesBucket, object)
	}

	productRepo, err := firestoreRepo.NewProductRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise product repository", zap.Error(err))
	}
	reportRepo, err := firestoreRepo.NewReportRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise report repository", zap.Error(err))
	}

	verifier, err := services.NewURLVerifier(services.VerifierDeps{
		Client:             &http.Client{},
		Timeout:            cfg.Reconcile.VerifyTimeout,
		MaxRetries:         cfg.Reconcile.MaxRetries,
		Concurrency:        cfg.Reconcile.Concurrency,
		RetryOnHTTPFailure: cfg.Reconcile.RetryOnHTTPFailure,
	})
	if err != nil {
		logger.Fatal("failed to initialise url verifier", zap.Error(err))
	}

	reconcileService, err := services.NewReconcileService(services.ReconcileServiceDeps{
		Products:       productRepo,
		Objects:        bucket,
		Verifier:       verifier,
		Reports:        reportRepo,
		Resolve:        resolveObjectURL,
		PublicBaseURL:  cfg.Storage.PublicBaseURL,
		DisablePersist: !cfg.Reconcile.PersistResults,
		Logger:         logger.Named("reconcile"),
	})
	if err != nil {
		logger.Fatal("failed to initialise reconcile service", zap.Error(err))
	}

	catalogService, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products: productRepo,
	})
	if err != nil {
		logger.Fatal("failed to initialise catalog service", zap.Error(err))
	}

	importService, err := services.NewImportService(services.ImportServiceDeps{
		Products: productRepo,
	})
	if err != nil {
		logger.Fatal("failed to initialise import service", zap.Error(err))
	}

	storageService, err := services.NewStorageService(services.StorageServiceDeps{
		Bucket:       bucket,
		Products:     productRepo,
		Verifier:     verifier,
		Resolve:      resolveObjectURL,
		ObjectKey:    platformstorage.ProductImageKey,
		ProbeTimeout: cfg.Reconcile.ProbeTimeout,
	})
	if err != nil {
		logger.Fatal("failed to initialise storage service", zap.Error(err))
	}

	var reconcilePublisher services.ReconcileJobPublisher
	if topicName := strings.TrimSpace(cfg.Jobs.ReconcileTopic); topicName != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.Firestore.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		topic := pubsubClient.Topic(topicName)
		defer topic.Stop()
		reconcilePublisher, err = jobs.NewPubSubReconcilePublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise reconcile publisher", zap.Error(err))
		}
		logger.Info("reconcile job publishing enabled", zap.String("topic", topicName))
	}

	catalogHandlers := handlers.NewCatalogHandlers(
		handlers.WithCatalogService(catalogService),
	)

	adminImageOpts := []handlers.AdminImageOption{
		handlers.WithReconcileService(reconcileService),
		handlers.WithReconcileReports(reportRepo),
	}
	if reconcilePublisher != nil {
		adminImageOpts = append(adminImageOpts, handlers.WithReconcilePublisher(reconcilePublisher))
	}
	adminImageHandlers := handlers.NewAdminImageHandlers(adminImageOpts...)
	adminStorageHandlers := handlers.NewAdminStorageHandlers(
		handlers.WithStorageService(storageService),
	)
	adminImportHandlers := handlers.NewAdminImportHandlers(
		handlers.WithImportService(importService),
	)

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(handlers.BuildInfo{
			Version:     buildInfo.Version,
			CommitSHA:   buildInfo.CommitSHA,
			Environment: buildInfo.Environment,
			StartedAt:   startedAt,
		}),
		handlers.WithReadinessCheck("firestore", productRepo.Ping),
		handlers.WithReadinessCheck("storage", func(ctx context.Context) error {
			ok, err := bucketClient.Exists(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("bucket %s does not exist", cfg.Storage.ImagesBucket)
			}
			return nil
		}),
	)

	projectID := cfg.Firestore.ProjectID
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCatalogRoutes(catalogHandlers.Routes),
		handlers.WithAdminRoutes(func(r chi.Router) {
			adminImageHandlers.Routes(r)
			adminStorageHandlers.Routes(r)
			adminImportHandlers.Routes(r)
		}),
		handlers.WithAdminMiddlewares(
			handlers.AdminTokenMiddleware(cfg.Admin.APIToken),
			handlers.RateLimitMiddleware(cfg.RateLimits.AdminPerMinute, time.Minute, time.Now),
		),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("maplewick api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// bucketAdapter narrows the storage client to the surface the services
// expect.
type bucketAdapter struct {
	client    *platformstorage.BucketClient
	projectID string
}

func (b *bucketAdapter) Bucket() string {
	return b.client.Bucket()
}

func (b *bucketAdapter) Exists(ctx context.Context) (bool, error) {
	return b.client.Exists(ctx)
}

func (b *bucketAdapter) EnsureBucket(ctx context.Context) error {
	return b.client.EnsureBucket(ctx, b.projectID)
}

func (b *bucketAdapter) ListObjects(ctx context.Context, search string, limit int) ([]domain.StorageObject, error) {
	return b.client.ListObjects(ctx, platformstorage.ListOptions{Search: search, Limit: limit})
}

func (b *bucketAdapter) Upload(ctx context.Context, object, contentType string, body io.Reader) (string, error) {
	return b.client.Upload(ctx, object, contentType, body)
}

func (b *bucketAdapter) Attrs(ctx context.Context, object string) (domain.StorageObject, error) {
	return b.client.Attrs(ctx, object)
}

func (b *bucketAdapter) Delete(ctx context.Context, object string) error {
	return b.client.Delete(ctx, object)
}

var (
	_ services.ObjectLister    = (*bucketAdapter)(nil)
	_ services.BucketInspector = (*bucketAdapter)(nil)
)

type buildMetadata struct {
	Version     string
	CommitSHA   string
	Environment string
}

func buildInfoFromEnv(env map[string]string) buildMetadata {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.ToLower(strings.TrimSpace(env["API_ENVIRONMENT"]))
	if environment == "" {
		environment = "local"
	}
	return buildMetadata{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		if value, ok := env[key]; ok {
			return strings.TrimSpace(value)
		}
		return ""
	}

	envLabel := strings.ToLower(lookup("API_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIRESTORE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	credentialsFile := lookup("API_GOOGLE_CREDENTIALS_FILE")

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}
