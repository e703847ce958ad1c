package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maneesh/mediastream/internal/chunker"
	"github.com/maneesh/mediastream/internal/config"
	"github.com/maneesh/mediastream/internal/handlers"
	"github.com/maneesh/mediastream/internal/ingest"
	"github.com/maneesh/mediastream/internal/logging"
	"github.com/maneesh/mediastream/internal/storage"
	"github.com/maneesh/mediastream/internal/tracing"
	"github.com/sirupsen/logrus"
)

// backends is the storage wiring selected by STORAGE_BACKEND
type backends struct {
	chunks  storage.ChunkStore
	catalog storage.Catalog
	media   storage.MediaStore
	checks  map[string]handlers.Pinger
	closers []func() error
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	log := logging.Component(logger, "main")
	log.Infof("Starting %s with config:%s", cfg.ServiceName, cfg)

	ctx := context.Background()

	shutdownTracer, err := tracing.InitTracer(ctx, tracing.Options{
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.JaegerEndpoint,
		Enabled:     cfg.TracingEnabled,
		SampleRatio: cfg.TraceSampleRatio,
	}, logging.Component(logger, "tracing"))
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize tracer")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.WithError(err).Warn("Error shutting down tracer")
		}
	}()

	var b *backends
	switch cfg.StorageBackend {
	case config.BackendMemory:
		b = memoryBackends()
	default:
		b, err = remoteBackends(ctx, cfg, logger)
		if err != nil {
			log.WithError(err).Fatal("Failed to initialize storage")
		}
	}
	defer func() {
		for i := len(b.closers) - 1; i >= 0; i-- {
			if err := b.closers[i](); err != nil {
				log.WithError(err).Warn("Error closing storage client")
			}
		}
	}()
	log.WithField("backend", cfg.StorageBackend).Info("Storage initialized")

	ingestor := ingest.NewIngestor(
		b.catalog,
		b.chunks,
		chunker.NewChunker(cfg.GetChunkSizeBytes()),
		logging.Component(logger, "ingest"),
		cfg.CleanupTimeout,
	)

	httpLog := logging.Component(logger, "http")
	media := handlers.NewMediaHandler(b.media, httpLog, cfg.ViewTimeout)
	router := handlers.NewRouter(handlers.Routes{
		Upload:         handlers.NewUploadHandler(ingestor, b.media, httpLog),
		Stream:         handlers.NewStreamHandler(b.catalog, b.chunks, httpLog),
		Delete:         handlers.NewDeleteHandler(ingestor, b.media, httpLog),
		Media:          media,
		Health:         handlers.NewHealthHandler(b.checks, httpLog),
		MaxUploadBytes: cfg.GetMaxUploadBytes(),
	}, httpLog)

	// WriteTimeout of 0 leaves long streams unbounded
	srv := &http.Server{
		Addr:              ":" + cfg.ServicePort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Infof("Server listening on port %s", cfg.ServicePort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Server forced to shutdown")
	}
	media.Wait()

	log.Info("Server exited")
}

func memoryBackends() *backends {
	chunks := storage.NewMemoryChunkStore()
	catalog := storage.NewMemoryCatalog()
	return &backends{
		chunks:  chunks,
		catalog: catalog,
		media:   storage.NewMemoryMediaStore(),
		checks:  map[string]handlers.Pinger{"catalog": catalog, "chunks": chunks},
	}
}

// remoteBackends connects MinIO for chunks, TiDB for records and views, and
// Redis as the optional record cache
func remoteBackends(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*backends, error) {
	log := logging.Component(logger, "storage")
	b := &backends{checks: make(map[string]handlers.Pinger)}

	log.Info("Connecting to MinIO...")
	chunks, err := storage.NewMinioChunkStore(ctx,
		cfg.MinIOEndpoint,
		cfg.MinIOAccessKey,
		cfg.MinIOSecretKey,
		cfg.MinIOBucketName,
		cfg.MinIOUseSSL,
		log,
	)
	if err != nil {
		return nil, err
	}
	b.chunks = chunks
	b.checks["minio"] = chunks

	log.Info("Connecting to TiDB...")
	if err := storage.RunMigrations(cfg.GetDSN(), log); err != nil {
		return nil, err
	}
	db, err := storage.OpenTiDB(ctx, cfg.GetDSN())
	if err != nil {
		return nil, err
	}
	b.closers = append(b.closers, db.Close)

	tidbCatalog := storage.NewTiDBCatalog(db)
	b.checks["tidb"] = tidbCatalog

	var catalog storage.Catalog = tidbCatalog
	b.media = storage.NewTiDBMediaStore(db)

	if cfg.CacheEnabled {
		log.Info("Connecting to Redis...")
		redisClient, err := storage.NewRedisClient(ctx, cfg.GetRedisAddr(), cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			db.Close()
			return nil, err
		}
		b.closers = append(b.closers, redisClient.Close)
		b.checks["redis"] = redisClient
		catalog = storage.NewCachedCatalog(catalog, redisClient, log)
	}
	b.catalog = catalog

	return b, nil
}
