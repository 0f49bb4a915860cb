package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cshum/vipsgen/vips"
	"go.uber.org/zap"

	"wmtsproxy/internal/cache"
	"wmtsproxy/internal/config"
	httphandlers "wmtsproxy/internal/http"
	"wmtsproxy/internal/image_renderer"
	"wmtsproxy/internal/logger"
	"wmtsproxy/internal/restriction"
	"wmtsproxy/internal/wms"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	vipsConfig := &vips.Config{
		ConcurrencyLevel: cfg.VipsConcurrency,
		MaxCacheMem:      cfg.VipsMaxCacheMB * 1024 * 1024,
		MaxCacheFiles:    0,
		MaxCacheSize:     0,
		ReportLeaks:      false,
		CacheTrace:       false,
		VectorEnabled:    true,
	}

	vips.SetLogging(func(domain string, level vips.LogLevel, message string) {
		if level >= vips.LogLevelError {
			log.Error("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		} else if level >= vips.LogLevelWarning {
			log.Warn("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		}
	}, vips.LogLevelError)

	vips.Startup(vipsConfig)
	defer vips.Shutdown()

	log.Info("Starting WMTS proxy",
		zap.Int("port", cfg.Port),
		zap.String("version", cfg.AppVersion),
		zap.String("wms_backend", cfg.WMSBackendURL()),
		zap.Bool("caching", cfg.EnableCaching),
		zap.String("default_mode", cfg.DefaultMode),
	)

	ctx := context.Background()

	source, closeSource, err := restrictionSource(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize restriction source", zap.Error(err))
	}
	defer closeSource()

	restrictions, err := restriction.NewStore(ctx, source, log)
	if err != nil {
		log.Fatal("Failed to load restrictions", zap.Error(err))
	}

	backend := wms.New(wms.Config{
		BaseURL:            cfg.WMSBackendURL(),
		Referer:            cfg.RefererURL,
		Timeout:            cfg.WMSTimeout,
		InsecureSkipVerify: cfg.WMSInsecureSkipVerify,
	}, log)

	renderer := image_renderer.New(log)

	var (
		tileCache *cache.TileCache
		scheduler cache.Scheduler
	)
	if cfg.EnableCaching {
		store, err := cache.NewStore(cache.StoreConfig{
			Backend:         cfg.CacheBackend,
			BucketName:      cfg.BucketName,
			Region:          cfg.BucketRegion,
			Endpoint:        cfg.BucketEndpoint,
			HTTPTimeout:     cfg.CacheWriteTimeout,
			RedisAddr:       cfg.RedisAddr,
			RedisPassword:   cfg.RedisPassword,
			RedisDB:         cfg.RedisDB,
			MemcacheServers: cfg.MemcacheServers,
			FileDir:         cfg.CacheFileDir,
			MemoryTiles:     cfg.CacheMemoryTiles,
		}, log)
		if err != nil {
			log.Fatal("Failed to initialize tile cache", zap.Error(err))
		}
		if closer, ok := store.(io.Closer); ok {
			defer closer.Close()
		}

		scheduler, err = cache.NewScheduler(cfg.WriteMode, cfg.AsyncWriteWorkers, cfg.AsyncWriteQueue, log)
		if err != nil {
			log.Fatal("Failed to initialize cache writes", zap.Error(err))
		}
		tileCache = cache.NewTileCache(store, cfg.CacheReadTimeout, cfg.CacheWriteTimeout, log)
		log.Info("Tile caching enabled", zap.String("backend", cfg.CacheBackend), zap.String("write_mode", cfg.WriteMode))
	}

	handlers := httphandlers.New(cfg, log, restrictions, backend, renderer, tileCache, scheduler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handlers.Handler(),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.Int("port", cfg.Port), zap.Int("layers", restrictions.Snapshot().Len()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	// pending async writes get whatever is left of the shutdown timeout
	if drainer, ok := scheduler.(cache.Drainer); ok {
		if err := drainer.Shutdown(shutdownCtx); err != nil {
			log.Warn("Pending cache writes were not drained", zap.Error(err))
		}
	}

	log.Info("Server stopped")
}

// restrictionSource picks the YAML file when RESTRICTIONS_FILE is set and the
// BOD database otherwise.
func restrictionSource(ctx context.Context, cfg *config.Config, log *zap.Logger) (restriction.Source, func(), error) {
	if !cfg.UsesDatabase() {
		log.Info("Loading restrictions from file", zap.String("path", cfg.RestrictionsFile))
		return restriction.NewFileSource(cfg.RestrictionsFile), func() {}, nil
	}

	db, err := restriction.OpenPostgres(ctx, restriction.PostgresConfig{
		Host:           cfg.DBHost,
		Port:           cfg.DBPort,
		Name:           cfg.DBName,
		User:           cfg.DBUser,
		Password:       cfg.DBPassword,
		ConnectTimeout: cfg.DBConnectTimeout,
		ConnectRetries: cfg.DBConnectRetries,
	}, log)
	if err != nil {
		return nil, nil, err
	}
	return restriction.NewPostgresSource(db, log), func() { db.Close() }, nil
}
