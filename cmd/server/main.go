package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"github.com/tahcohcat/vocalize-web/config"
	"github.com/tahcohcat/vocalize-web/internal/api"
	"github.com/tahcohcat/vocalize-web/internal/audio"
	"github.com/tahcohcat/vocalize-web/internal/catalog"
	"github.com/tahcohcat/vocalize-web/internal/database"
	"github.com/tahcohcat/vocalize-web/internal/logger"
	"github.com/tahcohcat/vocalize-web/internal/observe"
	"github.com/tahcohcat/vocalize-web/internal/services"
	"github.com/tahcohcat/vocalize-web/internal/session"
	"github.com/tahcohcat/vocalize-web/internal/tts"
	"github.com/tahcohcat/vocalize-web/internal/websocket"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New().WithError(err).Error("failed to load config")
		os.Exit(1)
	}

	logger.SetLevel(logger.LogLevel(cfg.Log.Level))
	logger.SetFormat(cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.New().WithError(err).Error("server stopped")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.New()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.WithError(err).Warn("failed to flush telemetry")
		}
	}()
	metrics := observe.DefaultMetrics()

	cat, err := catalog.FromConfig(cfg.Catalog)
	if err != nil {
		return fmt.Errorf("invalid catalog: %w", err)
	}

	db, err := database.NewDB(ctx, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	online, closeOnline, err := newOnlineEngine(ctx, cat, cfg.Engines)
	if err != nil {
		return err
	}
	defer closeOnline()

	system, err := newOfflineEngine(cat, cfg.Engines)
	if err != nil {
		return err
	}
	var offline tts.Engine = system

	if cfg.Cache.Enabled {
		rdb := newRedisClient(ctx, cfg.Cache.RedisURL)
		if rdb != nil {
			defer rdb.Close()
		}
		results := tts.NewResultCache(rdb, cfg.Cache.LocalSize, cfg.Cache.LocalTTL)
		online = tts.NewCachedEngine(online, results, cfg.Cache.TTL, metrics)
		offline = tts.NewCachedEngine(offline, results, cfg.Cache.TTL, metrics)
	}

	orchestrator, err := tts.NewOrchestrator(cat, online, offline, metrics)
	if err != nil {
		return fmt.Errorf("failed to build orchestrator: %w", err)
	}
	orchestrator.SetFallbackReserve(cfg.Engines.FallbackReserve)

	store, err := audio.NewStore(audio.Options{
		Dir:       cfg.Audio.Dir,
		Retention: cfg.Audio.Retention,
		MaxFiles:  cfg.Audio.MaxFiles,
	})
	if err != nil {
		return err
	}
	go store.RunPruner(ctx, cfg.Audio.PruneInterval, func(n int) {
		metrics.RecordPruned(ctx, n)
	})

	hub := websocket.NewHub(cfg.Server.AllowedOrigins, metrics)
	go hub.Run(ctx)

	// discover offline voices before the first request needs them
	go func() {
		if system.Available(ctx) {
			voices, _ := system.Voices(ctx)
			log.Info("offline engine ready", "voices", len(voices), "both_genders", system.HasBothGenders(ctx))
			return
		}
		log.Warn("offline engine unavailable, requests will rely on the online engine")
	}()

	history := services.NewHistoryService(db)
	router := api.NewRouter(api.Routes{
		Speech: api.NewSpeechHandler(api.SpeechOptions{
			Catalog:        cat,
			Orchestrator:   orchestrator,
			Store:          store,
			History:        history,
			Sessions:       session.New(cfg.Session.Secret, cfg.Session.MaxAge),
			Events:         hub,
			DefaultEngine:  cfg.Engines.Default,
			RequestTimeout: cfg.Server.RequestTimeout,
			MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		}),
		Catalog:      api.NewCatalogHandler(cat, orchestrator),
		History:      api.NewHistoryHandler(history),
		Events:       hub,
		Metrics:      metrics,
		StaticDir:    cfg.Server.StaticDir,
		TemplatesDir: cfg.Server.TemplatesDir,
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           c.Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("vocalize server starting",
			"port", cfg.Server.Port,
			"online", online.ID(),
			"offline", offline.ID(),
			"database", cfg.Database.Path,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newOnlineEngine builds the configured online engine and its close function.
func newOnlineEngine(ctx context.Context, cat *catalog.Catalog, cfg config.EnginesConfig) (tts.Engine, func(), error) {
	switch cfg.Online {
	case tts.GoogleEngineID:
		g, err := tts.NewGoogleEngine(ctx, cat, tts.GoogleConfig{
			CredentialsFile: cfg.Google.CredentialsFile,
			SampleRate:      cfg.Google.SampleRate,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create google engine: %w", err)
		}
		return g, func() { g.Close() }, nil
	default:
		return tts.NewGTTSEngine(cat, tts.GTTSConfig{
			BaseURL:           cfg.GTTS.BaseURL,
			Slow:              cfg.GTTS.Slow,
			Timeout:           cfg.GTTS.Timeout,
			RequestsPerMinute: cfg.GTTS.RequestsPerMinute,
		}), func() {}, nil
	}
}

// newOfflineEngine builds the configured offline engine.
func newOfflineEngine(cat *catalog.Catalog, cfg config.EnginesConfig) (*tts.SystemEngine, error) {
	switch cfg.Offline {
	case tts.SystemEngineID:
		return tts.NewSystemEngine(cat, tts.SystemConfig{
			Binary:  cfg.System.Binary,
			Rate:    cfg.System.Rate,
			Volume:  cfg.System.Volume,
			Timeout: cfg.System.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported offline engine: %q", cfg.Offline)
	}
}

// newRedisClient returns nil when no URL is configured or Redis cannot be
// reached; the cache then stays in-process.
func newRedisClient(ctx context.Context, url string) *redis.Client {
	if url == "" {
		return nil
	}
	log := logger.New().With("component", "cache")

	opts, err := redis.ParseURL(url)
	if err != nil {
		log.WithError(err).Warn("invalid redis url, using local cache only")
		return nil
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.WithError(err).Warn("redis unreachable, using local cache only")
		client.Close()
		return nil
	}
	return client
}
