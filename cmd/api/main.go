package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/venues/internal/api"
	"example.com/venues/internal/auth"
	"example.com/venues/internal/cache"
	"example.com/venues/internal/config"
	"example.com/venues/internal/outbox"
	"example.com/venues/internal/persistence/memory"
	"example.com/venues/internal/persistence/postgres"
	"example.com/venues/internal/provider/yelp"
	httptransport "example.com/venues/internal/transport/http"
	"example.com/venues/internal/venue"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, dispatcher, cleanup, err := buildRepository(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialise storage", slog.Any("error", err))
		os.Exit(1)
	}
	defer cleanup()

	if dispatcher != nil {
		go dispatcher.Start(ctx)
	}

	var invalidator cache.Invalidator = cache.NoopInvalidator{}
	if cfg.CacheInvalidationURL != "" {
		invalidator = cache.NewHTTPInvalidator(cfg.CacheInvalidationURL, cfg.CacheInvalidationToken, 5*time.Second)
	}

	provider := yelp.NewClient(yelp.Config{
		Endpoint: cfg.YelpEndpoint,
		APIKey:   cfg.YelpAPIKey,
		Timeout:  cfg.ProviderTimeout,
	})
	syncer := venue.NewSynchronizer(provider, repo,
		venue.WithLogger(logger),
		venue.WithInvalidator(invalidator),
		venue.WithLimits(venue.Limits{MaxRadiusMiles: cfg.MaxRadiusMiles, MaxResults: cfg.MaxResults}),
	)

	handler := api.NewHandler(syncer, venue.NewService(repo))
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, nil)

	server := httptransport.NewServer(httptransport.DefaultServerConfig(cfg.HTTPAddress),
		httptransport.Chain(mux,
			httptransport.RequestLogger(logger),
			httptransport.CORS("http://localhost:5173"),
			authMiddleware.Wrap,
		))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("venue api listening", slog.String("address", cfg.HTTPAddress), slog.Bool("postgres", cfg.PostgresURL != ""))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
	}

	if dispatcher != nil {
		dispatcher.Wait()
	}
}

// buildRepository selects the in-memory store when no database is configured.
// With Postgres it also returns the outbox dispatcher that relays sync events.
func buildRepository(ctx context.Context, cfg config.Config, logger *slog.Logger) (venue.Repository, *outbox.Dispatcher, func(), error) {
	if cfg.PostgresURL == "" {
		logger.Warn("POSTGRES_URL not set, using in-memory venue store")
		return memory.NewRepository(), nil, func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, nil, nil, err
	}

	producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
	registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
	dispatcher := outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize,
		outbox.WithDispatcherLogger(logger))

	cleanup := func() {
		if err := producer.Close(); err != nil {
			logger.Warn("kafka producer close failed", slog.Any("error", err))
		}
		pool.Close()
	}
	return postgres.NewRepository(pool), dispatcher, cleanup, nil
}
