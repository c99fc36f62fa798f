package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	buyercache "github.com/fjod/farm-checkout/internal/buyer/cache"
	"github.com/fjod/farm-checkout/internal/buyer/consumer"
	buyerrepo "github.com/fjod/farm-checkout/internal/buyer/repository"
	buyersvc "github.com/fjod/farm-checkout/internal/buyer/service"
	"github.com/fjod/farm-checkout/internal/catalog/store"
	"github.com/fjod/farm-checkout/internal/checkout"
	"github.com/fjod/farm-checkout/internal/config"
	checkouthttp "github.com/fjod/farm-checkout/internal/http"
	"github.com/fjod/farm-checkout/internal/orders/publisher"
	ordersrepo "github.com/fjod/farm-checkout/internal/orders/repository"
	"github.com/fjod/farm-checkout/pkg/circuitbreaker"
	"github.com/fjod/farm-checkout/pkg/logger"
	"github.com/fjod/farm-checkout/pkg/metrics"
	"github.com/fjod/farm-checkout/pkg/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.ServiceName, cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("checkout-service stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
	log.Info("checkout-service stopped")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("checkout-service starting", slog.String("http_port", cfg.HTTPPort))

	if cfg.OTLPEndpoint != "" {
		shutdown, err := telemetry.SetupTracer(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				log.Warn("tracer shutdown failed", slog.Any("error", err))
			}
		}()
		log.Info("tracing enabled", slog.String("endpoint", cfg.OTLPEndpoint))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	serverMetrics := metrics.NewServerMetrics(registry, "checkout")
	checkoutMetrics := metrics.NewCheckoutMetrics(registry)
	outboxMetrics := metrics.NewOutboxMetrics(registry)

	// Catalog
	catalog, err := openCatalog(cfg)
	if err != nil {
		return err
	}
	defer catalog.Close()
	log.Info("catalog store ready", slog.String("driver", cfg.CatalogDriver))

	// Buyers: MongoDB + Redis cache
	mongoDB, err := buyerrepo.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return err
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = mongoDB.Client().Disconnect(dctx)
	}()
	buyerRepo := buyerrepo.NewMongoRepository(mongoDB)
	if err := buyerRepo.CreateIndexes(ctx); err != nil {
		return err
	}
	log.Info("connected to MongoDB", slog.String("database", cfg.MongoDatabase))

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis at %s: %w", cfg.RedisAddr, err)
	}
	log.Info("connected to Redis", slog.String("addr", cfg.RedisAddr))

	buyers := buyersvc.NewBuyerService(buyerRepo, buyercache.NewRedisCache(redisClient), log)

	// Orders: PostgreSQL + outbox
	creds := &ordersrepo.Credentials{
		Host:              cfg.PostgresHost,
		Port:              cfg.PostgresPort,
		User:              cfg.PostgresUser,
		Password:          cfg.PostgresPassword,
		DBName:            cfg.PostgresDB,
		SSLMode:           cfg.PostgresSSLMode,
		MigrationsDirPath: cfg.OrdersMigrations,
	}
	orders, err := ordersrepo.NewRepository(ctx, creds)
	if err != nil {
		return err
	}
	defer orders.Close()
	if err := orders.RunMigrations(creds); err != nil {
		return err
	}
	log.Info("order store migrations completed")

	// Checkout core
	breakerCfg := circuitbreaker.Config{
		ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
		OpenTimeout:         cfg.Breaker.OpenTimeout,
		HalfOpenRequests:    cfg.Breaker.HalfOpenRequests,
	}
	newBreaker := func(name string) *circuitbreaker.Breaker {
		return circuitbreaker.New(name, breakerCfg, checkout.IsInfrastructureFailure, log)
	}
	catalogHandler := checkout.NewCatalogHandler(catalog, cfg.Timeouts.Catalog, cfg.Timeouts.Stock, newBreaker("catalog"))
	buyerHandler := checkout.NewBuyerHandler(buyers, cfg.Timeouts.Cart, cfg.Timeouts.Link, newBreaker("buyers"))
	orderHandler := checkout.NewOrderHandler(orders, cfg.Timeouts.Persist, newBreaker("orders"))

	retry := checkout.RetryPolicy{
		Retries:         uint64(cfg.Retry.Attempts),
		InitialInterval: cfg.Retry.InitialInterval,
		MaxInterval:     cfg.Retry.MaxInterval,
	}
	checkoutService := checkout.NewCheckoutService(catalogHandler, buyerHandler, orderHandler, retry, checkoutMetrics, log)
	lifecycle := checkout.NewOrderLifecycle(orderHandler, catalogHandler, retry, checkoutMetrics, log)

	// Outbox publisher
	writer := publisher.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer writer.Close()
	poller := publisher.NewOutboxPoller(orders, writer, outboxMetrics, log)
	poller.SetInterval(cfg.OutboxPollInterval)

	history := consumer.NewOrderHistoryConsumer(
		consumer.NewKafkaReader(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaConsumerGroup),
		buyers, log)
	defer history.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		poller.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		history.Run(ctx)
	}()

	// HTTP
	router := checkouthttp.NewRouter(
		checkouthttp.RouterConfig{
			RequestTimeout:     cfg.RequestTimeout,
			MaxRequestBodySize: cfg.MaxRequestBodySize,
		},
		checkouthttp.Handlers{
			Checkout: checkouthttp.NewCheckoutHandler(checkoutService, log),
			Orders:   checkouthttp.NewOrdersHandler(lifecycle, log),
			Cart:     checkouthttp.NewCartHandler(buyers, log),
		},
		serverMetrics,
		registry,
		func(r *http.Request) error {
			return errors.Join(
				orders.Ping(r.Context()),
				mongoDB.Client().Ping(r.Context(), nil),
				redisClient.Ping(r.Context()).Err(),
			)
		},
		log,
	)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: cfg.RequestTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down checkout-service")
	case err := <-serveErr:
		stop()
		wg.Wait()
		return fmt.Errorf("http server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown incomplete", slog.Any("error", err))
	}
	wg.Wait()
	return nil
}

func openCatalog(cfg *config.Config) (store.CatalogStore, error) {
	if cfg.CatalogDriver == config.CatalogDriverMemory {
		return store.NewMemoryStore(), nil
	}
	s, err := store.NewSQLiteStore(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	if err := s.RunMigrations(cfg.CatalogMigrations); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}
