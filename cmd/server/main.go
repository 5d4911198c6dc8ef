package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/airtimehq/topup-core/internal/adapters/dingconnect"
	"github.com/airtimehq/topup-core/internal/adapters/kafka"
	"github.com/airtimehq/topup-core/internal/adapters/postgres"
	"github.com/airtimehq/topup-core/internal/adapters/redislock"
	"github.com/airtimehq/topup-core/internal/config"
	"github.com/airtimehq/topup-core/internal/domain/ports"
	"github.com/airtimehq/topup-core/internal/handlers/api"
	"github.com/airtimehq/topup-core/internal/jobs"
	"github.com/airtimehq/topup-core/internal/services/checkout"
	"github.com/airtimehq/topup-core/internal/services/ledger"
	"github.com/airtimehq/topup-core/internal/services/pricing"
	"github.com/airtimehq/topup-core/internal/services/refund"
	"github.com/airtimehq/topup-core/internal/services/transaction"
	"github.com/airtimehq/topup-core/pkg/logging"
	"github.com/airtimehq/topup-core/pkg/observability"
	"github.com/airtimehq/topup-core/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "", "path to the config directory")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	var logger ports.Logger
	if cfg.Log.Mode == "development" {
		logger, err = logging.NewZapLoggerDevelopment()
	} else {
		logger, err = logging.NewZapLoggerProduction()
	}
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	pgCfg := postgres.DefaultConfig(cfg.Database.URL)
	pgCfg.MaxConns = cfg.Database.MaxConns
	pgCfg.MinConns = cfg.Database.MinConns
	db, err := postgres.NewAdapter(ctx, pgCfg, logger)
	if err != nil {
		logger.Error("connect postgres", ports.Err(err))
		os.Exit(1)
	}
	defer db.Close()
	pool := db.GetDB()

	// Redis account lock
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	locker := redislock.NewAccountLock(redisClient, cfg.Redis.LockTTL, logger)

	// Kafka producer for the outbox sender
	producer, err := kafka.NewProducer(cfg.Kafka.Brokers, logger)
	if err != nil {
		logger.Error("connect kafka", ports.Err(err))
		os.Exit(1)
	}
	defer producer.Close()

	// Fulfillment provider
	provider := dingconnect.NewClient(dingconnect.Config{
		BaseURL: cfg.Provider.BaseURL,
		APIKey:  cfg.Provider.APIKey,
		Timeout: cfg.Provider.Timeout,
	}, logger)

	// Repositories
	accounts := postgres.NewLedgerRepository(pool)
	caps := postgres.NewSpendingCapRepository(pool)
	history := postgres.NewBalanceHistoryRepository(pool)
	txns := postgres.NewTransactionRepository(pool)
	customers := postgres.NewCustomerRepository(pool)
	rules := postgres.NewPricingRepository(pool)
	outbox := postgres.NewOutboxRepository(pool)

	// Services
	timeouts := resilience.DefaultTimeoutConfig()
	ledgerSvc := ledger.NewService(db, accounts, caps, history, logger)
	pricingEngine := pricing.NewEngine(rules, logger)
	lifecycleSvc := transaction.NewService(db, txns, customers, outbox, provider, logger, timeouts)
	refundSvc := refund.NewService(db, txns, customers, outbox, ledgerSvc, logger)
	checkoutSvc := checkout.NewService(db, txns, pricingEngine, ledgerSvc, lifecycleSvc, refundSvc,
		provider, locker, logger, cfg.Business.ReserveFirst)

	// Background outbox drain
	sender := jobs.NewOutboxSender(db, outbox, producer, logger, jobs.SenderConfig{
		Interval:    cfg.Kafka.Interval,
		BatchSize:   cfg.Kafka.BatchSize,
		MaxRetries:  cfg.Kafka.MaxRetries,
		TopicPrefix: cfg.Kafka.TopicPrefix,
	})
	go sender.Run(ctx)

	// Metrics and health endpoints
	healthChecker := observability.NewHealthChecker(pool, redisClient)
	metricsServer := observability.StartMetricsServer(cfg.Server.MetricsPort, healthChecker)

	// HTTP API
	handler := api.NewHandler(checkoutSvc, lifecycleSvc, refundSvc, ledgerSvc, pricingEngine,
		rules, history, logger)
	router := api.NewRouter(handler, logger, timeouts)

	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		logger.Info("http server listening", ports.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", ports.Err(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", ports.Err(err))
	}
	if err := observability.ShutdownMetricsServer(metricsServer); err != nil {
		logger.Error("metrics shutdown failed", ports.Err(err))
	}
}
