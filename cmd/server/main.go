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
	"go.uber.org/zap"

	"github.com/pimarket/reconciler/internal/api"
	"github.com/pimarket/reconciler/internal/config"
	"github.com/pimarket/reconciler/internal/currency"
	"github.com/pimarket/reconciler/internal/delivery"
	"github.com/pimarket/reconciler/internal/ingestion"
	"github.com/pimarket/reconciler/internal/notify"
	"github.com/pimarket/reconciler/internal/reconciliation"
	"github.com/pimarket/reconciler/internal/repository"
	"github.com/pimarket/reconciler/internal/tasks"
	"github.com/pimarket/reconciler/internal/wallet"
)

func main() {
	logger, err := newLogger(os.Getenv("ENVIRONMENT"))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting payment reconciler")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.String("environment", cfg.Server.Env),
		zap.String("port", cfg.Server.Port),
		zap.String("db_driver", cfg.Database.Driver))

	db, err := repository.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	policy, err := currency.NewPolicy(cfg.Ledger.RateVND, cfg.Ledger.RateVersion)
	if err != nil {
		logger.Fatal("invalid conversion policy", zap.Error(err))
	}

	emitter, closeEmitters := buildEmitter(cfg, logger)
	defer closeEmitters()

	runner := tasks.NewRunner(cfg.SideEffects.Concurrency, cfg.SideEffects.Timeout, logger)

	walletSvc := wallet.NewService(db, policy, cfg.Ledger.HoldPeriod, logger)
	dispatcher := delivery.NewDispatcher(
		repository.NewOrderRepo(db),
		repository.NewLicenseKeyRepo(db),
		logger,
	)

	deps := reconciliation.Deps{
		DB:              db,
		Dispatcher:      dispatcher,
		Wallet:          walletSvc,
		Emitter:         emitter,
		Runner:          runner,
		AmountTolerance: cfg.Webhook.AmountTolerance,
		Logger:          logger,
	}
	if cfg.SMTP.Enabled() {
		deps.Mailer = notify.NewMailer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From)
		logger.Info("confirmation emails enabled", zap.String("smtp_host", cfg.SMTP.Host))
	}
	reconSvc := reconciliation.NewService(deps)
	ingestionSvc := ingestion.NewService(reconSvc, logger)

	router := api.NewRouter(api.Deps{
		DB:             db,
		Reconciler:     reconSvc,
		Ingestion:      ingestionSvc,
		Wallet:         walletSvc,
		APIKey:         cfg.Webhook.APIKey,
		AllowedOrigins: cfg.Server.CORSOrigins,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	// Payments already confirmed still owe their notifications and counters.
	runner.Wait()

	logger.Info("server stopped")
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// buildEmitter fans payment events out to every configured sink. The
// returned func releases the sink clients.
func buildEmitter(cfg *config.Config, logger *zap.Logger) (notify.Emitter, func()) {
	var (
		emitters notify.Multi
		closers  []func() error
	)

	for _, sink := range cfg.Notify.Sinks {
		switch sink {
		case "redis":
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := rdb.Ping(ctx).Err(); err != nil {
				logger.Warn("redis not reachable at startup", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
			}
			cancel()
			emitters = append(emitters, notify.NewRedisEmitter(rdb, cfg.Redis.Channel))
			closers = append(closers, rdb.Close)
			logger.Info("redis event sink enabled", zap.String("channel", cfg.Redis.Channel))
		case "kafka":
			w := notify.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
			emitters = append(emitters, notify.NewKafkaEmitter(w))
			closers = append(closers, w.Close)
			logger.Info("kafka event sink enabled",
				zap.Strings("brokers", cfg.Kafka.Brokers),
				zap.String("topic", cfg.Kafka.Topic))
		}
	}

	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("failed to close event sink", zap.Error(err))
			}
		}
	}

	if len(emitters) == 0 {
		return notify.Noop{}, closeAll
	}
	return emitters, closeAll
}
