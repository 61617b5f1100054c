package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"pehlione.com/settlement/internal/config"
	apphttp "pehlione.com/settlement/internal/http"
	"pehlione.com/settlement/internal/mailer"
	"pehlione.com/settlement/internal/modules/email"
	"pehlione.com/settlement/internal/modules/inventory"
	"pehlione.com/settlement/internal/modules/orders"
	"pehlione.com/settlement/internal/modules/payments"
	"pehlione.com/settlement/internal/modules/products"
	"pehlione.com/settlement/internal/queue"
	"pehlione.com/settlement/internal/shared/dbx"
)

func main() {
	// Load .env file (ignore error if not found - prod uses real env vars)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("exit", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := dbx.OpenMySQL(cfg.DBDSN)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	orderRepo := orders.NewRepo(db)
	ledger := inventory.NewGormLedger(db)

	engine := inventory.NewEngine(orderRepo, products.NewRepo(db), ledger, inventory.EngineConfig{
		ClaimLease:   cfg.Stock.ClaimLease,
		CASAttempts:  cfg.Stock.CASAttempts,
		SystemUserID: cfg.Stock.SystemUserID,
		OpTimeout:    cfg.DBOpTimeout,
	})
	engine.SetLogger(logger)

	var markers payments.MarkerStore
	if cfg.Gate.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Gate.RedisAddr, DB: cfg.Gate.RedisDB})
		defer rdb.Close()
		markers = payments.NewRedisMarkers(rdb, cfg.Gate.KeyPrefix)
		logger.Info("idempotency markers in redis", "addr", cfg.Gate.RedisAddr)
	}
	gate := payments.NewGate(markers, cfg.Gate.TTL)
	gate.SetLogger(logger)

	provider := payments.NewHTTPProvider(cfg.Provider.Name, cfg.Provider.BaseURL, cfg.Provider.AccessToken, cfg.ProviderTimeout)

	settlement := payments.NewSettlementService(gate, provider, payments.NewRepo(db), orderRepo, engine, ledger, payments.SettlementConfig{
		ProviderTimeout: cfg.ProviderTimeout,
		DBOpTimeout:     cfg.DBOpTimeout,
	})
	settlement.SetLogger(logger)

	if cfg.Alert.Enabled(cfg.SMTP) {
		sender := email.NewMailerAdapter(mailer.NewSMTPMailer(cfg.SMTP), cfg.Alert.From, cfg.Alert.FromName)
		settlement.SetAlerter(email.NewStockAlerter(sender, cfg.Alert.To))
		logger.Info("stock alerts enabled", "to", strings.Join(cfg.Alert.To, ","))
	}

	admin := orders.NewAdminService(db, engine)
	admin.SetLogger(logger)

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Kafka.Enabled() {
		events := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.EventTopic)
		defer events.Close()
		settlement.SetEventPublisher(events)

		redeliver := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.NotificationTopic)
		defer redeliver.Close()

		consumer := queue.NewConsumer(queue.ConsumerConfig{
			Brokers:     cfg.Kafka.Brokers,
			Topic:       cfg.Kafka.NotificationTopic,
			GroupID:     cfg.Kafka.GroupID,
			Workers:     cfg.Kafka.Workers,
			MaxAttempts: cfg.Kafka.MaxAttempts,
		}, settlement, redeliver)
		consumer.SetLogger(logger)
		g.Go(func() error { return consumer.Run(ctx) })
	}

	r := apphttp.NewRouter(logger, apphttp.Deps{
		Settlement:    settlement,
		Verifier:      payments.NewSignatureVerifier(cfg.Webhook.Secret, cfg.Webhook.MaxSkew),
		AllowUnsigned: cfg.Webhook.AllowUnsigned,
		DB:            sqlDB,
		AdminToken:    cfg.AdminToken,
		Orders:        orderRepo,
		Ledger:        ledger,
		OrderAdmin:    admin,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.ProviderTimeout + cfg.DBOpTimeout*4 + 5*time.Second,
	}

	g.Go(func() error {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
