package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/clients"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/config"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/delivery"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/events/kafka"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/handler"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/idempotency"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/interfaces"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/logging"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/orchestrator"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/resolution"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/saga"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/settlement"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/storage/memory"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/storage/postgres"
	"go.uber.org/zap"
)

type switchStore interface {
	interfaces.TransactionStore
	interfaces.IdempotencyBackup
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("switch stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.RedisAddr},
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		// the guard falls back to the durable store while redis is away
		logger.Warn("redis unreachable at startup", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	guard := idempotency.NewGuard(idempotency.NewRedisStore(rdb), store, cfg.IdempotencyTTL, logger)

	httpClient := clients.NewHTTPClient(cfg.HTTPClientTimeout)
	ledger := clients.NewLedgerClient(cfg.LedgerURL, httpClient, logger)
	directory := clients.NewDirectoryClient(cfg.DirectoryURL, httpClient, logger)
	clearing := clients.NewClearingClient(cfg.ClearingURL, httpClient, logger)
	returns := clients.NewReturnsClient(cfg.ReturnsURL, httpClient, logger)
	banks := clients.NewBankGateway(httpClient, logger)

	var sender delivery.Sender
	if cfg.DeliveryMode == config.DeliveryQueue {
		conn, err := amqp.Dial(cfg.RabbitMQURL)
		if err != nil {
			return err
		}
		defer conn.Close()
		ch, err := conn.Channel()
		if err != nil {
			return err
		}
		defer ch.Close()
		sender = delivery.NewQueueSender(ch, cfg.QueueMessageTTL, logger)
	} else {
		sender = delivery.NewWebhookSender(banks, directory, cfg.RetrySchedule, logger)
	}

	var publisher interfaces.EventPublisher = kafka.NoopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := kafka.NewPublisher(cfg.KafkaBrokers)
		defer kp.Close()
		publisher = kp
	} else {
		logger.Info("no kafka brokers configured, events are dropped")
	}

	compensator := saga.NewCompensator(ledger, clearing, directory, banks, logger)
	finalizer := settlement.NewFinalizer(store, ledger, clearing, compensator, guard, publisher,
		settlement.Topics{Transactions: cfg.KafkaTopic, Returns: cfg.KafkaReturnTopic}, logger)
	poller := resolution.NewPoller(directory, banks, finalizer, cfg.ResolutionGrace, cfg.ResolutionWindow, logger)

	orch := orchestrator.New(orchestrator.Dependencies{
		Store:     store,
		Guard:     guard,
		Ledger:    ledger,
		Directory: directory,
		Clearing:  clearing,
		Returns:   returns,
		Banks:     banks,
		Delivery:  delivery.NewPipeline(sender, logger),
		Settler:   finalizer,
		Resolver:  poller,
	}, orchestrator.Policy{MaxAmount: cfg.MaxAmount, AllowedCurrencies: cfg.AllowedCurrencies}, logger)

	cycles := clients.NewCycleScheduler(clearing, cfg.NextCycleMinutes, cfg.HTTPClientTimeout, logger)
	defer cycles.Stop()

	r := handler.SetupRoutes(chi.NewRouter(), handler.New(orch, cycles, logger))
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		// delivery retries waiting on a request context stop at shutdown
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("delivery_mode", cfg.DeliveryMode))
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

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStore picks postgres when DATABASE_URL is set and memory otherwise.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (switchStore, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		return memory.NewMemorySwitchStore(), func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}

	store := postgres.NewPostgresSwitchStore(db)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return store, func() { db.Close() }, nil
}
