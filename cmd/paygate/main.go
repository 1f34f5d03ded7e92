package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/overtonx/paygate/bank"
	"github.com/overtonx/paygate/breaker"
	"github.com/overtonx/paygate/config"
	"github.com/overtonx/paygate/consumer"
	"github.com/overtonx/paygate/inbox"
	"github.com/overtonx/paygate/merchant"
	"github.com/overtonx/paygate/metrics"
	"github.com/overtonx/paygate/outbox"
	"github.com/overtonx/paygate/transaction"
	"github.com/overtonx/paygate/transport"
	"github.com/overtonx/paygate/uow"
	"github.com/overtonx/paygate/vault"
	"github.com/overtonx/paygate/webhook"
	"github.com/overtonx/paygate/worker"

	_ "github.com/go-sql-driver/mysql"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := run(*configPath, logger); err != nil {
		logger.Fatal("Service failed", zap.Error(err))
	}
}

func run(configPath string, logger *zap.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("mysql", cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return err
	}

	var collector metrics.Collector = metrics.NewNopCollector()
	if cfg.Metrics.Enabled {
		collector = metrics.NewOpenTelemetryCollector()
	}

	// Stores.
	outboxStore := outbox.NewSQLStore(db, logger)
	inboxStore := inbox.NewSQLStore(db, logger)
	merchantStore := merchant.NewSQLStore(db, logger)
	transactionStore := transaction.NewSQLStore(db, logger)
	cardVault, err := vault.NewService(db, cfg.Vault.EncryptionKey, logger)
	if err != nil {
		return err
	}

	for _, ensure := range []func(context.Context) error{
		outboxStore.EnsureTables,
		inboxStore.EnsureTables,
		merchantStore.EnsureTables,
		transactionStore.EnsureTables,
		cardVault.EnsureTables,
	} {
		if err := ensure(ctx); err != nil {
			return err
		}
	}

	uowManager, err := uow.NewSQLManager(db)
	if err != nil {
		return err
	}

	// Transport.
	producer, err := transport.NewKafkaProducer(cfg.Kafka.Brokers, logger)
	if err != nil {
		return err
	}
	defer producer.Close()

	routing := transport.TopicRouting{
		TransactionTopic: cfg.Kafka.TransactionTopic,
		WebhookTopic:     cfg.Kafka.WebhookTopic,
	}
	publishBreaker := breaker.New("kafka-publish", cfg.Breaker.FailureThreshold, cfg.Breaker.Cooldown,
		breaker.WithLogger(logger))
	publisher := transport.NewOutboxPublisher(producer, routing, logger)

	// Domain services.
	balanceManager := merchant.NewBalanceManager(merchantStore, logger,
		merchant.WithBalanceRetries(cfg.Balance.MaxRetries),
		merchant.WithBalanceMetrics(collector))
	acquirer := bank.NewSimulator(logger)
	bankBreaker := breaker.New("acquiring-bank", cfg.Breaker.FailureThreshold, cfg.Breaker.Cooldown,
		breaker.WithLogger(logger))

	deliverer := webhook.NewDeliverer(merchantStore, logger,
		webhook.WithMaxAttempts(uint(cfg.Webhook.MaxAttempts)),
		webhook.WithBaseDelay(cfg.Webhook.BaseDelay),
		webhook.WithDelivererMetrics(collector))

	// Handlers behind the consumer.
	commandHandler := consumer.NewTransactionHandler(acquirer, bankBreaker, producer, cfg.Kafka.BankResponseTopic, logger,
		consumer.WithTransactionMetrics(collector))
	responseHandler := consumer.NewBankResponseHandler(transactionStore, outboxStore, inboxStore, balanceManager, uowManager, logger,
		consumer.WithBankResponseMetrics(collector))
	webhookHandler := consumer.NewWebhookHandler(deliverer, logger, collector)

	handlers := map[string]transport.Handler{
		cfg.Kafka.TransactionTopic:  commandHandler,
		cfg.Kafka.BankResponseTopic: responseHandler,
		cfg.Kafka.WebhookTopic:      webhookHandler,
	}
	kafkaConsumer, err := transport.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, handlers, inboxStore, producer, logger,
		transport.WithConsumerMetrics(collector))
	if err != nil {
		return err
	}

	// Background loops.
	relay := outbox.NewRelay(outboxStore, publisher, publishBreaker, logger,
		outbox.WithRelayBatchSize(cfg.Outbox.BatchSize),
		outbox.WithRelayMaxRetries(cfg.Outbox.MaxRetries),
		outbox.WithRelayBackoff(outbox.Backoff{Base: cfg.Outbox.BaseDelay, Max: 30 * cfg.Outbox.BaseDelay}),
		outbox.WithRelayMetrics(collector))
	retrySweep := outbox.NewRetryService(outboxStore, logger,
		outbox.WithRetryMaxRetries(cfg.Outbox.MaxRetries),
		outbox.WithStuckTimeout(cfg.Outbox.StuckTimeout),
		outbox.WithRetryMetrics(collector))
	cleanup := outbox.NewCleanupService(outboxStore, logger,
		outbox.WithRetention(cfg.Outbox.Retention),
		outbox.WithCleanupMetrics(collector))

	dispatcher := worker.NewDispatcher(logger,
		worker.NewBaseWorker("outbox-relay", cfg.Outbox.RelayInterval, logger, relay.Process, worker.WithWorkerMetrics(collector)),
		worker.NewBaseWorker("outbox-retry-sweep", cfg.Outbox.RetryInterval, logger, retrySweep.Process, worker.WithWorkerMetrics(collector)),
		worker.NewBaseWorker("outbox-cleanup", cfg.Outbox.CleanupInterval, logger, cleanup.Process, worker.WithWorkerMetrics(collector)),
	)
	// Start blocks until shutdown, so the loops run beside the consumer.
	go dispatcher.Start(ctx)
	defer dispatcher.Stop()

	logger.Info("paygate started")

	// Blocks until shutdown.
	return kafkaConsumer.Run(ctx)
}
