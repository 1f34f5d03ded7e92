// Package config centralises runtime configuration for the paygate service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Database configures the MySQL connection.
type Database struct {
	DSN string `yaml:"dsn"`
}

// Kafka configures the message transport.
type Kafka struct {
	Brokers           string `yaml:"brokers"`
	ConsumerGroup     string `yaml:"consumer_group"`
	TransactionTopic  string `yaml:"transaction_topic"`
	BankResponseTopic string `yaml:"bank_response_topic"`
	WebhookTopic      string `yaml:"webhook_topic"`
}

// Outbox configures the relay and its sweeps.
type Outbox struct {
	RelayInterval   time.Duration `yaml:"relay_interval"`
	RetryInterval   time.Duration `yaml:"retry_interval"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	BatchSize       int           `yaml:"batch_size"`
	MaxRetries      int           `yaml:"max_retries"`
	BaseDelay       time.Duration `yaml:"base_delay"`
	StuckTimeout    time.Duration `yaml:"stuck_timeout"`
	Retention       time.Duration `yaml:"retention"`
}

// Breaker configures the circuit breakers around external dependencies.
type Breaker struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// Webhook configures outbound webhook delivery.
type Webhook struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Signing configures the request-authentication boundary.
type Signing struct {
	TimestampTolerance time.Duration `yaml:"timestamp_tolerance"`
}

// Vault configures card tokenization.
type Vault struct {
	// EncryptionKey is a hex-encoded 32-byte AES key.
	EncryptionKey string `yaml:"encryption_key"`
}

// Balance configures the optimistic-concurrency balance manager.
type Balance struct {
	MaxRetries int `yaml:"max_retries"`
}

// Metrics selects the metrics backend.
type Metrics struct {
	// Enabled switches from the no-op collector to the OpenTelemetry one.
	Enabled bool `yaml:"enabled"`
}

// Settings is the full configuration tree.
type Settings struct {
	Database Database `yaml:"database"`
	Kafka    Kafka    `yaml:"kafka"`
	Outbox   Outbox   `yaml:"outbox"`
	Breaker  Breaker  `yaml:"breaker"`
	Webhook  Webhook  `yaml:"webhook"`
	Signing  Signing  `yaml:"signing"`
	Vault    Vault    `yaml:"vault"`
	Balance  Balance  `yaml:"balance"`
	Metrics  Metrics  `yaml:"metrics"`
}

// Default returns the settings used when no file or environment overrides
// are present.
func Default() Settings {
	return Settings{
		Database: Database{
			DSN: "paygate:paygate@tcp(localhost:3306)/paygate?parseTime=true",
		},
		Kafka: Kafka{
			Brokers:           "localhost:9092",
			ConsumerGroup:     "paygate",
			TransactionTopic:  "paygate.transaction.commands",
			BankResponseTopic: "paygate.bank.responses",
			WebhookTopic:      "paygate.webhook.notifications",
		},
		Outbox: Outbox{
			RelayInterval:   5 * time.Second,
			RetryInterval:   time.Minute,
			CleanupInterval: 24 * time.Hour,
			BatchSize:       50,
			MaxRetries:      3,
			BaseDelay:       time.Second,
			StuckTimeout:    10 * time.Minute,
			Retention:       7 * 24 * time.Hour,
		},
		Breaker: Breaker{
			FailureThreshold: 5,
			Cooldown:         30 * time.Second,
		},
		Webhook: Webhook{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			Timeout:     10 * time.Second,
		},
		Signing: Signing{
			TimestampTolerance: 5 * time.Minute,
		},
		Vault: Vault{
			EncryptionKey: "",
		},
		Balance: Balance{
			MaxRetries: 3,
		},
	}
}

// Load reads settings from an optional YAML file, then applies environment
// overrides on top of the defaults. An empty path skips the file step.
func Load(path string) (Settings, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Settings{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Settings) {
	setString(&cfg.Database.DSN, "PAYGATE_DB_DSN")
	setString(&cfg.Kafka.Brokers, "PAYGATE_KAFKA_BROKERS")
	setString(&cfg.Kafka.ConsumerGroup, "PAYGATE_KAFKA_GROUP")
	setString(&cfg.Kafka.TransactionTopic, "PAYGATE_TRANSACTION_TOPIC")
	setString(&cfg.Kafka.BankResponseTopic, "PAYGATE_BANK_RESPONSE_TOPIC")
	setString(&cfg.Kafka.WebhookTopic, "PAYGATE_WEBHOOK_TOPIC")
	setInt(&cfg.Outbox.BatchSize, "PAYGATE_OUTBOX_BATCH_SIZE")
	setInt(&cfg.Outbox.MaxRetries, "PAYGATE_OUTBOX_MAX_RETRIES")
	setDuration(&cfg.Outbox.RelayInterval, "PAYGATE_OUTBOX_RELAY_INTERVAL")
	setDuration(&cfg.Outbox.BaseDelay, "PAYGATE_OUTBOX_BASE_DELAY")
	setDuration(&cfg.Outbox.Retention, "PAYGATE_OUTBOX_RETENTION")
	setInt(&cfg.Breaker.FailureThreshold, "PAYGATE_BREAKER_THRESHOLD")
	setDuration(&cfg.Breaker.Cooldown, "PAYGATE_BREAKER_COOLDOWN")
	setInt(&cfg.Webhook.MaxAttempts, "PAYGATE_WEBHOOK_MAX_ATTEMPTS")
	setDuration(&cfg.Webhook.Timeout, "PAYGATE_WEBHOOK_TIMEOUT")
	setString(&cfg.Vault.EncryptionKey, "PAYGATE_VAULT_KEY")
	setInt(&cfg.Balance.MaxRetries, "PAYGATE_BALANCE_MAX_RETRIES")
	setBool(&cfg.Metrics.Enabled, "PAYGATE_METRICS_ENABLED")
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
