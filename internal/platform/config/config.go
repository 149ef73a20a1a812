package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	LedgerDriverMemory   = "memory"
	LedgerDriverPostgres = "postgres"
	LedgerDriverSQLite   = "sqlite"
)

// Config is centralized process configuration.
// Keep infra values here and pass typed config into builders.
type Config struct {
	ServiceName  string   `env:"SERVICE_NAME"  envDefault:"agora"`
	HTTPPort     string   `env:"HTTP_PORT"     envDefault:"8080"`
	LedgerDriver string   `env:"LEDGER_DRIVER" envDefault:"memory"`
	PostgresDSN  string   `env:"POSTGRES_DSN"`
	SQLitePath   string   `env:"SQLITE_PATH"   envDefault:"data/agora.db"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`

	EVMRPCURL           string `env:"EVM_RPC_URL"`
	EVMEscrowPrivateKey string `env:"EVM_ESCROW_PRIVATE_KEY"`
	// One weight unit is one whole token of an 18-decimal ERC20.
	EVMUnitDecimals     uint8  `env:"EVM_UNIT_DECIMALS" envDefault:"18"`

	PollMaxChoices       int    `env:"POLL_MAX_CHOICES"        envDefault:"10"`
	PollMinChoices       int    `env:"POLL_MIN_CHOICES"        envDefault:"0"`
	PollChoiceEnrollment string `env:"POLL_CHOICE_ENROLLMENT"  envDefault:"kind_default"`
	PollOwnerOnlyChoices bool   `env:"POLL_OWNER_ONLY_CHOICES" envDefault:"false"`

	IdempotencyTTL       time.Duration `env:"IDEMPOTENCY_TTL"         envDefault:"168h"`
	OutboxRelayInterval  time.Duration `env:"OUTBOX_RELAY_INTERVAL"   envDefault:"2s"`
	OutboxRelayBatchSize int           `env:"OUTBOX_RELAY_BATCH_SIZE" envDefault:"100"`

	EnableTallyProjector bool   `env:"ENABLE_TALLY_PROJECTOR" envDefault:"true"`
	WorkerMetricsPort    string `env:"WORKER_METRICS_PORT"    envDefault:"9091"`

	OTelEnabled  bool   `env:"OTEL_ENABLED"                envDefault:"true"`
	OTelEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.LedgerDriver = strings.ToLower(strings.TrimSpace(cfg.LedgerDriver))
	cfg.PollChoiceEnrollment = strings.ToLower(strings.TrimSpace(cfg.PollChoiceEnrollment))

	switch cfg.LedgerDriver {
	case LedgerDriverMemory, LedgerDriverSQLite:
	case LedgerDriverPostgres:
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return Config{}, fmt.Errorf("POSTGRES_DSN is required for ledger driver %q", cfg.LedgerDriver)
		}
	default:
		return Config{}, fmt.Errorf("unsupported LEDGER_DRIVER %q", cfg.LedgerDriver)
	}
	switch cfg.PollChoiceEnrollment {
	case "kind_default", "until_start", "until_end":
	default:
		return Config{}, fmt.Errorf("unsupported POLL_CHOICE_ENROLLMENT %q", cfg.PollChoiceEnrollment)
	}
	if cfg.PollMaxChoices <= 0 {
		return Config{}, fmt.Errorf("POLL_MAX_CHOICES must be positive")
	}
	if cfg.PollMinChoices < 0 || cfg.PollMinChoices > cfg.PollMaxChoices {
		return Config{}, fmt.Errorf("POLL_MIN_CHOICES must be between 0 and POLL_MAX_CHOICES")
	}
	if cfg.OutboxRelayInterval <= 0 {
		return Config{}, fmt.Errorf("OUTBOX_RELAY_INTERVAL must be positive")
	}
	return cfg, nil
}
