package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

const envPrefix = "concord"

var errUnknownStorage = errors.New("unknown storage backend")

// Config is centralized process configuration.
// Keep infra values here and pass typed config into builders.
type Config struct {
	ServiceName  string   `yaml:"serviceName"  envconfig:"SERVICE_NAME"`
	HTTPPort     string   `yaml:"httpPort"     envconfig:"HTTP_PORT"`
	Storage      string   `yaml:"storage"      envconfig:"STORAGE"`
	PostgresDSN  string   `yaml:"postgresDsn"  envconfig:"POSTGRES_DSN"`
	SQLitePath   string   `yaml:"sqlitePath"   envconfig:"SQLITE_PATH"`
	KafkaBrokers []string `yaml:"kafkaBrokers" envconfig:"KAFKA_BROKERS"`

	CipherBackend string `yaml:"cipherBackend" envconfig:"CIPHER_BACKEND"`

	// ElGamalSecretKey is the hex encoded secret scalar shared by the API
	// and worker processes. Empty generates a key per process.
	ElGamalSecretKey string `yaml:"elgamalSecretKey" envconfig:"ELGAMAL_SECRET_KEY"`

	Administrators  []string `yaml:"administrators"  envconfig:"ADMINISTRATORS"`
	OracleIdentity  string   `yaml:"oracleIdentity"  envconfig:"ORACLE_IDENTITY"`
	SweeperIdentity string   `yaml:"sweeperIdentity" envconfig:"SWEEPER_IDENTITY"`

	// EmbeddedOracle runs the decryption oracle inside the worker process.
	EmbeddedOracle  bool          `yaml:"embeddedOracle"  envconfig:"EMBEDDED_ORACLE"`
	OracleDelay     time.Duration `yaml:"oracleDelay"     envconfig:"ORACLE_DELAY"`
	OracleRedeliver time.Duration `yaml:"oracleRedeliver" envconfig:"ORACLE_REDELIVER"`

	VotingPeriod        time.Duration `yaml:"votingPeriod"        envconfig:"VOTING_PERIOD"`
	RevealTimeout       time.Duration `yaml:"revealTimeout"       envconfig:"REVEAL_TIMEOUT"`
	IdempotencyTTL      time.Duration `yaml:"idempotencyTtl"      envconfig:"IDEMPOTENCY_TTL"`
	DefaultMemberWeight uint32        `yaml:"defaultMemberWeight" envconfig:"DEFAULT_MEMBER_WEIGHT"`
	AutoRegister        bool          `yaml:"autoRegister"        envconfig:"AUTO_REGISTER"`

	PollInterval    time.Duration `yaml:"pollInterval"    envconfig:"POLL_INTERVAL"`
	OutboxBatchSize int           `yaml:"outboxBatchSize" envconfig:"OUTBOX_BATCH_SIZE"`

	MetricsEnabled bool `yaml:"metricsEnabled" envconfig:"METRICS_ENABLED"`
}

func Defaults() Config {
	return Config{
		ServiceName:         "concord",
		HTTPPort:            "8080",
		Storage:             StorageMemory,
		SQLitePath:          "concord.sqlite",
		KafkaBrokers:        []string{"localhost:9092"},
		CipherBackend:       "mock",
		Administrators:      []string{"admin"},
		OracleIdentity:      "decryption-oracle",
		SweeperIdentity:     "admin",
		EmbeddedOracle:      true,
		VotingPeriod:        72 * time.Hour,
		RevealTimeout:       24 * time.Hour,
		IdempotencyTTL:      7 * 24 * time.Hour,
		DefaultMemberWeight: 1,
		AutoRegister:        true,
		OracleRedeliver:     30 * time.Second,
		PollInterval:        2 * time.Second,
		OutboxBatchSize:     100,
		MetricsEnabled:      true,
	}
}

// Load starts from Defaults, overlays the YAML file when configFile is set,
// then applies CONCORD_* environment variables. Unprefixed names such as
// POSTGRES_DSN are accepted as well.
func Load(configFile string) (Config, error) {
	cfg := Defaults()
	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("process environment: %w", err)
	}
	cfg.Administrators = compact(cfg.Administrators)
	cfg.KafkaBrokers = compact(cfg.KafkaBrokers)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Storage {
	case StorageMemory, StorageSQLite:
	case StoragePostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return errors.New("POSTGRES_DSN is required for postgres storage")
		}
	default:
		return fmt.Errorf("%w: %q", errUnknownStorage, c.Storage)
	}
	if len(c.Administrators) == 0 {
		return errors.New("at least one administrator is required")
	}
	if strings.TrimSpace(c.OracleIdentity) == "" {
		return errors.New("oracle identity is required")
	}
	if c.SweeperIdentity != "" && !slices.Contains(c.Administrators, c.SweeperIdentity) {
		return errors.New("sweeper identity must be an administrator")
	}
	if c.VotingPeriod <= 0 || c.RevealTimeout <= 0 {
		return errors.New("voting period and reveal timeout must be positive")
	}
	if c.DefaultMemberWeight == 0 {
		return errors.New("default member weight must be positive")
	}
	return nil
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value != "" {
			out = append(out, value)
		}
	}
	return out
}
