// Package config loads famlink settings from defaults, an optional YAML
// file and FAMLINK_* environment variables, in that order.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/roach88/famlink/internal/commit"
	"github.com/roach88/famlink/internal/embed"
)

// EnvConfigPath names the config file when no path is passed to Load.
const EnvConfigPath = "FAMLINK_CONFIG"

// Config defines famlink configuration.
type Config struct {
	DB         DBConfig               `yaml:"db"`
	Corpus     CorpusConfig           `yaml:"corpus"`
	Worker     WorkerConfig           `yaml:"worker"`
	Queue      QueueConfig            `yaml:"queue"`
	Preview    PreviewConfig          `yaml:"preview"`
	Embeddings EmbeddingsConfig       `yaml:"embeddings"`
	Lineage    commit.LineageDefaults `yaml:"lineage"`
	Metrics    MetricsConfig          `yaml:"metrics"`
	Log        LogConfig              `yaml:"log"`
}

type DBConfig struct {
	Path string `yaml:"path" validate:"required"`
}

type CorpusConfig struct {
	Path string `yaml:"path"`
}

type WorkerConfig struct {
	PollInterval     time.Duration `yaml:"poll_interval" validate:"gt=0"`
	MaxBackoffFactor int           `yaml:"max_backoff_factor" validate:"gte=1"`
	// DrainIdleCycles stops the worker after that many idle polls; 0 runs
	// until cancelled.
	DrainIdleCycles int `yaml:"drain_idle_cycles" validate:"gte=0"`
}

type QueueConfig struct {
	MaxPending int `yaml:"max_pending" validate:"gte=0"`
}

type PreviewConfig struct {
	TTL time.Duration `yaml:"ttl" validate:"gt=0"`
}

type EmbeddingsConfig struct {
	embed.Config `yaml:",inline"`
	ChunkSize    int    `yaml:"chunk_size" validate:"gt=0"`
	Concurrency  int    `yaml:"concurrency" validate:"gt=0"`
	APIKeyEnv    string `yaml:"api_key_env"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DB:     DBConfig{Path: "famlink.db"},
		Corpus: CorpusConfig{Path: "corpus.db"},
		Worker: WorkerConfig{
			PollInterval:     500 * time.Millisecond,
			MaxBackoffFactor: 5,
		},
		Queue:   QueueConfig{MaxPending: 1000},
		Preview: PreviewConfig{TTL: commit.DefaultPreviewTTL},
		Embeddings: EmbeddingsConfig{
			Config: embed.Config{
				Provider:          "hash",
				RequestsPerSecond: 5,
			},
			ChunkSize:   64,
			Concurrency: 8,
			APIKeyEnv:   "OPENAI_API_KEY",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads configuration from path (or $FAMLINK_CONFIG when path is
// empty) and environment variables, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = n
		return nil
	}
	dur := func(key string, dst *time.Duration) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("FAMLINK_DB_PATH", &cfg.DB.Path)
	str("FAMLINK_CORPUS_PATH", &cfg.Corpus.Path)
	str("FAMLINK_EMBEDDINGS_PROVIDER", &cfg.Embeddings.Provider)
	str("FAMLINK_EMBEDDINGS_MODEL", &cfg.Embeddings.Model)
	str("FAMLINK_EMBEDDINGS_BASE_URL", &cfg.Embeddings.BaseURL)
	str("FAMLINK_LINEAGE_CORPUS_VERSION", &cfg.Lineage.CorpusVersion)
	str("FAMLINK_LINEAGE_PARSER_VERSION", &cfg.Lineage.ParserVersion)
	str("FAMLINK_LINEAGE_ONTOLOGY_VERSION", &cfg.Lineage.OntologyVersion)
	str("FAMLINK_LINEAGE_GIT_SHA", &cfg.Lineage.GitSHA)
	str("FAMLINK_METRICS_ADDR", &cfg.Metrics.Addr)
	str("FAMLINK_LOG_LEVEL", &cfg.Log.Level)
	str("FAMLINK_LOG_FORMAT", &cfg.Log.Format)

	for _, err := range []error{
		dur("FAMLINK_WORKER_POLL_INTERVAL", &cfg.Worker.PollInterval),
		num("FAMLINK_WORKER_DRAIN_IDLE_CYCLES", &cfg.Worker.DrainIdleCycles),
		num("FAMLINK_QUEUE_MAX_PENDING", &cfg.Queue.MaxPending),
		dur("FAMLINK_PREVIEW_TTL", &cfg.Preview.TTL),
		num("FAMLINK_EMBEDDINGS_CHUNK_SIZE", &cfg.Embeddings.ChunkSize),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ProviderConfig returns the embedding provider settings with the API key read
// from the configured environment variable.
func (e EmbeddingsConfig) ProviderConfig() embed.Config {
	cfg := e.Config
	if e.APIKeyEnv != "" {
		cfg.APIKey = os.Getenv(e.APIKeyEnv)
	}
	return cfg
}

// SlogLevel returns the configured log level.
func (l LogConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
