package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process configuration. Every subsystem receives its section
// by value at construction time; nothing reads the file after startup.
type Config struct {
	HTTP     ServerConfig     `yaml:"http"`
	Database DatabaseConfig   `yaml:"database"`
	Redis    RedisConfig      `yaml:"redis"`
	Storage  StorageConfig    `yaml:"storage"`
	Workers  WorkerConfig     `yaml:"workers"`
	Ingest   IngestConfig     `yaml:"ingest"`
	Scoring  ScoringDefaults  `yaml:"scoring"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string        `yaml:"host" env:"HTTP_HOST"`
	Port         int           `yaml:"port" env:"HTTP_PORT"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DatabaseConfig holds Postgres connection configuration.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" env:"PG_DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"PG_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"PG_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	QueryTimeout    time.Duration `yaml:"query_timeout" env:"PG_QUERY_TIMEOUT"`
}

// RedisConfig holds analytics-cache configuration. The cache is optional;
// with an empty Addr the orchestrator runs store-only.
type RedisConfig struct {
	Addr     string        `yaml:"addr" env:"REDIS_ADDR"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"REDIS_DB"`
	TTL      time.Duration `yaml:"ttl"`
	Timeout  time.Duration `yaml:"timeout"`
}

// StorageConfig selects the blob store backing uploaded C3D objects.
type StorageConfig struct {
	// Backend is "fs" or "http".
	Backend string `yaml:"backend" env:"STORAGE_BACKEND"`
	// Root is the bucket root directory for the fs backend.
	Root string `yaml:"root" env:"STORAGE_ROOT"`
	// BaseURL is the object host for the http backend.
	BaseURL string `yaml:"base_url" env:"STORAGE_BASE_URL"`
	// RequestTimeout bounds a single object download.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// WorkerConfig sizes the session-processing pool.
type WorkerConfig struct {
	Count     int `yaml:"count" env:"WORKER_COUNT"`
	QueueSize int `yaml:"queue_size" env:"WORKER_QUEUE_SIZE"`
}

// IngestConfig gates the webhook and upload surfaces.
type IngestConfig struct {
	Bucket           string  `yaml:"bucket" env:"INGEST_BUCKET"`
	WebhookSecret    string  `yaml:"webhook_secret" env:"WEBHOOK_SECRET"`
	MaxFileSizeBytes int64   `yaml:"max_file_size_bytes" env:"MAX_FILE_SIZE"`
	RatePerSecond    float64 `yaml:"rate_per_second"`
	RateBurst        int     `yaml:"rate_burst"`
}

// ScoringDefaults mirrors the seeded scoring configuration. Validate()
// cross-checks these against the weight-sum invariant so a drifted edit
// fails at startup instead of skewing scores silently.
type ScoringDefaults struct {
	WeightCompliance float64 `yaml:"weight_compliance"`
	WeightSymmetry   float64 `yaml:"weight_symmetry"`
	WeightEffort     float64 `yaml:"weight_effort"`
	WeightGame       float64 `yaml:"weight_game"`

	WeightCompletion float64 `yaml:"weight_completion"`
	WeightIntensity  float64 `yaml:"weight_intensity"`
	WeightDuration   float64 `yaml:"weight_duration"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		HTTP: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			QueryTimeout:    30 * time.Second,
		},
		Redis: RedisConfig{
			TTL:     time.Hour,
			Timeout: 3 * time.Second,
		},
		Storage: StorageConfig{
			Backend:        "fs",
			Root:           "data/storage",
			RequestTimeout: 30 * time.Second,
		},
		Workers: WorkerConfig{
			Count:     4,
			QueueSize: 64,
		},
		Ingest: IngestConfig{
			Bucket:           "c3d-uploads",
			MaxFileSizeBytes: DefaultMaxFileSizeBytes,
			RatePerSecond:    10,
			RateBurst:        20,
		},
		Scoring: ScoringDefaults{
			WeightCompliance: DefaultWeightCompliance,
			WeightSymmetry:   DefaultWeightSymmetry,
			WeightEffort:     DefaultWeightEffort,
			WeightGame:       DefaultWeightGame,
			WeightCompletion: DefaultWeightCompletion,
			WeightIntensity:  DefaultWeightIntensity,
			WeightDuration:   DefaultWeightDuration,
		},
	}
}

// Load reads a YAML config file over the defaults, then applies environment
// overrides. A missing file is not an error; env-only deployments are
// supported.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("HTTP_HOST"); v != "" {
		cfg.HTTP.Host = v
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.Port = p
		}
	}
	if v := os.Getenv("PG_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("STORAGE_ROOT"); v != "" {
		cfg.Storage.Root = v
	}
	if v := os.Getenv("STORAGE_BASE_URL"); v != "" {
		cfg.Storage.BaseURL = v
	}
	if v := os.Getenv("INGEST_BUCKET"); v != "" {
		cfg.Ingest.Bucket = v
	}
	if v := os.Getenv("WEBHOOK_SECRET"); v != "" {
		cfg.Ingest.WebhookSecret = v
	}
	if v := os.Getenv("MAX_FILE_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.Ingest.MaxFileSizeBytes = n
		}
	}
	if v := os.Getenv("WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers.Count = n
		}
	}
}

// Validate rejects configurations that would corrupt scoring or stall the
// pipeline.
func (c Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http port: %d", c.HTTP.Port)
	}
	if c.Workers.Count <= 0 {
		return fmt.Errorf("worker count must be positive, got %d", c.Workers.Count)
	}
	if c.Workers.QueueSize <= 0 {
		return fmt.Errorf("worker queue size must be positive, got %d", c.Workers.QueueSize)
	}
	if c.Ingest.MaxFileSizeBytes <= 0 {
		return fmt.Errorf("max file size must be positive, got %d", c.Ingest.MaxFileSizeBytes)
	}
	switch c.Storage.Backend {
	case "fs":
		if c.Storage.Root == "" {
			return fmt.Errorf("storage backend fs requires a root directory")
		}
	case "http":
		if c.Storage.BaseURL == "" {
			return fmt.Errorf("storage backend http requires a base URL")
		}
	default:
		return fmt.Errorf("unknown storage backend: %s", c.Storage.Backend)
	}

	mainSum := c.Scoring.WeightCompliance + c.Scoring.WeightSymmetry +
		c.Scoring.WeightEffort + c.Scoring.WeightGame
	if math.Abs(mainSum-1.0) > WeightSumTolerance {
		return fmt.Errorf("main scoring weights sum to %.4f, expected 1.0 ± %.2f",
			mainSum, WeightSumTolerance)
	}
	subSum := c.Scoring.WeightCompletion + c.Scoring.WeightIntensity + c.Scoring.WeightDuration
	if math.Abs(subSum-1.0) > WeightSumTolerance {
		return fmt.Errorf("compliance sub-weights sum to %.4f, expected 1.0 ± %.2f",
			subSum, WeightSumTolerance)
	}
	return nil
}
