// Package config loads and validates server configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Storage, Engine, Cache, Auth, Logging, Metrics).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Engine  EngineConfig  `yaml:"engine"`
	Cache   CacheConfig   `yaml:"cache"`
	Auth    AuthConfig    `yaml:"auth"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// StorageConfig holds the durable store location and tuning.
type StorageConfig struct {
	DataDir    string        `yaml:"dataDir"`
	InMemory   bool          `yaml:"inMemory"`
	SyncWrites bool          `yaml:"syncWrites"`
	GCInterval time.Duration `yaml:"gcInterval"`
}

// EngineConfig controls the write pipeline and query execution limits.
type EngineConfig struct {
	WorkerPoolSize     int           `yaml:"workerPoolSize"`
	TaskQueueDepth     int           `yaml:"taskQueueDepth"`
	MaxBatchSize       int           `yaml:"maxBatchSize"`
	QueryTimeout       time.Duration `yaml:"queryTimeout"`
	MaxHitsPerPage     int           `yaml:"maxHitsPerPage"`
	PaginationLimit    int           `yaml:"paginationLimit"`
	MaxFilterClauses   int           `yaml:"maxFilterClauses"`
	MaxTypoCandidates  int           `yaml:"maxTypoCandidates"`
	MaxFacetValues     int           `yaml:"maxFacetValues"`
	SnippetWords       int           `yaml:"snippetWords"`
}

// CacheConfig holds the optional Redis query-cache settings. The server runs
// without caching when Redis is unreachable.
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	TTL      time.Duration `yaml:"ttl"`
}

// AuthConfig holds the application id and API keys checked on every request.
// Key management proper (creation, rotation, scoped ACLs) lives outside the
// engine; the engine only needs the admin/search split.
type AuthConfig struct {
	AppID     string `yaml:"appId"`
	AdminKey  string `yaml:"adminKey"`
	SearchKey string `yaml:"searchKey"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if present) and applies environment-variable
// overrides. A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to defaults + env
		case err != nil:
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultConfig returns a Config with defaults suitable for local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            7700,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Storage: StorageConfig{
			DataDir:    "./data",
			InMemory:   false,
			SyncWrites: true,
			GCInterval: 10 * time.Minute,
		},
		Engine: EngineConfig{
			WorkerPoolSize:     8,
			TaskQueueDepth:     10000,
			MaxBatchSize:       1000,
			QueryTimeout:       5 * time.Second,
			MaxHitsPerPage:     1000,
			PaginationLimit:    1000,
			MaxFilterClauses:   1000,
			MaxTypoCandidates:  200,
			MaxFacetValues:     100,
			SnippetWords:       10,
		},
		Cache: CacheConfig{
			Enabled:  false,
			Addr:     "localhost:6379",
			PoolSize: 10,
			TTL:      2 * time.Minute,
		},
		Auth: AuthConfig{
			AppID: "local",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Storage.DataDir == "" && !c.Storage.InMemory {
		return fmt.Errorf("storage.dataDir must be set when not running in memory")
	}
	if c.Engine.WorkerPoolSize < 1 {
		return fmt.Errorf("engine.workerPoolSize must be at least 1")
	}
	if c.Engine.MaxBatchSize < 1 {
		return fmt.Errorf("engine.maxBatchSize must be at least 1")
	}
	return nil
}

// applyEnvOverrides mutates cfg from MERIDIAN_* environment variables. Only
// the settings an operator realistically overrides at deploy time are mapped.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MERIDIAN_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("MERIDIAN_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("MERIDIAN_APP_ID"); v != "" {
		cfg.Auth.AppID = v
	}
	if v := os.Getenv("MERIDIAN_ADMIN_KEY"); v != "" {
		cfg.Auth.AdminKey = v
	}
	if v := os.Getenv("MERIDIAN_SEARCH_KEY"); v != "" {
		cfg.Auth.SearchKey = v
	}
	if v := os.Getenv("MERIDIAN_REDIS_ADDR"); v != "" {
		cfg.Cache.Addr = v
		cfg.Cache.Enabled = true
	}
	if v := os.Getenv("MERIDIAN_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("MERIDIAN_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := os.Getenv("MERIDIAN_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
