package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// PostgresConfig holds connection settings for a Postgres database.
// Host may also carry a full postgres:// DSN, in which case the other
// fields are ignored.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// Config is the full service configuration. It is loaded once at startup
// and passed explicitly into every constructor; nothing reads credentials
// from the environment at request time.
type Config struct {
	Server struct {
		Host    string `yaml:"host"`
		Port    string `yaml:"port"`
		Prefork bool   `yaml:"prefork"`
	} `yaml:"server"`

	Chrome struct {
		// Path to a pre-installed browser binary. Required on restricted
		// or managed hosting where auto-discovery is not possible.
		Path              string `yaml:"path"`
		NoSandbox         bool   `yaml:"no_sandbox"`
		PoolSize          int    `yaml:"pool_size"`
		UserDataDir       string `yaml:"user_data_dir"`
		LaunchTimeoutSecs int    `yaml:"launch_timeout_secs"`
		TimeoutSecs       int    `yaml:"timeout_secs"`
	} `yaml:"chrome"`

	Pipeline struct {
		TempDir        string `yaml:"temp_dir"`
		RetryAttempts  int    `yaml:"retry_attempts"`
		RetryBackoffMS int    `yaml:"retry_backoff_ms"`
		SettleDelayMS  int    `yaml:"settle_delay_ms"`
	} `yaml:"pipeline"`

	Storage struct {
		Mode       string `yaml:"mode"` // "local" or "s3"
		Dir        string `yaml:"dir"`
		S3Bucket   string `yaml:"s3_bucket"`
		S3Prefix   string `yaml:"s3_prefix"`
		S3Endpoint string `yaml:"s3_endpoint"`
		S3Region   string `yaml:"s3_region"`
	} `yaml:"storage"`

	Mail struct {
		SendGridKey string `yaml:"sendgrid_key"`
		FromName    string `yaml:"from_name"`
		FromEmail   string `yaml:"from_email"`
	} `yaml:"mail"`

	Cache struct {
		RedisHost           string `yaml:"redis_host"`
		PreviewCacheDB      int    `yaml:"preview_cache_db"`
		RateLimitDB         int    `yaml:"rate_limit_db"`
		PreviewCacheEnabled bool   `yaml:"preview_cache_enabled"`
		PreviewCacheTTLSecs int    `yaml:"preview_cache_ttl_secs"`
	} `yaml:"cache"`

	Limits struct {
		MaxPDFBytes int `yaml:"max_pdf_bytes"`
	} `yaml:"limits"`

	Logger struct {
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
		Level      string `yaml:"level"`
	} `yaml:"logger"`

	RateLimiter struct {
		IntervalSecs      int  `yaml:"interval_secs"`
		UserLimit         int  `yaml:"user_limit"`
		EnableUserLimiter bool `yaml:"enable_user_limiter"`
	} `yaml:"rate_limiter"`

	Auth struct {
		Postgres PostgresConfig `yaml:"postgres"`
	} `yaml:"auth"`

	Ledger struct {
		Postgres PostgresConfig `yaml:"postgres"`
	} `yaml:"ledger"`
}

var currentConfig struct {
	sync.RWMutex
	cfg Config
}

func defaultConfig() Config {
	var cfg Config
	cfg.Server.Port = ":8080"
	cfg.Chrome.PoolSize = 2
	cfg.Chrome.LaunchTimeoutSecs = 30
	cfg.Chrome.TimeoutSecs = 30
	cfg.Pipeline.TempDir = filepath.Join(os.TempDir(), "certforge")
	cfg.Pipeline.RetryAttempts = 3
	cfg.Pipeline.RetryBackoffMS = 1000
	cfg.Pipeline.SettleDelayMS = 3000
	cfg.Storage.Mode = "local"
	cfg.Storage.Dir = "certificates"
	cfg.Storage.S3Prefix = "certificates/"
	cfg.Cache.RedisHost = "localhost:6379"
	cfg.Cache.PreviewCacheDB = 0
	cfg.Cache.RateLimitDB = 1
	cfg.Cache.PreviewCacheTTLSecs = 86400
	cfg.Limits.MaxPDFBytes = 20 << 20
	cfg.Logger.Level = "info"
	cfg.RateLimiter.IntervalSecs = 60
	return cfg
}

// LoadConfig reads the configuration file named by CONFIG_PATH, falling
// back to ./config.yaml. A missing file yields the built-in defaults.
func LoadConfig() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	return LoadFrom(path)
}

// LoadFrom loads configuration from the given YAML file on top of the
// defaults and installs the result as the process-wide config.
func LoadFrom(path string) Config {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			panic(fmt.Sprintf("config: read %s: %v", path, err))
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		panic(fmt.Sprintf("config: parse %s: %v", path, err))
	}

	if cfg.Pipeline.RetryAttempts < 1 {
		panic("config: pipeline.retry_attempts must be at least 1")
	}
	if cfg.Chrome.TimeoutSecs < 1 {
		panic("config: chrome.timeout_secs must be at least 1")
	}
	if cfg.Storage.Mode != "local" && cfg.Storage.Mode != "s3" {
		panic(fmt.Sprintf("config: unknown storage.mode %q", cfg.Storage.Mode))
	}

	SetConfig(cfg)
	return cfg
}

// SetConfig installs the process-wide config. Exposed for tests and main.
func SetConfig(cfg Config) {
	currentConfig.Lock()
	currentConfig.cfg = cfg
	currentConfig.Unlock()
}

// GetConfig returns the currently installed config.
func GetConfig() Config {
	currentConfig.RLock()
	defer currentConfig.RUnlock()
	return currentConfig.cfg
}
