package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/chararch/bgmigration"
	"github.com/chararch/bgmigration/adapters/queue"
	"github.com/chararch/bgmigration/adapters/txn"
	"github.com/chararch/bgmigration/extensions/catalog"
)

// environment overrides
const (
	EnvDSN       = "BGMIGRATE_DSN"
	EnvDriver    = "BGMIGRATE_DRIVER"
	EnvRedisAddr = "BGMIGRATE_REDIS_ADDR"
	EnvLogLevel  = "BGMIGRATE_LOG_LEVEL"
)

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// Catalog where job descriptors are loaded from, FTP takes precedence over Dir when its host is set
type Catalog struct {
	File string                 `yaml:"file"`
	Dir  string                 `yaml:"dir"`
	FTP  *catalog.FTPFileSystem `yaml:"ftp,omitempty"`
}

// Store returns the file store holding the catalog
func (c Catalog) Store() catalog.FileStore {
	if c.FTP != nil && c.FTP.Host != "" {
		return c.FTP
	}
	return &catalog.LocalFileSystem{Dir: c.Dir}
}

type Engine struct {
	MaxRunningJobs   int           `yaml:"max_running_jobs"`
	MaxBatchAttempts int           `yaml:"max_batch_attempts"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
	MaxRetryBackoff  time.Duration `yaml:"max_retry_backoff"`
	// SeparateProgressStore writes progress after commit instead of inside the batch transaction
	SeparateProgressStore bool `yaml:"separate_progress_store"`
	CheckColumns          bool `yaml:"check_columns"`
}

type Worker struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	ClaimLimit   int           `yaml:"claim_limit"`
	Concurrency  int           `yaml:"concurrency"`
}

// Options converts the worker settings for queue.NewWorker
func (w Worker) Options(e Engine) queue.WorkerOptions {
	return queue.WorkerOptions{
		PollInterval: w.PollInterval,
		ClaimLimit:   w.ClaimLimit,
		Concurrency:  w.Concurrency,
		Backoff:      e.RetryBackoff,
		MaxBackoff:   e.MaxRetryBackoff,
	}
}

type Metrics struct {
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace"`
}

// Config the settings of the bgmigrate command
type Config struct {
	Database txn.Config `yaml:"database"`
	Redis    Redis      `yaml:"redis"`
	Catalog  Catalog    `yaml:"catalog"`
	Engine   Engine     `yaml:"engine"`
	Worker   Worker     `yaml:"worker"`
	Metrics  Metrics    `yaml:"metrics"`
	LogLevel string     `yaml:"log_level"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Database: txn.Config{
			Driver:       "mysql",
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Redis: Redis{
			Addr: "localhost:6379",
			Key:  queue.DefaultKey,
		},
		Catalog: Catalog{File: "catalog.yaml"},
		Engine: Engine{
			MaxRunningJobs:   bgmigration.DefaultJobPoolSize,
			MaxBatchAttempts: bgmigration.DefaultMaxBatchAttempts,
			RetryBackoff:     bgmigration.DefaultRetryBackoff,
			MaxRetryBackoff:  bgmigration.DefaultMaxRetryBackoff,
			CheckColumns:     true,
		},
		Worker: Worker{
			PollInterval: time.Second,
			ClaimLimit:   100,
			Concurrency:  bgmigration.DefaultJobPoolSize,
		},
		Metrics: Metrics{
			Addr:      ":9090",
			Namespace: "bgmigration",
		},
		LogLevel: "info",
	}
}

// Load read the config file over the defaults and apply environment overrides. An empty path loads only the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config file:%v", path)
		}
		if err = yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config file:%v", path)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDSN); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(EnvDriver); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
}

// Validate checks settings that have no usable default
func (c *Config) Validate() error {
	if c.Database.Driver == "" {
		return errors.New("database driver must be set")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrapf(err, "invalid log level:%v", c.LogLevel)
	}
	if c.Engine.MaxBatchAttempts <= 0 {
		return errors.Errorf("max batch attempts must be greater than 0, got:%v", c.Engine.MaxBatchAttempts)
	}
	if c.Engine.MaxRetryBackoff < c.Engine.RetryBackoff {
		return errors.Errorf("max retry backoff %v is smaller than retry backoff %v", c.Engine.MaxRetryBackoff, c.Engine.RetryBackoff)
	}
	return nil
}
