package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"lotwsync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Logging    LoggingConfig    `yaml:"logging"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	LoTW       LoTWConfig       `yaml:"lotw"`
	Worker     WorkerConfig     `yaml:"worker"`
	CTY        CTYConfig        `yaml:"cty"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type DatabaseConfig struct {
	Driver       string        `yaml:"driver"`
	Path         string        `yaml:"path"`
	DSN          string        `yaml:"dsn"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	TxTimeout    time.Duration `yaml:"tx_timeout"`
}

type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	PoolSize  int    `yaml:"pool_size"`
	KeyPrefix string `yaml:"key_prefix"`
}

type LoTWConfig struct {
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	StartDate         string        `yaml:"start_date"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	UserAgent         string        `yaml:"user_agent"`
}

type WorkerConfig struct {
	ConsumerName    string        `yaml:"consumer_name"`
	MaxRetries      *int          `yaml:"max_retries"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	MatchTolerance  time.Duration `yaml:"match_tolerance"`
	TaskTimeout     time.Duration `yaml:"task_timeout"`
	BlockTimeout    time.Duration `yaml:"block_timeout"`
	PromoteInterval time.Duration `yaml:"promote_interval"`
	HeartbeatTTL    time.Duration `yaml:"heartbeat_ttl"`
}

type CTYConfig struct {
	Path string `yaml:"path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool    `yaml:"prometheus_enabled"`
	PrometheusPort    int     `yaml:"prometheus_port"`
	APIKey            string  `yaml:"api_key"`
	RateLimitRPS      float64 `yaml:"rate_limit_rps"`
	RateLimitBurst    int     `yaml:"rate_limit_burst"`
}

// Load reads the YAML file at configPath after loading an optional .env file.
// ${VAR} references in the YAML are expanded from the environment.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database path is required for sqlite3")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return errors.New("database dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Redis.Address == "" {
		return errors.New("redis address is required")
	}
	if c.Worker.MaxRetries != nil && *c.Worker.MaxRetries < 0 {
		return errors.New("worker max_retries must not be negative")
	}
	if c.Worker.RetryDelay <= 0 {
		return errors.New("worker retry_delay must be positive")
	}
	if c.Worker.HeartbeatTTL <= 0 {
		return errors.New("worker heartbeat_ttl must be positive")
	}
	if c.Worker.MatchTolerance < 0 {
		return errors.New("worker match_tolerance must not be negative")
	}
	if _, err := time.Parse(models.DateLayout, c.LoTW.StartDate); err != nil {
		return fmt.Errorf("lotw start_date: %w", err)
	}
	return nil
}

// Retries returns the configured retry budget.
func (w WorkerConfig) Retries() int {
	if w.MaxRetries == nil {
		return models.DefaultMaxRetries
	}
	return *w.MaxRetries
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "lotwsync"
	}

	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.TxTimeout == 0 {
		c.Database.TxTimeout = 30 * time.Second
	}

	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "lotw:sync"
	}

	if c.LoTW.BaseURL == "" {
		c.LoTW.BaseURL = "https://lotw.arrl.org/lotwuser/lotwreport.adi"
	}
	if c.LoTW.Timeout == 0 {
		c.LoTW.Timeout = 30 * time.Second
	}
	if c.LoTW.StartDate == "" {
		c.LoTW.StartDate = "2025-01-01"
	}
	if c.LoTW.RequestsPerSecond == 0 {
		c.LoTW.RequestsPerSecond = 1
	}
	if c.LoTW.Burst == 0 {
		c.LoTW.Burst = 1
	}
	if c.LoTW.UserAgent == "" {
		c.LoTW.UserAgent = c.App.Name
	}

	if c.Worker.ConsumerName == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "worker"
		}
		// Recover finds the processing list by this name, so it must survive restarts.
		c.Worker.ConsumerName = host
	}
	if c.Worker.RetryDelay == 0 {
		c.Worker.RetryDelay = models.DefaultRetryDelay
	}
	if c.Worker.MatchTolerance == 0 {
		c.Worker.MatchTolerance = models.DefaultMatchTolerance
	}
	if c.Worker.TaskTimeout == 0 {
		c.Worker.TaskTimeout = 2 * time.Minute
	}
	if c.Worker.BlockTimeout == 0 {
		c.Worker.BlockTimeout = 2 * time.Second
	}
	if c.Worker.PromoteInterval == 0 {
		c.Worker.PromoteInterval = 5 * time.Second
	}
	if c.Worker.HeartbeatTTL == 0 {
		c.Worker.HeartbeatTTL = 30 * time.Second
	}

	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
}
