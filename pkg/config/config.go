package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"FinSeries/pkg/util"

	"github.com/creasty/defaults"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

type Config struct {
	AppName     string `yaml:"app_name" default:"finseries"`
	Environment string `yaml:"environment" default:"development"`
	Server      struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		SlowThreshold   time.Duration `yaml:"slow_threshold" default:"1s"`
		CORS            bool          `yaml:"cors" default:"true"`
		RateLimit       struct {
			RPS   float64 `yaml:"rps" default:"20"`
			Burst int     `yaml:"burst" default:"40"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`
	Logging struct {
		Level      string `yaml:"level" default:"info"`
		Format     string `yaml:"format" default:"json"`
		Output     string `yaml:"output" default:"stdout"`
		MaxSizeMB  int    `yaml:"max_size_mb" default:"100"`
		MaxBackups int    `yaml:"max_backups" default:"5"`
		MaxAgeDays int    `yaml:"max_age_days" default:"30"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logging"`
	Metrics struct {
		Enabled bool `yaml:"enabled" default:"true"`
	} `yaml:"metrics"`
	Validation struct {
		ConfigDir    string `yaml:"config_dir" default:"config"`
		PolicyFile   string `yaml:"policy_file" default:"data_validation.yaml"`
		DefaultsFile string `yaml:"defaults_file" default:"optimal_parameters.yaml"`
	} `yaml:"validation"`
	Data struct {
		Start           string `yaml:"start" default:"1990-01-01"`
		End             string `yaml:"end" default:"2025-12-31"`
		MaxLookbackDays int    `yaml:"max_lookback_days" default:"3650"`
		UseDummyMarket  bool   `yaml:"use_dummy_market"`
	} `yaml:"data"`
	Providers struct {
		Timeout   time.Duration `yaml:"timeout" default:"15s"`
		UserAgent string        `yaml:"user_agent" default:"finseries/1.0"`
		FRED      struct {
			APIKey  string  `yaml:"api_key"`
			BaseURL string  `yaml:"base_url" default:"https://api.stlouisfed.org/fred"`
			RPS     float64 `yaml:"rps" default:"2"`
			Burst   int     `yaml:"burst" default:"4"`
		} `yaml:"fred"`
		Chart struct {
			BaseURL string  `yaml:"base_url" default:"https://query1.finance.yahoo.com"`
			RPS     float64 `yaml:"rps" default:"2"`
			Burst   int     `yaml:"burst" default:"4"`
		} `yaml:"chart"`
		Breaker struct {
			MaxRequests      uint32        `yaml:"max_requests" default:"1"`
			Interval         time.Duration `yaml:"interval" default:"60s"`
			Timeout          time.Duration `yaml:"timeout" default:"30s"`
			FailureThreshold uint32        `yaml:"failure_threshold" default:"5"`
		} `yaml:"breaker"`
		Warehouse struct {
			Enabled bool   `yaml:"enabled"`
			Table   string `yaml:"table" default:"series_points"`
		} `yaml:"warehouse"`
	} `yaml:"providers"`
	Cache struct {
		Enabled       bool          `yaml:"enabled" default:"true"`
		TTLDaily      time.Duration `yaml:"ttl_daily" default:"15m"`
		TTLPeriodic   time.Duration `yaml:"ttl_periodic" default:"12h"`
		MemoryMaxSize int           `yaml:"memory_max_size" default:"1000"`
		MemoryTTL     time.Duration `yaml:"memory_ttl" default:"1m"`
		Redis         struct {
			Enabled  bool   `yaml:"enabled"`
			Host     string `yaml:"host" default:"localhost"`
			Port     int    `yaml:"port" default:"6379"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"cache"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"finseries"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		ReportTopic  string   `yaml:"report_topic" default:"finseries.reports"`
		PointsTopic  string   `yaml:"points_topic" default:"finseries.points"`
		RequiredAcks int      `yaml:"required_acks" default:"1"`
		Compression  string   `yaml:"compression" default:"snappy"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"10ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			Enabled     bool          `yaml:"enabled"`
			GroupID     string        `yaml:"group_id" default:"finseries-validator"`
			StartLatest bool          `yaml:"start_latest"`
			Workers     int           `yaml:"workers" default:"4"`
			BufferSize  int           `yaml:"buffer_size" default:"256"`
			RetryMax    int           `yaml:"retry_max" default:"3"`
			BackoffMin  time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax  time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic    string        `yaml:"dlq_topic" default:"finseries.points.dlq"`
			MinBytes    int           `yaml:"min_bytes" default:"1"`
			MaxBytes    int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Queue struct {
		Enabled       bool          `yaml:"enabled"`
		Name          string        `yaml:"name" default:"revalidate"`
		Workers       int           `yaml:"workers" default:"2"`
		PollInterval  time.Duration `yaml:"poll_interval" default:"1s"`
		MaxRetries    int           `yaml:"max_retries" default:"3"`
		RetryDelay    time.Duration `yaml:"retry_delay" default:"10s"`
		MaxRetryDelay time.Duration `yaml:"max_retry_delay" default:"10m"`
	} `yaml:"queue"`
	Scheduler struct {
		Enabled      bool          `yaml:"enabled"`
		Spec         string        `yaml:"spec" default:"0 */6 * * *"`
		LockTTL      time.Duration `yaml:"lock_ttl" default:"5m"`
		LookbackDays int           `yaml:"lookback_days" default:"3650"`
		Watchlist    []WatchItem   `yaml:"watchlist"`
	} `yaml:"scheduler"`
}

// WatchItem is a series revalidated on the scheduler cadence.
type WatchItem struct {
	Symbol string `yaml:"symbol"`
	Freq   string `yaml:"freq" default:"D"`
}

// Default returns a configuration holding only built-in defaults.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &c
}

// Load reads and parses a YAML configuration file on top of built-in defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	for i := range c.Scheduler.Watchlist {
		if err := defaults.Set(&c.Scheduler.Watchlist[i]); err != nil {
			return nil, fmt.Errorf("watchlist defaults: %w", err)
		}
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("APP_NAME"); v != "" {
		c.AppName = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("FRED_API_KEY"); v != "" {
		c.Providers.FRED.APIKey = v
	}
	if v := os.Getenv("USE_DUMMY_MARKET"); v != "" {
		b, err := cast.ToBoolE(v)
		if err != nil {
			return fmt.Errorf("USE_DUMMY_MARKET: %w", err)
		}
		c.Data.UseDummyMarket = b
	}
	if v := os.Getenv("CONFIG_DIR"); v != "" {
		c.Validation.ConfigDir = v
	}
	if v := os.Getenv("DATA_START"); v != "" {
		c.Data.Start = v
	}
	if v := os.Getenv("DATA_END"); v != "" {
		c.Data.End = v
	}
	if v := os.Getenv("MAX_LOOKBACK_DAYS"); v != "" {
		n, err := cast.ToIntE(v)
		if err != nil {
			return fmt.Errorf("MAX_LOOKBACK_DAYS: %w", err)
		}
		c.Data.MaxLookbackDays = n
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = util.SplitCSV(v)
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Cache.Redis.Host = v
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	start, err := util.ParseDate(c.Data.Start)
	if err != nil {
		return fmt.Errorf("data.start: %w", err)
	}
	end, err := util.ParseDate(c.Data.End)
	if err != nil {
		return fmt.Errorf("data.end: %w", err)
	}
	if start.After(end) {
		return fmt.Errorf("data.start %s is after data.end %s", c.Data.Start, c.Data.End)
	}
	if c.Data.MaxLookbackDays <= 0 {
		return fmt.Errorf("data.max_lookback_days must be positive")
	}
	if c.Validation.PolicyFile == "" {
		return fmt.Errorf("validation.policy_file is required")
	}
	if c.Cache.TTLDaily <= 0 || c.Cache.TTLPeriodic <= 0 {
		return fmt.Errorf("cache ttls must be positive")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Queue.Enabled && !c.Cache.Redis.Enabled {
		return fmt.Errorf("queue requires cache.redis.enabled")
	}
	if c.Scheduler.Enabled {
		if _, err := cron.ParseStandard(c.Scheduler.Spec); err != nil {
			return fmt.Errorf("scheduler.spec: %w", err)
		}
		for i, w := range c.Scheduler.Watchlist {
			if strings.TrimSpace(w.Symbol) == "" {
				return fmt.Errorf("scheduler.watchlist[%d].symbol is required", i)
			}
		}
	}
	return nil
}

// PolicyPath returns the location of the validation policy file.
func (c *Config) PolicyPath() string {
	return filepath.Join(c.Validation.ConfigDir, c.Validation.PolicyFile)
}

// DefaultsPath returns the location of the optional parameter defaults file.
func (c *Config) DefaultsPath() string {
	if c.Validation.DefaultsFile == "" {
		return ""
	}
	return filepath.Join(c.Validation.ConfigDir, c.Validation.DefaultsFile)
}

// DataWindow returns the parsed data window. Call after Validate.
func (c *Config) DataWindow() (time.Time, time.Time) {
	start, _ := util.ParseDate(c.Data.Start)
	end, _ := util.ParseDate(c.Data.End)
	return start, end
}
