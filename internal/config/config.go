package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	WorkerID    string `mapstructure:"WORKER_ID"`
	WorkerCount int    `mapstructure:"WORKER_COUNT"`

	PollInterval  time.Duration `mapstructure:"POLL_INTERVAL"`
	PollBatchSize int           `mapstructure:"POLL_BATCH_SIZE"`
	SourceTable   string        `mapstructure:"SOURCE_TABLE"`

	SweepInterval time.Duration `mapstructure:"SWEEP_INTERVAL"`
	LockTimeout   time.Duration `mapstructure:"LOCK_TIMEOUT"`

	LeaseStaleness    time.Duration `mapstructure:"LEASE_STALENESS"`
	HeartbeatInterval time.Duration `mapstructure:"HEARTBEAT_INTERVAL"`

	MaxAttempts       int  `mapstructure:"MAX_ATTEMPTS"`
	FailFastPermanent bool `mapstructure:"FAIL_FAST_PERMANENT"`

	LetterInterval time.Duration `mapstructure:"LETTER_INTERVAL"`

	ESMDBaseURL string        `mapstructure:"ESMD_BASE_URL"`
	ESMDTimeout time.Duration `mapstructure:"ESMD_TIMEOUT"`

	LetterRenderURL   string `mapstructure:"LETTER_RENDER_URL"`
	LetterDeliveryURL string `mapstructure:"LETTER_DELIVERY_URL"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8100")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("WORKER_COUNT", 4)
	v.SetDefault("POLL_INTERVAL", "10s")
	v.SetDefault("POLL_BATCH_SIZE", 100)
	v.SetDefault("SOURCE_TABLE", "intake_message")
	v.SetDefault("SWEEP_INTERVAL", "1m")
	v.SetDefault("LOCK_TIMEOUT", "10m")
	v.SetDefault("LEASE_STALENESS", "90s")
	v.SetDefault("HEARTBEAT_INTERVAL", "30s")
	v.SetDefault("MAX_ATTEMPTS", 5)
	v.SetDefault("FAIL_FAST_PERMANENT", true)
	v.SetDefault("LETTER_INTERVAL", "30s")
	v.SetDefault("ESMD_TIMEOUT", "30s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"WORKER_ID", "WORKER_COUNT",
		"POLL_INTERVAL", "POLL_BATCH_SIZE", "SOURCE_TABLE",
		"SWEEP_INTERVAL", "LOCK_TIMEOUT",
		"LEASE_STALENESS", "HEARTBEAT_INTERVAL",
		"MAX_ATTEMPTS", "FAIL_FAST_PERMANENT",
		"LETTER_INTERVAL", "ESMD_BASE_URL", "ESMD_TIMEOUT",
		"LETTER_RENDER_URL", "LETTER_DELIVERY_URL",
	} {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.WorkerID == "" {
		cfg.WorkerID = defaultWorkerID()
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration describes a pipeline that can make
// progress. The heartbeat interval must be shorter than half the lease
// staleness threshold or a healthy leader can be deposed between beats.
func (c *Config) Validate() error {
	if c.WorkerCount < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1, got %d", c.WorkerCount)
	}
	if c.PollBatchSize < 1 {
		return fmt.Errorf("POLL_BATCH_SIZE must be at least 1, got %d", c.PollBatchSize)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("MAX_ATTEMPTS must be at least 1, got %d", c.MaxAttempts)
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("LOCK_TIMEOUT must be positive, got %s", c.LockTimeout)
	}
	if c.LeaseStaleness <= 0 {
		return fmt.Errorf("LEASE_STALENESS must be positive, got %s", c.LeaseStaleness)
	}
	if c.HeartbeatInterval <= 0 || c.HeartbeatInterval >= c.LeaseStaleness/2 {
		return fmt.Errorf("HEARTBEAT_INTERVAL must be positive and less than half of LEASE_STALENESS (%s), got %s",
			c.LeaseStaleness, c.HeartbeatInterval)
	}
	if c.ESMDBaseURL == "" {
		return fmt.Errorf("ESMD_BASE_URL is required")
	}
	if !strings.HasPrefix(c.ESMDBaseURL, "http://") && !strings.HasPrefix(c.ESMDBaseURL, "https://") {
		return fmt.Errorf("ESMD_BASE_URL must be an http(s) URL, got %q", c.ESMDBaseURL)
	}
	return nil
}

// defaultWorkerID derives a stable-enough identity for this process when one
// is not configured. Leases and inbox locks are keyed by this value.
func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "pabridge"
	}
	return fmt.Sprintf("%s-%s", host, uuid.New().String()[:8])
}
