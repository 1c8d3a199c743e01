// Package config loads server configuration: built-in defaults, then an
// optional YAML file named by CERTLEDGER_CONFIG, then environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultCostMarginPercent is added on top of the ledger's cost estimate.
	DefaultCostMarginPercent = 20
	// DefaultAppealWindow bounds how long after execution a revocation may be appealed.
	DefaultAppealWindow = 30 * 24 * time.Hour
	// DefaultMaxResubmissions caps how often a rejected certificate may re-enter approval.
	DefaultMaxResubmissions = 3

	defaultDevSigningKey = "dev-secret-key-change-in-production"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string        `yaml:"addr"`
	JWTSigningKey string        `yaml:"jwt_signing_key"`
	LogLevel      string        `yaml:"log_level"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// VerificationStream is the stream key the verification log appends to.
	VerificationStream string `yaml:"verification_stream"`
}

type KafkaConfig struct {
	Brokers    []string `yaml:"brokers"`
	AuditTopic string   `yaml:"audit_topic"`
}

type LedgerConfig struct {
	// GatewayURL selects the HTTP ledger client; empty runs the in-memory ledger.
	GatewayURL        string        `yaml:"gateway_url"`
	APIKey            string        `yaml:"api_key"`
	Timeout           time.Duration `yaml:"timeout"`
	CostMarginPercent uint64        `yaml:"cost_margin_percent"`
	FailureThreshold  int           `yaml:"failure_threshold"`
	Cooldown          time.Duration `yaml:"cooldown"`
}

type LifecycleConfig struct {
	AppealWindow     time.Duration `yaml:"appeal_window"`
	MaxResubmissions int           `yaml:"max_resubmissions"`
}

// ContentConfig selects S3 document storage; an empty bucket keeps
// documents in memory.
type ContentConfig struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

type RegistryConfig struct {
	URL      string        `yaml:"url"`
	Timeout  time.Duration `yaml:"timeout"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type RateLimitConfig struct {
	VerifyRPS   float64 `yaml:"verify_rps"`
	VerifyBurst int     `yaml:"verify_burst"`
}

// Config is the full server configuration.
type Config struct {
	Server    Server          `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Content   ContentConfig   `yaml:"content"`
	Registry  RegistryConfig  `yaml:"registry"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// Default returns a configuration suitable for local development.
func Default() Config {
	return Config{
		Server: Server{
			Addr:          ":8080",
			JWTSigningKey: defaultDevSigningKey,
			LogLevel:      "info",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  30 * time.Second,
		},
		Redis: RedisConfig{
			PoolSize:           10,
			MinIdleConns:       2,
			DialTimeout:        5 * time.Second,
			ReadTimeout:        3 * time.Second,
			WriteTimeout:       3 * time.Second,
			VerificationStream: "certledger:verifications",
		},
		Kafka: KafkaConfig{AuditTopic: "certledger.audit"},
		Ledger: LedgerConfig{
			Timeout:           10 * time.Second,
			CostMarginPercent: DefaultCostMarginPercent,
			FailureThreshold:  5,
			Cooldown:          30 * time.Second,
		},
		Lifecycle: LifecycleConfig{
			AppealWindow:     DefaultAppealWindow,
			MaxResubmissions: DefaultMaxResubmissions,
		},
		Content:   ContentConfig{Prefix: "certificates/", Region: "us-east-1"},
		Registry:  RegistryConfig{Timeout: 3 * time.Second, CacheTTL: 5 * time.Minute},
		RateLimit: RateLimitConfig{VerifyRPS: 5, VerifyBurst: 20},
	}
}

// Load builds the configuration from defaults, the optional YAML file and the environment.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("CERTLEDGER_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("CERTLEDGER_ADDR", &c.Server.Addr)
	str("JWT_SIGNING_KEY", &c.Server.JWTSigningKey)
	str("LOG_LEVEL", &c.Server.LogLevel)
	str("DATABASE_URL", &c.Database.URL)
	str("REDIS_URL", &c.Redis.URL)
	str("KAFKA_AUDIT_TOPIC", &c.Kafka.AuditTopic)
	str("LEDGER_GATEWAY_URL", &c.Ledger.GatewayURL)
	str("CONTENT_BUCKET", &c.Content.Bucket)
	str("CONTENT_PREFIX", &c.Content.Prefix)
	str("CONTENT_REGION", &c.Content.Region)
	str("CONTENT_ENDPOINT", &c.Content.Endpoint)
	str("LEDGER_API_KEY", &c.Ledger.APIKey)
	str("REGISTRY_URL", &c.Registry.URL)

	if v, ok := lookup("KAFKA_BROKERS"); ok && v != "" {
		c.Kafka.Brokers = splitList(v)
	}

	durations := map[string]*time.Duration{
		"LEDGER_TIMEOUT":     &c.Ledger.Timeout,
		"APPEAL_WINDOW":      &c.Lifecycle.AppealWindow,
		"REGISTRY_CACHE_TTL": &c.Registry.CacheTTL,
	}
	for key, dst := range durations {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}

	if v, ok := lookup("LEDGER_COST_MARGIN_PERCENT"); ok && v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("LEDGER_COST_MARGIN_PERCENT: %w", err)
		}
		c.Ledger.CostMarginPercent = n
	}
	if v, ok := lookup("MAX_RESUBMISSIONS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_RESUBMISSIONS: %w", err)
		}
		c.Lifecycle.MaxResubmissions = n
	}
	if v, ok := lookup("VERIFY_RATE_LIMIT_RPS"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("VERIFY_RATE_LIMIT_RPS: %w", err)
		}
		c.RateLimit.VerifyRPS = f
	}
	return nil
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server addr is required")
	}
	if c.Server.JWTSigningKey == "" {
		return fmt.Errorf("jwt signing key is required")
	}
	if c.Ledger.Timeout <= 0 {
		return fmt.Errorf("ledger timeout must be positive")
	}
	if c.Lifecycle.AppealWindow <= 0 {
		return fmt.Errorf("appeal window must be positive")
	}
	if c.Lifecycle.MaxResubmissions < 0 {
		return fmt.Errorf("max resubmissions must not be negative")
	}
	return nil
}

// UsesDevSigningKey reports whether the built-in development key is active.
func (c Config) UsesDevSigningKey() bool {
	return c.Server.JWTSigningKey == defaultDevSigningKey
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
