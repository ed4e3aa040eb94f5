package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration, loaded from an optional YAML file
// and overridable per-field through environment variables.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	NATS      NATSConfig      `yaml:"nats"`
	Assisted  AssistedConfig  `yaml:"assisted"`
	Engine    EngineConfig    `yaml:"engine"`
	Approvals ApprovalsConfig `yaml:"approvals"`
	Ledger    LedgerConfig    `yaml:"ledger"`
}

type ServiceConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int32  `yaml:"max_conns"`
	MinConns int32  `yaml:"min_conns"`
}

type NATSConfig struct {
	URL             string `yaml:"url"`
	OutboundSubject string `yaml:"outbound_subject"`
	InboundSubject  string `yaml:"inbound_subject"`
	EventPrefix     string `yaml:"event_prefix"`
}

// AssistedConfig configures the LLM-backed assisted matcher/extractor.
type AssistedConfig struct {
	APIURL  string        `yaml:"api_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

type EngineConfig struct {
	DocumentTimeout time.Duration `yaml:"document_timeout"`
}

// ApprovalsConfig controls the pending-decision reminder sweep. An empty
// schedule disables the sweep entirely (manual-only escalation).
type ApprovalsConfig struct {
	ReminderSchedule string        `yaml:"reminder_schedule"`
	ReminderAfter    time.Duration `yaml:"reminder_after"`
}

type LedgerConfig struct {
	FeedPath string `yaml:"feed_path"`
}

// Load reads configuration from CONFIG_PATH (or ./config.yaml when present)
// and applies environment overrides on top of defaults.
func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.Getenv("CONFIG_PATH") != "" {
		// An explicitly requested file must exist.
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(cfg)

	if cfg.Database.Host == "" {
		return nil, fmt.Errorf("database host is required")
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "invoice-engine",
			Version:     "dev",
			Environment: "development",
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Database: "invoice_engine",
			SSLMode:  "disable",
			MaxConns: 10,
			MinConns: 2,
		},
		NATS: NATSConfig{
			URL:             "nats://localhost:4222",
			OutboundSubject: "messenger.outbound.email",
			InboundSubject:  "messenger.inbound.replies",
			EventPrefix:     "notifications.ap",
		},
		Assisted: AssistedConfig{
			Model:   "gpt-4o",
			Timeout: 25 * time.Second,
		},
		Engine: EngineConfig{
			DocumentTimeout: 2 * time.Minute,
		},
		Approvals: ApprovalsConfig{
			ReminderSchedule: "",
			ReminderAfter:    72 * time.Hour,
		},
		Ledger: LedgerConfig{
			FeedPath: "service_agreements.json",
		},
	}
}

func applyEnv(cfg *Config) {
	setStr(&cfg.Service.Environment, "ENVIRONMENT")
	setInt(&cfg.Server.Port, "PORT")
	setStr(&cfg.Database.Host, "DB_HOST")
	setInt(&cfg.Database.Port, "DB_PORT")
	setStr(&cfg.Database.User, "DB_USER")
	setStr(&cfg.Database.Password, "DB_PASSWORD")
	setStr(&cfg.Database.Database, "DB_NAME")
	setStr(&cfg.Database.SSLMode, "DB_SSL_MODE")
	setStr(&cfg.NATS.URL, "NATS_URL")
	setStr(&cfg.Assisted.APIURL, "ASSISTED_API_URL")
	setStr(&cfg.Assisted.APIKey, "ASSISTED_API_KEY")
	setStr(&cfg.Assisted.Model, "ASSISTED_MODEL")
	setStr(&cfg.Ledger.FeedPath, "LEDGER_FEED_PATH")
	setStr(&cfg.Approvals.ReminderSchedule, "REMINDER_SCHEDULE")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
