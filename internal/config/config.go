package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Wiza       WizaConfig       `yaml:"wiza" mapstructure:"wiza"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Gate       GateConfig       `yaml:"gate" mapstructure:"gate"`
	Draft      DraftConfig      `yaml:"draft" mapstructure:"draft"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// WizaConfig holds provider API settings. The adapter receives this at
// construction; nothing reads the environment at call time.
type WizaConfig struct {
	Key              string `yaml:"key" mapstructure:"key"`
	BaseURL          string `yaml:"base_url" mapstructure:"base_url"`
	PollIntervalSecs int    `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	PollMaxAttempts  int    `yaml:"poll_max_attempts" mapstructure:"poll_max_attempts"`
}

// BatchConfig configures chunking and pacing of provider jobs.
type BatchConfig struct {
	ChunkSize      int `yaml:"chunk_size" mapstructure:"chunk_size"`
	ChunkDelaySecs int `yaml:"chunk_delay_secs" mapstructure:"chunk_delay_secs"`
}

// GateConfig configures validation and dedup.
type GateConfig struct {
	BlockedDomains []string `yaml:"blocked_domains" mapstructure:"blocked_domains"`
}

// DraftConfig configures the outreach message drafting stage.
type DraftConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// SalesforceConfig holds CRM export settings. Export is enabled when a
// client ID is configured.
type SalesforceConfig struct {
	ClientID string  `yaml:"client_id" mapstructure:"client_id"`
	Username string  `yaml:"username" mapstructure:"username"`
	KeyPath  string  `yaml:"key_path" mapstructure:"key_path"`
	LoginURL string  `yaml:"login_url" mapstructure:"login_url"`
	RateRPS  float64 `yaml:"rate_rps" mapstructure:"rate_rps"`
}

// ServerConfig configures the run-control HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "leadgen.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("wiza.base_url", "https://wiza.co/api/v1")
	v.SetDefault("wiza.poll_interval_secs", 10)
	v.SetDefault("wiza.poll_max_attempts", 60)
	v.SetDefault("batch.chunk_size", 10)
	v.SetDefault("batch.chunk_delay_secs", 2)
	v.SetDefault("gate.blocked_domains", []string{
		"linktr.ee",
		"beacons.ai",
		"mailinator.com",
		"guerrillamail.com",
		"10minutemail.com",
	})
	v.SetDefault("draft.model", "claude-haiku-4-5-20251001")
	v.SetDefault("draft.max_tokens", 1024)
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.rate_rps", 5)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
