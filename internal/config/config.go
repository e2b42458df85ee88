package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// INBOX_TRIAGE_EXECUTOR_DRY_RUN=true.
const EnvPrefix = "INBOX_TRIAGE"

// PathsConfig locates local state.
type PathsConfig struct {
	State      string `mapstructure:"state" yaml:"state"`
	Data       string `mapstructure:"data" yaml:"data"`
	Interviews string `mapstructure:"interviews" yaml:"interviews"`
	Secrets    string `mapstructure:"secrets" yaml:"secrets"`
}

// Journal is the sqlite run journal inside the data directory.
func (p PathsConfig) Journal() string {
	return filepath.Join(p.Data, "triage.db")
}

// GmailConfig selects the mailbox account and how tokens are obtained.
// A broker URL takes precedence over the credentials/token file pair.
type GmailConfig struct {
	User          string        `mapstructure:"user" yaml:"user"`
	MaxResults    int64         `mapstructure:"max_results" yaml:"max_results"`
	BootstrapDays int           `mapstructure:"bootstrap_days" yaml:"bootstrap_days"`
	CallTimeout   time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
	Credentials   string        `mapstructure:"credentials" yaml:"credentials"`
	Token         string        `mapstructure:"token" yaml:"token"`
	BrokerURL     string        `mapstructure:"broker_url" yaml:"broker_url"`
	BrokerBearer  string        `mapstructure:"broker_bearer" yaml:"broker_bearer"`
}

type RulesConfig struct {
	FallbackLabel      string `mapstructure:"fallback_label" yaml:"fallback_label"`
	ArchiveNewsletters bool   `mapstructure:"archive_newsletters" yaml:"archive_newsletters"`
}

type ExecutorConfig struct {
	DryRun      bool `mapstructure:"dry_run" yaml:"dry_run"`
	StopOnError bool `mapstructure:"stop_on_error" yaml:"stop_on_error"`
}

// AnalysisConfig configures the application field extractor.
type AnalysisConfig struct {
	Enabled   bool          `mapstructure:"enabled" yaml:"enabled"`
	Endpoint  string        `mapstructure:"endpoint" yaml:"endpoint"`
	Model     string        `mapstructure:"model" yaml:"model"`
	MaxTokens int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	APIKey    string        `mapstructure:"api_key" yaml:"-"`
}

// NATSConfig enables event publishing when URL is set.
type NATSConfig struct {
	URL           string `mapstructure:"url" yaml:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix" yaml:"subject_prefix"`
	Stream        string `mapstructure:"stream" yaml:"stream"`
}

// ServerConfig configures the service API. A zero schedule interval
// disables periodic runs; an empty JWKS URL disables bearer auth.
type ServerConfig struct {
	Addr             string        `mapstructure:"addr" yaml:"addr"`
	JWKSURL          string        `mapstructure:"jwks_url" yaml:"jwks_url"`
	ScheduleInterval time.Duration `mapstructure:"schedule_interval" yaml:"schedule_interval"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// Config is the top-level application configuration.
type Config struct {
	Paths    PathsConfig    `mapstructure:"paths" yaml:"paths"`
	Gmail    GmailConfig    `mapstructure:"gmail" yaml:"gmail"`
	Rules    RulesConfig    `mapstructure:"rules" yaml:"rules"`
	Executor ExecutorConfig `mapstructure:"executor" yaml:"executor"`
	Analysis AnalysisConfig `mapstructure:"analysis" yaml:"analysis"`
	NATS     NATSConfig     `mapstructure:"nats" yaml:"nats"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("paths.state", filepath.Join(".state", "state.json"))
	v.SetDefault("paths.data", "data")
	v.SetDefault("paths.interviews", filepath.Join("data", "interviews"))
	v.SetDefault("paths.secrets", "secrets")

	v.SetDefault("gmail.user", "me")
	v.SetDefault("gmail.max_results", 500)
	v.SetDefault("gmail.bootstrap_days", 60)
	v.SetDefault("gmail.call_timeout", "30s")
	v.SetDefault("gmail.credentials", filepath.Join("secrets", "credentials.json"))
	v.SetDefault("gmail.token", filepath.Join("secrets", "token.json"))
	v.SetDefault("gmail.broker_url", "")
	v.SetDefault("gmail.broker_bearer", "")

	v.SetDefault("rules.fallback_label", "NoFit")
	v.SetDefault("rules.archive_newsletters", false)

	v.SetDefault("executor.dry_run", false)
	v.SetDefault("executor.stop_on_error", false)

	v.SetDefault("analysis.enabled", true)
	v.SetDefault("analysis.endpoint", "https://api.anthropic.com/v1/messages")
	v.SetDefault("analysis.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("analysis.max_tokens", 1024)
	v.SetDefault("analysis.timeout", "60s")
	v.SetDefault("analysis.api_key", "")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "triage")
	v.SetDefault("nats.stream", "TRIAGE_EVENTS")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.jwks_url", "")
	v.SetDefault("server.schedule_interval", "0s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
}

// flagKeys maps command-line flags to config keys.
var flagKeys = map[string]string{
	"dry-run":       "executor.dry_run",
	"stop-on-error": "executor.stop_on_error",
	"state":         "paths.state",
	"log-level":     "logging.level",
	"addr":          "server.addr",
	"schedule":      "server.schedule_interval",
}

// RegisterFlags adds the overridable settings to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a YAML config file")
	fs.Bool("dry-run", false, "log planned actions without mutating the mailbox")
	fs.Bool("stop-on-error", false, "stop a message's remaining actions after the first failure")
	fs.String("state", "", "path to the cursor state file")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("addr", "", "service listen address")
	fs.Duration("schedule", 0, "interval between scheduled runs (0 disables)")
}

// Load reads path (optional), then environment overrides, then any flags
// in fs that were set explicitly.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("analysis.api_key", EnvPrefix+"_ANALYSIS_API_KEY", "ANTHROPIC_API_KEY"); err != nil {
		return nil, fmt.Errorf("binding env: %w", err)
	}

	if fs != nil {
		for name, key := range flagKeys {
			f := fs.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("binding flag %s: %w", name, err)
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Paths.State == "" {
		errs = append(errs, errors.New("paths.state is required"))
	}
	if c.Gmail.MaxResults <= 0 {
		errs = append(errs, fmt.Errorf("gmail.max_results must be positive, got %d", c.Gmail.MaxResults))
	}
	if c.Gmail.BootstrapDays <= 0 {
		errs = append(errs, fmt.Errorf("gmail.bootstrap_days must be positive, got %d", c.Gmail.BootstrapDays))
	}
	if c.Rules.FallbackLabel == "" {
		errs = append(errs, errors.New("rules.fallback_label is required"))
	}
	if c.Server.ScheduleInterval < 0 {
		errs = append(errs, errors.New("server.schedule_interval must not be negative"))
	}
	return errors.Join(errs...)
}
