package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"merchant-status-alerts/internal/logging"
	"merchant-status-alerts/internal/status"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Merchant  MerchantConfig  `mapstructure:"merchant"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs check cadence.
type SchedulerConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	AlignToStart bool          `mapstructure:"align_to_start"`
	StartupDelay time.Duration `mapstructure:"startup_delay"`
	RunAtStart   bool          `mapstructure:"run_at_start"`
}

// MerchantConfig covers access to the product-status aggregation API.
type MerchantConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	AccountID       string        `mapstructure:"account_id"`
	CredentialsFile string        `mapstructure:"credentials_file"`
	PageSize        int           `mapstructure:"page_size"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	UserAgent       string        `mapstructure:"user_agent"`
	MaxRetries      int           `mapstructure:"max_retries"`
}

// AlertingConfig defines alert thresholds and the monitored slice.
type AlertingConfig struct {
	Enabled          bool        `mapstructure:"enabled"`
	ThresholdAbs     int         `mapstructure:"threshold_abs"`
	ThresholdDelta   int         `mapstructure:"threshold_delta"`
	Country          string      `mapstructure:"country"`
	ReportingContext string      `mapstructure:"reporting_context"`
	ProblemStatuses  []string    `mapstructure:"problem_statuses"`
	Email            EmailConfig `mapstructure:"email"`
}

// EmailConfig describes the SendGrid transport and routing.
type EmailConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	APIKey         string        `mapstructure:"api_key"`
	APIBase        string        `mapstructure:"api_base"`
	From           string        `mapstructure:"from"`
	To             string        `mapstructure:"to"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// HTTPConfig sets the embedded API server behaviour.
type HTTPConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MERCHANTWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "merchantwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "30m")
	v.SetDefault("scheduler.align_to_start", true)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_at_start", true)

	v.SetDefault("merchant.base_url", "https://merchantapi.googleapis.com")
	v.SetDefault("merchant.page_size", 250)
	v.SetDefault("merchant.request_timeout", "30s")
	v.SetDefault("merchant.user_agent", "merchantwatcher/1.0")
	v.SetDefault("merchant.max_retries", 3)

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.threshold_abs", 25)
	v.SetDefault("alerting.threshold_delta", 10)
	v.SetDefault("alerting.country", "PL")
	v.SetDefault("alerting.reporting_context", "SHOPPING_ADS")
	v.SetDefault("alerting.problem_statuses", status.DefaultProblemStatuses())
	v.SetDefault("alerting.email.enabled", false)
	v.SetDefault("alerting.email.api_base", "https://api.sendgrid.com")
	v.SetDefault("alerting.email.request_timeout", "10s")

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.listen_addr", ":8080")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
// A malformed threshold or identity is fatal for the invocation; no check
// cycle runs against broken configuration.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Alerting.ThresholdAbs < 0 {
		return fmt.Errorf("alerting.threshold_abs cannot be negative")
	}
	if c.Alerting.ThresholdDelta < 0 {
		return fmt.Errorf("alerting.threshold_delta cannot be negative")
	}
	if c.Alerting.Country == "" {
		return fmt.Errorf("alerting.country must be configured")
	}
	if c.Alerting.ReportingContext == "" {
		return fmt.Errorf("alerting.reporting_context must be configured")
	}
	if len(c.Alerting.ProblemStatuses) == 0 {
		return fmt.Errorf("alerting.problem_statuses must not be empty")
	}
	if c.Alerting.Email.Enabled {
		if c.Alerting.Email.APIKey == "" {
			return fmt.Errorf("alerting.email.api_key must be configured")
		}
		if c.Alerting.Email.From == "" || c.Alerting.Email.To == "" {
			return fmt.Errorf("alerting.email.from and alerting.email.to must be configured")
		}
	}
	return nil
}

// Thresholds builds the evaluator configuration for one cycle.
func (c *Config) Thresholds() status.Thresholds {
	return status.Thresholds{
		Absolute:        c.Alerting.ThresholdAbs,
		Delta:           c.Alerting.ThresholdDelta,
		ProblemStatuses: c.Alerting.ProblemStatuses,
	}
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
