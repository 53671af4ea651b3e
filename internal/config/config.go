package config

import (
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

var instance atomic.Pointer[Config]

// Config is the root configuration structure for the relay service.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger"`
	Server     ServerConfig     `mapstructure:"server"`
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Automation AutomationConfig `mapstructure:"automation"`
	Engine     EngineConfig     `mapstructure:"engine"`
}

// ColorConfig defines the color settings for different log levels, used by
// the console encoder.
type ColorConfig struct {
	Debug string `mapstructure:"debug" json:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" json:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" json:"warn" yaml:"warn"`
	Error string `mapstructure:"error" json:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" json:"fatal" yaml:"fatal"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" json:"level" yaml:"level"`
	Format      string      `mapstructure:"format" json:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" json:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" json:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" json:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" json:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" json:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" json:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" json:"colors" yaml:"colors"`
}

// ServerConfig holds settings for the HTTP relay surface.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
	// PublicBaseURL is the externally reachable origin used when building the
	// relay link handed back by the start endpoint.
	PublicBaseURL   string        `mapstructure:"public_base_url"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// CatalogConfig holds settings for the JSON-backed program catalog.
type CatalogConfig struct {
	DataPath string `mapstructure:"data_path"`
	// CacheMaxAge feeds the Cache-Control header on catalog responses.
	CacheMaxAge int `mapstructure:"cache_max_age"`
}

// BrowserConfig holds settings for the headless browser.
type BrowserConfig struct {
	Headless        bool     `mapstructure:"headless"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors"`
	Args            []string `mapstructure:"args"`
}

// AutomationConfig bounds the heuristic login flow. Selector candidate lists
// may be overridden per deployment; empty slices fall back to the built-ins.
type AutomationConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	ProbeTimeout      time.Duration `mapstructure:"probe_timeout"`
	MFASettleDelay    time.Duration `mapstructure:"mfa_settle_delay"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	IdleQuietPeriod   time.Duration `mapstructure:"idle_quiet_period"`

	UsernameSelectors []string `mapstructure:"username_selectors"`
	PasswordSelectors []string `mapstructure:"password_selectors"`
	SubmitSelectors   []string `mapstructure:"submit_selectors"`
	OTPSelectors      []string `mapstructure:"otp_selectors"`
}

// AttemptCeiling is the hard wall-clock cap for one whole login attempt:
// navigation plus the MFA settle and idle waits, with slack for the field
// probing in between.
func (a AutomationConfig) AttemptCeiling() time.Duration {
	return a.NavigationTimeout + a.MFASettleDelay + a.IdleTimeout + 15*time.Second
}

// EngineConfig holds settings for the automation worker pool.
type EngineConfig struct {
	QueueSize         int `mapstructure:"queue_size"`
	WorkerConcurrency int `mapstructure:"worker_concurrency"`
}

// SetDefaults registers defaults so the service can run with a minimal config.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "suni-relay")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.public_base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 2*time.Minute)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("catalog.data_path", "universities.json")
	v.SetDefault("catalog.cache_max_age", 60)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)

	v.SetDefault("automation.navigation_timeout", 30*time.Second)
	v.SetDefault("automation.probe_timeout", time.Second)
	v.SetDefault("automation.mfa_settle_delay", 2*time.Second)
	v.SetDefault("automation.idle_timeout", 10*time.Second)
	v.SetDefault("automation.idle_quiet_period", 500*time.Millisecond)

	v.SetDefault("engine.queue_size", 32)
	v.SetDefault("engine.worker_concurrency", 4)
}

// Load unmarshals the viper state into a Config and expands home-relative
// file paths.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	dataPath, err := homedir.Expand(cfg.Catalog.DataPath)
	if err != nil {
		return nil, fmt.Errorf("could not expand catalog data path %q: %w", cfg.Catalog.DataPath, err)
	}
	cfg.Catalog.DataPath = dataPath

	if cfg.Logger.LogFile != "" {
		logFile, err := homedir.Expand(cfg.Logger.LogFile)
		if err != nil {
			return nil, fmt.Errorf("could not expand log file path %q: %w", cfg.Logger.LogFile, err)
		}
		cfg.Logger.LogFile = logFile
	}

	return &cfg, nil
}

// Validate checks the loaded configuration for values the service cannot
// start with.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen must not be empty")
	}
	parsed, err := url.Parse(c.Server.PublicBaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("server.public_base_url %q is not an absolute URL", c.Server.PublicBaseURL)
	}
	if c.Catalog.DataPath == "" {
		return fmt.Errorf("catalog.data_path must not be empty")
	}
	if c.Automation.NavigationTimeout <= 0 {
		return fmt.Errorf("automation.navigation_timeout must be positive")
	}
	if c.Automation.ProbeTimeout <= 0 {
		return fmt.Errorf("automation.probe_timeout must be positive")
	}
	if c.Automation.IdleTimeout <= 0 {
		return fmt.Errorf("automation.idle_timeout must be positive")
	}
	// The idle wait ticks at half the quiet period; a zero period would make
	// the ticker interval invalid.
	if c.Automation.IdleQuietPeriod <= 0 {
		return fmt.Errorf("automation.idle_quiet_period must be positive")
	}
	if c.Automation.MFASettleDelay < 0 {
		return fmt.Errorf("automation.mfa_settle_delay must not be negative")
	}
	if c.Engine.WorkerConcurrency <= 0 {
		return fmt.Errorf("engine.worker_concurrency must be positive")
	}
	if c.Engine.QueueSize < 0 {
		return fmt.Errorf("engine.queue_size must not be negative")
	}
	return nil
}

// Set stores the configuration globally for components that are wired before
// dependency injection reaches them (the cobra command tree).
func Set(cfg *Config) {
	instance.Store(cfg)
}

// Get returns the globally stored configuration instance.
func Get() *Config {
	cfg := instance.Load()
	if cfg == nil {
		panic("configuration not initialized; call config.Set() in the root command first")
	}
	return cfg
}
