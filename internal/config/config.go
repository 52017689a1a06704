// Package config loads and validates audit configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures every knob the audit tool reads, from file, environment
// (WEBAUDIT_ prefix), or flag bindings.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Crawl   CrawlConfig   `mapstructure:"crawl"`
	Browser BrowserConfig `mapstructure:"browser"`
	Output  OutputConfig  `mapstructure:"output"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls the report API server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlConfig governs frontier and scheduling behavior.
type CrawlConfig struct {
	MaxPages      int    `mapstructure:"max_pages"`
	Concurrency   int    `mapstructure:"concurrency"`
	MaxRetries    int    `mapstructure:"max_retries"`
	FanoutCap     int    `mapstructure:"fanout_cap"`
	Scope         string `mapstructure:"scope"`
	UserAgent     string `mapstructure:"user_agent"`
	DelaySeconds  int    `mapstructure:"delay_seconds"`
	RespectRobots bool   `mapstructure:"respect_robots"`
}

// BrowserConfig configures the headless rendering backend.
type BrowserConfig struct {
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	Screenshots   bool `mapstructure:"screenshots"`
}

// OutputConfig sets where published run directories land.
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk and environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WEBAUDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawl.max_pages", 10)
	v.SetDefault("crawl.concurrency", 3)
	v.SetDefault("crawl.max_retries", 3)
	v.SetDefault("crawl.fanout_cap", 25)
	v.SetDefault("crawl.scope", "site")
	v.SetDefault("crawl.user_agent", "webaudit-bot/1.0")
	v.SetDefault("crawl.delay_seconds", 1)
	v.SetDefault("crawl.respect_robots", true)
	v.SetDefault("browser.nav_timeout_seconds", 30)
	v.SetDefault("browser.screenshots", false)
	v.SetDefault("output.dir", "webaudit_reports")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawl.MaxPages <= 0 {
		return fmt.Errorf("crawl.max_pages must be > 0")
	}
	if c.Crawl.Concurrency <= 0 {
		return fmt.Errorf("crawl.concurrency must be > 0")
	}
	if c.Crawl.Scope != "site" && c.Crawl.Scope != "provided" {
		return fmt.Errorf("crawl.scope must be %q or %q, got %q", "site", "provided", c.Crawl.Scope)
	}
	if c.Browser.NavTimeoutSec <= 0 {
		return fmt.Errorf("browser.nav_timeout_seconds must be > 0")
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir must be set")
	}
	return nil
}

// NavTimeout converts the configured navigation budget to a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Browser.NavTimeoutSec) * time.Second
}

// CrawlDelay converts the politeness delay to a duration.
func (c Config) CrawlDelay() time.Duration {
	return time.Duration(c.Crawl.DelaySeconds) * time.Second
}
