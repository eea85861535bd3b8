package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "EHRFLOW"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "ehrflow.db"
	defaultLogLevel          = "info"
	defaultLogFormat         = "json"
	defaultTickInterval      = 10 * time.Second
	defaultHeartbeatInterval = 15 * time.Second
	defaultTimezone          = "UTC"
	minimumTickInterval      = time.Second
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress       string
	DatabasePath      string
	LogLevel          string
	LogFormat         string
	FixturesPath      string
	TickInterval      time.Duration
	HeartbeatInterval time.Duration
	Timezone          string
	Location          *time.Location
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.heartbeat_interval", defaultHeartbeatInterval)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("fixtures.path", "")
	configViper.SetDefault("flowsheet.tick_interval", defaultTickInterval)
	configViper.SetDefault("flowsheet.timezone", defaultTimezone)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       strings.TrimSpace(configViper.GetString("http.address")),
		DatabasePath:      strings.TrimSpace(configViper.GetString("database.path")),
		LogLevel:          configViper.GetString("log.level"),
		LogFormat:         strings.ToLower(strings.TrimSpace(configViper.GetString("log.format"))),
		FixturesPath:      strings.TrimSpace(configViper.GetString("fixtures.path")),
		TickInterval:      configViper.GetDuration("flowsheet.tick_interval"),
		HeartbeatInterval: configViper.GetDuration("http.heartbeat_interval"),
		Timezone:          strings.TrimSpace(configViper.GetString("flowsheet.timezone")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return AppConfig{}, fmt.Errorf("flowsheet.timezone %q is invalid: %w", cfg.Timezone, err)
	}
	cfg.Location = location

	return cfg, nil
}

func (c AppConfig) validate() error {
	if c.HTTPAddress == "" {
		return fmt.Errorf("http.address is required")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.TickInterval < minimumTickInterval {
		return fmt.Errorf("flowsheet.tick_interval must be at least %s", minimumTickInterval)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("http.heartbeat_interval must be positive")
	}
	if c.Timezone == "" {
		return fmt.Errorf("flowsheet.timezone is required")
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console")
	}
	return nil
}
