package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix               = "MARGIN"
	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultDatabasePath     = "margin.db"
	defaultLogLevel         = "info"
	defaultKeepaliveSeconds = 10
	defaultTokenTTLMinutes  = 60
)

// AppConfig captures runtime configuration for the annotation API server.
type AppConfig struct {
	HTTPAddress       string
	SigningSecret     string
	DatabasePath      string
	LogLevel          string
	KeepaliveInterval time.Duration
	TokenTTL          time.Duration
	RedisURL          string
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
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("stream.keepalive_seconds", defaultKeepaliveSeconds)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("redis.url", "")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		SigningSecret:     configViper.GetString("auth.signing_secret"),
		DatabasePath:      configViper.GetString("database.path"),
		LogLevel:          configViper.GetString("log.level"),
		KeepaliveInterval: time.Duration(configViper.GetInt("stream.keepalive_seconds")) * time.Second,
		TokenTTL:          time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		RedisURL:          configViper.GetString("redis.url"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.KeepaliveInterval <= 0 {
		return fmt.Errorf("stream.keepalive_seconds must be positive")
	}
	return nil
}
