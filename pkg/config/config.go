package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Remote store backends.
const (
	RemoteModePostgres = "postgres"
	RemoteModeHTTP     = "http"
)

type Config struct {
	Env string

	// AdminAddr is where the agent serves health, metrics and the
	// manual sync trigger.
	AdminAddr string

	LocalStore LocalStoreConfig
	Remote     RemoteConfig
	Sync       SyncConfig
	Auth       AuthConfig
	Log        LogConfig
}

// LocalStoreConfig locates the embedded client database.
type LocalStoreConfig struct {
	Path        string
	BusyTimeout time.Duration
}

// RemoteConfig selects and configures the remote store implementation.
type RemoteConfig struct {
	Mode    string
	Timeout time.Duration

	// Postgres mode.
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int

	// HTTP mode.
	BaseURL string
	APIKey  string
}

// SyncConfig tunes the reconciler.
type SyncConfig struct {
	Interval      time.Duration
	RemoteTimeout time.Duration
	MaxAttempts   int
}

// AuthConfig governs offline session validation.
type AuthConfig struct {
	// SessionSlack extends cached token expiry checks so clock skew
	// between client and server does not lock users out offline.
	SessionSlack time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.AdminAddr = v.GetString("ADMIN_ADDR")

	cfg.LocalStore = LocalStoreConfig{
		Path:        v.GetString("LOCAL_DB_PATH"),
		BusyTimeout: parseDuration(v.GetString("LOCAL_DB_BUSY_TIMEOUT"), 5*time.Second),
	}

	cfg.Remote = RemoteConfig{
		Mode:         v.GetString("REMOTE_MODE"),
		Timeout:      parseDuration(v.GetString("REMOTE_TIMEOUT"), 5*time.Second),
		Host:         v.GetString("REMOTE_DB_HOST"),
		Port:         v.GetInt("REMOTE_DB_PORT"),
		User:         v.GetString("REMOTE_DB_USER"),
		Password:     v.GetString("REMOTE_DB_PASSWORD"),
		Name:         v.GetString("REMOTE_DB_NAME"),
		SSLMode:      v.GetString("REMOTE_DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("REMOTE_DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("REMOTE_DB_MAX_IDLE_CONNS"),
		BaseURL:      v.GetString("REMOTE_BASE_URL"),
		APIKey:       v.GetString("REMOTE_API_KEY"),
	}

	cfg.Sync = SyncConfig{
		Interval:      parseDuration(v.GetString("SYNC_INTERVAL"), 30*time.Second),
		RemoteTimeout: parseDuration(v.GetString("SYNC_REMOTE_TIMEOUT"), 5*time.Second),
		MaxAttempts:   v.GetInt("SYNC_MAX_ATTEMPTS"),
	}

	cfg.Auth = AuthConfig{
		SessionSlack: parseDuration(v.GetString("AUTH_SESSION_SLACK"), 5*time.Minute),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("ADMIN_ADDR", ":7343")
	v.SetDefault("LOCAL_DB_PATH", ".sma/offline.db")
	v.SetDefault("REMOTE_MODE", RemoteModeHTTP)
	v.SetDefault("REMOTE_DB_PORT", 5432)
	v.SetDefault("REMOTE_DB_SSL_MODE", "disable")
	v.SetDefault("SYNC_MAX_ATTEMPTS", 5)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
