// Package config loads cutledger settings from an optional YAML file and
// CUTLEDGER_* environment variables.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CUTLEDGER_STORAGE_DRIVER.
const EnvPrefix = "CUTLEDGER"

// Config is the full process configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Blob      BlobConfig      `mapstructure:"blob"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
}

// AppConfig names the deployment.
type AppConfig struct {
	Env string `mapstructure:"env"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

// StorageConfig selects and configures the transactional store.
type StorageConfig struct {
	Driver                   string `mapstructure:"driver"`
	SQLitePath               string `mapstructure:"sqlite_path"`
	PostgresDSN              string `mapstructure:"postgres_dsn"`
	FirestoreProjectID       string `mapstructure:"firestore_project_id"`
	FirestoreCredentialsFile string `mapstructure:"firestore_credentials_file"`
	MaxAttempts              int    `mapstructure:"max_attempts"`
}

// BlobConfig configures the allocation archive.
type BlobConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Driver      string `mapstructure:"driver"`
	FSRoot      string `mapstructure:"fs_root"`
	S3Bucket    string `mapstructure:"s3_bucket"`
	S3Region    string `mapstructure:"s3_region"`
	S3Endpoint  string `mapstructure:"s3_endpoint"`
	S3PathStyle bool   `mapstructure:"s3_path_style"`
}

// ReconcileConfig schedules periodic reconciliation.
type ReconcileConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// Load reads path (YAML) unless envOnly is set, then applies environment
// overrides on top of the defaults.
func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite_path", "cutledger.db")
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.firestore_project_id", "")
	v.SetDefault("storage.firestore_credentials_file", "")
	v.SetDefault("storage.max_attempts", 5)

	// Archive writes go to a local directory unless s3 is configured.
	v.SetDefault("blob.enabled", true)
	v.SetDefault("blob.driver", "fs")
	v.SetDefault("blob.fs_root", "data/blob")
	v.SetDefault("blob.s3_bucket", "")
	v.SetDefault("blob.s3_region", "")
	v.SetDefault("blob.s3_endpoint", "")
	v.SetDefault("blob.s3_path_style", false)

	v.SetDefault("reconcile.enabled", false)
	v.SetDefault("reconcile.schedule", "@every 15m")

	if !envOnly && path != "" {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
