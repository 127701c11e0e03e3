package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config carries process-level settings for the API binary. Values come from
// the environment first and an optional dealflow.yaml next to the binary.
type Config struct {
	DatabaseURL     string        `mapstructure:"database_url"`
	HTTPAddr        string        `mapstructure:"http_addr"`
	JWTSecret       string        `mapstructure:"jwt_secret"`
	UploadDir       string        `mapstructure:"upload_dir"`
	OutboxInterval  time.Duration `mapstructure:"outbox_interval"`
	OutboxBatchSize int           `mapstructure:"outbox_batch_size"`
}

// Load reads configuration from env vars (DEALFLOW_ prefix plus the bare
// DATABASE_URL convention) and an optional config file.
func Load() (Config, error) {
	v := viper.New()
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("upload_dir", "uploads")
	v.SetDefault("outbox_interval", 5*time.Second)
	v.SetDefault("outbox_batch_size", 25)

	v.SetEnvPrefix("DEALFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("database_url", "DEALFLOW_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("jwt_secret", "DEALFLOW_JWT_SECRET", "JWT_SECRET")

	v.SetConfigName("dealflow")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("config: read file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("config: database_url is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("config: jwt_secret is required")
	}
	return cfg, nil
}
