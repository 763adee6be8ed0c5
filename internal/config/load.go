package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable the loader reads,
// e.g. LT_DATABASE_URL for database.url.
const EnvPrefix = "LT"

// keys that have no default but must still be resolvable from the environment.
var requiredKeys = []string{
	"database.url",
	"auth.jwt_secret",
	"auth.issuer",
	"auth.audience",
	"identity.token_url",
	"identity.client_id",
	"identity.client_secret",
	"identity.scope",
	"identity.directory_url",
	"content.base_url",
	"content.s3_endpoint",
	"content.s3_access_key",
	"content.s3_secret_key",
	"content.s3_bucket",
	"stream.consumer",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.task_meta_ttl", time.Hour)
	v.SetDefault("redis.tasks_stream", "lt:stream:tasks")
	v.SetDefault("redis.bundle_stream", "lt:stream:bundles")

	v.SetDefault("auth.admin_roles", []string{"Admin", "Super Admin", "SuperAdmin"})

	v.SetDefault("identity.request_timeout", 10*time.Second)

	v.SetDefault("content.backend", "http")
	v.SetDefault("content.s3_use_ssl", true)
	v.SetDefault("content.temp_dir", "")

	v.SetDefault("allocation.worker_count", 4)
	v.SetDefault("allocation.queue_size", 256)
	v.SetDefault("allocation.default_role", "annotator")
	v.SetDefault("allocation.default_policy", "RoundRobin")

	v.SetDefault("stream.group", "lt-bundle-workers")
	v.SetDefault("stream.batch_size", 10)
	v.SetDefault("stream.block", 5*time.Second)
	v.SetDefault("stream.min_idle", 5*time.Minute)
	v.SetDefault("stream.max_backoff", 30*time.Second)
	v.SetDefault("stream.processed_ttl", 10*time.Minute)
	v.SetDefault("stream.max_deliveries", 10)
}

// Load reads configuration from an optional config file and from environment
// variables prefixed with LT_. Environment variables take precedence over the
// file. The result is validated before it is returned.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range requiredKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate runs struct-tag validation over cfg.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}
