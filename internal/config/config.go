package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"     validate:"required"`
	Database   DatabaseConfig   `mapstructure:"database"   validate:"required"`
	Redis      RedisConfig      `mapstructure:"redis"      validate:"required"`
	Auth       AuthConfig       `mapstructure:"auth"       validate:"required"`
	Identity   IdentityConfig   `mapstructure:"identity"   validate:"required"`
	Content    ContentConfig    `mapstructure:"content"    validate:"required"`
	Allocation AllocationConfig `mapstructure:"allocation" validate:"required"`
	Stream     StreamConfig     `mapstructure:"stream"     validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"             validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level"        validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"               validate:"required,url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"    validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"    validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
}

// RedisConfig points at the redis instance that carries the event streams
// and the task metadata cache.
type RedisConfig struct {
	URL          string        `mapstructure:"url"           validate:"required,url"`
	TaskMetaTTL  time.Duration `mapstructure:"task_meta_ttl" validate:"required,gt=0"`
	TasksStream  string        `mapstructure:"tasks_stream"  validate:"required"`
	BundleStream string        `mapstructure:"bundle_stream" validate:"required"`
}

// AuthConfig contains the settings used to verify inbound bearer tokens.
type AuthConfig struct {
	JWTSecret  string   `mapstructure:"jwt_secret"  validate:"required,min=32"`
	AdminRoles []string `mapstructure:"admin_roles" validate:"required,min=1"`
	Issuer     string   `mapstructure:"issuer"`
	Audience   string   `mapstructure:"audience"`
}

// IdentityConfig holds the client-credentials settings for the external
// user directory.
type IdentityConfig struct {
	TokenURL       string        `mapstructure:"token_url"       validate:"required,url"`
	ClientID       string        `mapstructure:"client_id"       validate:"required"`
	ClientSecret   string        `mapstructure:"client_secret"   validate:"required"`
	Scope          string        `mapstructure:"scope"`
	DirectoryURL   string        `mapstructure:"directory_url"   validate:"required,url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"required,gt=0"`
}

// ContentConfig selects and configures the bundle/content store.
type ContentConfig struct {
	Backend     string `mapstructure:"backend"      validate:"required,oneof=http s3"`
	BaseURL     string `mapstructure:"base_url"     validate:"required_if=Backend http,omitempty,url"`
	S3Endpoint  string `mapstructure:"s3_endpoint"  validate:"required_if=Backend s3"`
	S3AccessKey string `mapstructure:"s3_access_key"`
	S3SecretKey string `mapstructure:"s3_secret_key"`
	S3Bucket    string `mapstructure:"s3_bucket"    validate:"required_if=Backend s3"`
	S3UseSSL    bool   `mapstructure:"s3_use_ssl"`
	TempDir     string `mapstructure:"temp_dir"`
}

// AllocationConfig controls the background allocation runner.
type AllocationConfig struct {
	WorkerCount   int    `mapstructure:"worker_count"   validate:"required,gt=0"`
	QueueSize     int    `mapstructure:"queue_size"     validate:"required,gt=0"`
	DefaultRole   string `mapstructure:"default_role"   validate:"required"`
	DefaultPolicy string `mapstructure:"default_policy" validate:"required"`
}

// StreamConfig controls the bundle consumer group loop.
type StreamConfig struct {
	Group         string        `mapstructure:"group"          validate:"required"`
	Consumer      string        `mapstructure:"consumer"`
	BatchSize     int64         `mapstructure:"batch_size"     validate:"required,gt=0"`
	Block         time.Duration `mapstructure:"block"          validate:"required,gt=0"`
	MinIdle       time.Duration `mapstructure:"min_idle"       validate:"required,gt=0"`
	MaxBackoff    time.Duration `mapstructure:"max_backoff"    validate:"required,gt=0"`
	ProcessedTTL  time.Duration `mapstructure:"processed_ttl"  validate:"required,gt=0"`
	MaxDeliveries int64         `mapstructure:"max_deliveries" validate:"gte=0"`
}
