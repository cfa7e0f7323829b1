package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Log        LogConfig
	HTTP       HTTPConfig
	Telemetry  TelemetryConfig
	Sync       SyncConfig
	Connector  ConnectorConfig
	Mapping    MappingConfig
	Projection ProjectionConfig
	Archive    ArchiveConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string // postgres or sqlite
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	SQLitePath      string // file path or ":memory:" when Driver is sqlite
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings.
// Redis backs the per-entity-type sync leases; when disabled leases are process-local.
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	TrustedProxies []string
	// MaxBodySize caps request bodies in bytes
	MaxBodySize       int64
	CORSAllowOrigins  []string
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	MetricsEnabled    bool
	MetricsInterval   time.Duration
	LogsEnabled       bool
	// Database tracing options
	DBTraceEnabled    bool          // Enable database query tracing (otelgorm)
	DBLogFullSQL      bool          // Log full SQL statements (dev only)
	DBSlowQueryThresh time.Duration // Slow query threshold for warnings
	// Continuous profiling
	ProfilingEnabled bool
	PyroscopeAddress string
	SpanProfiles     bool
}

// SyncConfig controls reconciliation passes and the job scheduler.
type SyncConfig struct {
	Source              string        `validate:"required"`
	EntityTypes         []string      `validate:"required,min=1,dive,required"`
	FullInterval        time.Duration `validate:"gte=0"`
	IncrementalInterval time.Duration `validate:"gte=0"`
	BatchSize           int           `validate:"gte=1,lte=10000"`
	LeaseTTL            time.Duration `validate:"gt=0"`
	MaxPages            int           `validate:"gte=1"`
	MaxRetries          int           `validate:"gte=0,lte=20"`
	RetryDelay          time.Duration `validate:"gte=0"`
	Workers             int           `validate:"gte=1,lte=64"`
	QueueSize           int           `validate:"gte=1"`
	JobTimeout          time.Duration `validate:"gt=0"`
}

// Connector kinds.
const (
	ConnectorHTTP = "http"
	ConnectorCSV  = "csv"
)

// ConnectorConfig selects and configures the ERP source connector.
type ConnectorConfig struct {
	Kind         string `validate:"oneof=http csv"`
	BaseURL      string `validate:"required_if=Kind http,omitempty,url"`
	Token        string
	PageSize     int           `validate:"gte=1,lte=5000"`
	RateLimitRPS float64       `validate:"gte=0"`
	Burst        int           `validate:"gte=0"`
	Timeout      time.Duration `validate:"gt=0"`
	CSVDir       string        `validate:"required_if=Kind csv"`
}

// MappingConfig points at the YAML field mapping file.
type MappingConfig struct {
	Path string
}

// ProjectionConfig controls the projection engine.
type ProjectionConfig struct {
	MaxHierarchyDepth int
	ReplayPageSize    int
	// RunOnSync triggers a projection catch-up after every completed sync pass.
	RunOnSync bool
}

// ArchiveConfig configures the optional S3 copy of raw batches.
type ArchiveConfig struct {
	Enabled   bool
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	Prefix    string
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with CRMSYNC_ prefix (e.g., CRMSYNC_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom behaves like Load but reads the given file when path is non-empty.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/crmsync")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("CRMSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			SQLitePath:      v.GetString("database.sqlite_path"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			IdleTimeout:    v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes: v.GetInt("http.max_header_bytes"),
			TrustedProxies: v.GetStringSlice("http.trusted_proxies"),

			MaxBodySize:       v.GetInt64("http.max_body_size"),
			CORSAllowOrigins:  v.GetStringSlice("http.cors_allow_origins"),
			RateLimitEnabled:  v.GetBool("http.rate_limit_enabled"),
			RateLimitRequests: v.GetInt("http.rate_limit_requests"),
			RateLimitWindow:   v.GetDuration("http.rate_limit_window"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsEnabled:    v.GetBool("telemetry.metrics_enabled"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
			ProfilingEnabled:  v.GetBool("telemetry.profiling_enabled"),
			PyroscopeAddress:  v.GetString("telemetry.pyroscope_address"),
			SpanProfiles:      v.GetBool("telemetry.span_profiles"),
		},
		Sync: SyncConfig{
			Source:              v.GetString("sync.source"),
			EntityTypes:         v.GetStringSlice("sync.entity_types"),
			FullInterval:        v.GetDuration("sync.full_interval"),
			IncrementalInterval: v.GetDuration("sync.incremental_interval"),
			BatchSize:           v.GetInt("sync.batch_size"),
			LeaseTTL:            v.GetDuration("sync.lease_ttl"),
			MaxPages:            v.GetInt("sync.max_pages"),
			MaxRetries:          v.GetInt("sync.max_retries"),
			RetryDelay:          v.GetDuration("sync.retry_delay"),
			Workers:             v.GetInt("sync.workers"),
			QueueSize:           v.GetInt("sync.queue_size"),
			JobTimeout:          v.GetDuration("sync.job_timeout"),
		},
		Connector: ConnectorConfig{
			Kind:         v.GetString("connector.kind"),
			BaseURL:      v.GetString("connector.base_url"),
			Token:        v.GetString("connector.token"),
			PageSize:     v.GetInt("connector.page_size"),
			RateLimitRPS: v.GetFloat64("connector.rate_limit_rps"),
			Burst:        v.GetInt("connector.burst"),
			Timeout:      v.GetDuration("connector.timeout"),
			CSVDir:       v.GetString("connector.csv_dir"),
		},
		Mapping: MappingConfig{
			Path: v.GetString("mapping.path"),
		},
		Projection: ProjectionConfig{
			MaxHierarchyDepth: v.GetInt("projection.max_hierarchy_depth"),
			ReplayPageSize:    v.GetInt("projection.replay_page_size"),
			RunOnSync:         v.GetBool("projection.run_on_sync"),
		},
		Archive: ArchiveConfig{
			Enabled:   v.GetBool("archive.enabled"),
			Endpoint:  v.GetString("archive.endpoint"),
			Bucket:    v.GetString("archive.bucket"),
			Region:    v.GetString("archive.region"),
			AccessKey: v.GetString("archive.access_key"),
			SecretKey: v.GetString("archive.secret_key"),
			Prefix:    v.GetString("archive.prefix"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "crmsync"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverPostgres
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "crmsync"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "crmsync.db"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 30 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20
	}
	if cfg.HTTP.RateLimitRequests == 0 {
		cfg.HTTP.RateLimitRequests = 120
	}
	if cfg.HTTP.RateLimitWindow == 0 {
		cfg.HTTP.RateLimitWindow = time.Minute
	}

	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "crmsync"
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 60 * time.Second
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
	if cfg.Telemetry.PyroscopeAddress == "" {
		cfg.Telemetry.PyroscopeAddress = "http://localhost:4040"
	}

	if cfg.Sync.Source == "" {
		cfg.Sync.Source = "erp"
	}
	if len(cfg.Sync.EntityTypes) == 0 {
		cfg.Sync.EntityTypes = []string{"user", "account", "contact", "opportunity"}
	}
	if cfg.Sync.FullInterval == 0 {
		cfg.Sync.FullInterval = 24 * time.Hour
	}
	if cfg.Sync.IncrementalInterval == 0 {
		cfg.Sync.IncrementalInterval = 15 * time.Minute
	}
	if cfg.Sync.BatchSize == 0 {
		cfg.Sync.BatchSize = 200
	}
	if cfg.Sync.LeaseTTL == 0 {
		cfg.Sync.LeaseTTL = 10 * time.Minute
	}
	if cfg.Sync.MaxPages == 0 {
		cfg.Sync.MaxPages = 10000
	}
	if cfg.Sync.MaxRetries == 0 {
		cfg.Sync.MaxRetries = 3
	}
	if cfg.Sync.RetryDelay == 0 {
		cfg.Sync.RetryDelay = 30 * time.Second
	}
	if cfg.Sync.Workers == 0 {
		cfg.Sync.Workers = 2
	}
	if cfg.Sync.QueueSize == 0 {
		cfg.Sync.QueueSize = 32
	}
	if cfg.Sync.JobTimeout == 0 {
		cfg.Sync.JobTimeout = 30 * time.Minute
	}

	if cfg.Connector.Kind == "" {
		cfg.Connector.Kind = ConnectorHTTP
	}
	if cfg.Connector.Kind == ConnectorHTTP && cfg.Connector.BaseURL == "" {
		cfg.Connector.BaseURL = "http://localhost:9090"
	}
	if cfg.Connector.PageSize == 0 {
		cfg.Connector.PageSize = 500
	}
	if cfg.Connector.RateLimitRPS == 0 {
		cfg.Connector.RateLimitRPS = 10
	}
	if cfg.Connector.Burst == 0 {
		cfg.Connector.Burst = 5
	}
	if cfg.Connector.Timeout == 0 {
		cfg.Connector.Timeout = 30 * time.Second
	}

	if cfg.Mapping.Path == "" {
		cfg.Mapping.Path = "config/mapping.yaml"
	}

	if cfg.Projection.MaxHierarchyDepth == 0 {
		cfg.Projection.MaxHierarchyDepth = 32
	}
	if cfg.Projection.ReplayPageSize == 0 {
		cfg.Projection.ReplayPageSize = 200
	}

	if cfg.Archive.Region == "" {
		cfg.Archive.Region = "us-east-1"
	}
	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = "raw"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.Database.Driver)
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	validate := validator.New()
	if err := validate.Struct(c.Sync); err != nil {
		return fmt.Errorf("invalid sync config: %w", err)
	}
	if err := validate.Struct(c.Connector); err != nil {
		return fmt.Errorf("invalid connector config: %w", err)
	}

	if c.Projection.MaxHierarchyDepth < 1 {
		return fmt.Errorf("projection.max_hierarchy_depth must be positive")
	}
	if c.Projection.ReplayPageSize < 1 {
		return fmt.Errorf("projection.replay_page_size must be positive")
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("archive.bucket is required when archive is enabled")
	}

	if c.App.Env == "production" {
		if c.Database.Driver == DriverPostgres {
			if c.Database.Password == "" {
				return fmt.Errorf("database.password is required in production")
			}
			if c.Database.SSLMode == "disable" {
				return fmt.Errorf("database.sslmode cannot be 'disable' in production")
			}
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent sensitive data exposure in traces")
		}
		if !c.Redis.Enabled && c.Sync.Workers > 1 {
			return fmt.Errorf("redis.enabled is required in production when sync.workers > 1")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	if d.Driver == DriverSQLite {
		return d.SQLitePath
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
