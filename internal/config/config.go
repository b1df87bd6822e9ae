package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// BaseConfig holds base configuration
type BaseConfig struct {
	Debug     bool   `mapstructure:"debug"`
	SentryDSN string `mapstructure:"sentry_dsn"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadHost        string        `mapstructure:"read_host"`
	ReadPort        int           `mapstructure:"read_port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`     // Maximum number of open connections to the database
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`     // Maximum number of idle connections in the pool
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`  // Maximum amount of time a connection may be reused (e.g., "5m", "1h")
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"` // Maximum amount of time a connection may be idle (e.g., "10m", "30m")
}

// NATSConfig holds NATS JetStream configuration
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	StreamName     string        `mapstructure:"stream_name"`
	ConsumerName   string        `mapstructure:"consumer_name"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectionName string        `mapstructure:"connection_name"`
	AckWait        time.Duration `mapstructure:"ack_wait"`
	MaxDeliver     int           `mapstructure:"max_deliver"`
}

// LedgerConfig holds the permissioned ledger gateway configuration
type LedgerConfig struct {
	GatewayURL        string        `mapstructure:"gateway_url"`
	Channel           string        `mapstructure:"channel"`
	APIKey            string        `mapstructure:"api_key"`
	Timeout           time.Duration `mapstructure:"timeout"`
	HeightTTL         time.Duration `mapstructure:"height_ttl"`
	HeightStaleWindow time.Duration `mapstructure:"height_stale_window"`
}

// PublicLedgerConfig holds the EVM network anchors are committed to
type PublicLedgerConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	ChainID        int64         `mapstructure:"chain_id"`
	PrivateKey     string        `mapstructure:"private_key"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
}

// RateLimiterConfig holds the Redis-backed token bucket configuration
type RateLimiterConfig struct {
	RedisAddr               string        `mapstructure:"redis_addr"`
	RedisPassword           string        `mapstructure:"redis_password"`
	RedisDB                 int           `mapstructure:"redis_db"`
	RequestsPerMinute       int           `mapstructure:"requests_per_minute"`
	Burst                   int           `mapstructure:"burst"`
	MaxWait                 time.Duration `mapstructure:"max_wait"`
	RedisKeyPrefix          string        `mapstructure:"redis_key_prefix"`
	EnableLocalFallback     bool          `mapstructure:"enable_local_fallback"`
	LocalFallbackMultiplier float64       `mapstructure:"local_fallback_multiplier"` // Share of the global rate a process may use while Redis is down
}

// AnchorConfig holds anchoring configuration
type AnchorConfig struct {
	VerifiedCacheTTL time.Duration      `mapstructure:"verified_cache_ttl"`
	ReconcileAfter   time.Duration      `mapstructure:"reconcile_after"`
	BroadcastTimeout time.Duration      `mapstructure:"broadcast_timeout"`
	PublicLedger     PublicLedgerConfig `mapstructure:"public_ledger"`
	RateLimit        RateLimiterConfig  `mapstructure:"rate_limit"`
}

// TemporalConfig holds Temporal configuration
type TemporalConfig struct {
	HostPort                           string  `mapstructure:"host_port"`
	Namespace                          string  `mapstructure:"namespace"`
	TaskQueue                          string  `mapstructure:"task_queue"`
	MaxConcurrentActivityExecutionSize int     `mapstructure:"max_concurrent_activity_execution_size"`
	WorkerActivitiesPerSecond          float64 `mapstructure:"worker_activities_per_second"`
	MaxConcurrentActivityTaskPollers   int     `mapstructure:"max_concurrent_activity_task_pollers"`
}

// OutboxConfig holds the outbox relay configuration
type OutboxConfig struct {
	BatchSize      int           `mapstructure:"batch_size"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	Lease          time.Duration `mapstructure:"lease"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// SyncConfig holds the ledger-to-mirror pipeline configuration
type SyncConfig struct {
	OwnershipWorkers   int           `mapstructure:"ownership_workers"`
	EncumbranceWorkers int           `mapstructure:"encumbrance_workers"`
	DisputeWorkers     int           `mapstructure:"dispute_workers"`
	QueueSize          int           `mapstructure:"queue_size"`
	MaxRetries         int           `mapstructure:"max_retries"`
	RetryDelay         time.Duration `mapstructure:"retry_delay"`
}

// TransferConfig holds transfer workflow configuration
type TransferConfig struct {
	CoolingPeriod time.Duration `mapstructure:"cooling_period"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	ReadTimeout    int      `mapstructure:"read_timeout"`    // in seconds
	WriteTimeout   int      `mapstructure:"write_timeout"`   // in seconds
	IdleTimeout    int      `mapstructure:"idle_timeout"`    // in seconds
	AllowedOrigins []string `mapstructure:"allowed_origins"` // empty allows any origin
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTPublicKey string   `mapstructure:"jwt_public_key"`
	APIKeys      []string `mapstructure:"api_keys"`
}

// EmitterConfig holds the ledger event feed polling configuration
type EmitterConfig struct {
	StartBlock   uint64        `mapstructure:"start_block"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
}

// LedgerEventEmitterConfig holds configuration for ledger-event-emitter
type LedgerEventEmitterConfig struct {
	BaseConfig `mapstructure:",squash"`
	Database   DatabaseConfig `mapstructure:"database"`
	NATS       NATSConfig     `mapstructure:"nats"`
	Ledger     LedgerConfig   `mapstructure:"ledger"`
	Emitter    EmitterConfig  `mapstructure:"emitter"`
}

// EventBridgeConfig holds configuration for event-bridge
type EventBridgeConfig struct {
	BaseConfig `mapstructure:",squash"`
	Database   DatabaseConfig `mapstructure:"database"`
	NATS       NATSConfig     `mapstructure:"nats"`
	Sync       SyncConfig     `mapstructure:"sync"`
}

// WorkerCoreConfig holds configuration for worker-core
type WorkerCoreConfig struct {
	BaseConfig `mapstructure:",squash"`
	Database   DatabaseConfig `mapstructure:"database"`
	Temporal   TemporalConfig `mapstructure:"temporal"`
	Ledger     LedgerConfig   `mapstructure:"ledger"`
	Anchor     AnchorConfig   `mapstructure:"anchor"`
	Outbox     OutboxConfig   `mapstructure:"outbox"`
}

// APIConfig holds configuration for API server
type APIConfig struct {
	BaseConfig `mapstructure:",squash"`
	Server     ServerConfig   `mapstructure:"server"`
	Database   DatabaseConfig `mapstructure:"database"`
	Auth       AuthConfig     `mapstructure:"auth"`
	Ledger     LedgerConfig   `mapstructure:"ledger"`
	Anchor     AnchorConfig   `mapstructure:"anchor"`
	Transfer   TransferConfig `mapstructure:"transfer"`
}

// SweepConfig holds one periodic sweep's configuration
type SweepConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
}

// SweeperConfig holds configuration for the sweeper program
type SweeperConfig struct {
	BaseConfig         `mapstructure:",squash"`
	Database           DatabaseConfig `mapstructure:"database"`
	Ledger             LedgerConfig   `mapstructure:"ledger"`
	Anchor             AnchorConfig   `mapstructure:"anchor"`
	Transfer           TransferConfig `mapstructure:"transfer"`
	FinalitySweeper    SweepConfig    `mapstructure:"finality_sweeper"`
	AnchorSweeper      SweepConfig    `mapstructure:"anchor_sweeper"`
	AuditVerifySweeper SweepConfig    `mapstructure:"audit_verify_sweeper"`
}

func setDatabaseDefaults(v *viper.Viper) {
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
}

func setLedgerDefaults(v *viper.Viper) {
	v.SetDefault("ledger.channel", "land-registry-channel")
	v.SetDefault("ledger.timeout", "15s")
	v.SetDefault("ledger.height_ttl", "5s")
	v.SetDefault("ledger.height_stale_window", "1m")
}

func setAnchorDefaults(v *viper.Viper) {
	v.SetDefault("anchor.verified_cache_ttl", "1h")
	v.SetDefault("anchor.reconcile_after", "10m")
	v.SetDefault("anchor.broadcast_timeout", "30m")
	v.SetDefault("anchor.public_ledger.chain_id", 80002)
	v.SetDefault("anchor.public_ledger.confirm_timeout", "2m")
	v.SetDefault("anchor.public_ledger.poll_interval", "2s")
	v.SetDefault("anchor.rate_limit.redis_addr", "localhost:6379")
	v.SetDefault("anchor.rate_limit.requests_per_minute", 30)
	v.SetDefault("anchor.rate_limit.burst", 1)
	v.SetDefault("anchor.rate_limit.max_wait", "5m")
	v.SetDefault("anchor.rate_limit.redis_key_prefix", "title-registry:limiter:")
	v.SetDefault("anchor.rate_limit.enable_local_fallback", true)
	v.SetDefault("anchor.rate_limit.local_fallback_multiplier", 0.5)
}

func setNATSDefaults(v *viper.Viper) {
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.stream_name", "LEDGER_EVENTS")
}

// LoadLedgerEventEmitterConfig loads configuration for ledger-event-emitter
func LoadLedgerEventEmitterConfig(configFile string, envPath string) (*LedgerEventEmitterConfig, error) {
	v := configureViper("ledger-event-emitter", configFile, envPath)

	// Set defaults
	setDatabaseDefaults(v)
	setNATSDefaults(v)
	setLedgerDefaults(v)
	v.SetDefault("nats.connection_name", "ledger-event-emitter")
	v.SetDefault("emitter.poll_interval", "2s")
	v.SetDefault("emitter.batch_size", 100)

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var config LedgerEventEmitterConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Ledger.GatewayURL == "" {
		return nil, errors.New("ledger.gateway_url is required")
	}

	return &config, nil
}

// LoadEventBridgeConfig loads configuration for event-bridge
func LoadEventBridgeConfig(configFile string, envPath string) (*EventBridgeConfig, error) {
	v := configureViper("event-bridge", configFile, envPath)

	// Set defaults
	setDatabaseDefaults(v)
	setNATSDefaults(v)
	v.SetDefault("nats.consumer_name", "event-bridge")
	v.SetDefault("nats.connection_name", "event-bridge")
	v.SetDefault("nats.ack_wait", "30s")
	v.SetDefault("nats.max_deliver", 5)
	v.SetDefault("sync.ownership_workers", 8)
	v.SetDefault("sync.encumbrance_workers", 4)
	v.SetDefault("sync.dispute_workers", 4)
	v.SetDefault("sync.queue_size", 256)
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.retry_delay", "500ms")

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var config EventBridgeConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// LoadWorkerCoreConfig loads configuration for worker-core
func LoadWorkerCoreConfig(configFile string, envPath string) (*WorkerCoreConfig, error) {
	v := configureViper("worker-core", configFile, envPath)

	// Set defaults
	setDatabaseDefaults(v)
	setLedgerDefaults(v)
	setAnchorDefaults(v)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "title-registry")
	v.SetDefault("temporal.max_concurrent_activity_execution_size", 50)
	v.SetDefault("temporal.worker_activities_per_second", 50)
	v.SetDefault("temporal.max_concurrent_activity_task_pollers", 10)
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.poll_interval", "1s")
	v.SetDefault("outbox.lease", "1m")
	v.SetDefault("outbox.max_attempts", 10)
	v.SetDefault("outbox.initial_backoff", "1s")
	v.SetDefault("outbox.max_backoff", "5m")

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var config WorkerCoreConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Ledger.GatewayURL == "" {
		return nil, errors.New("ledger.gateway_url is required")
	}

	return &config, nil
}

// LoadAPIConfig loads configuration for API server
func LoadAPIConfig(configFile string, envPath string) (*APIConfig, error) {
	v := configureViper("api", configFile, envPath)

	// Set defaults
	v.SetDefault("debug", false)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.idle_timeout", 120)
	setDatabaseDefaults(v)
	setLedgerDefaults(v)
	setAnchorDefaults(v)
	v.SetDefault("transfer.cooling_period", "72h")

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var config APIConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// LoadSweeperConfig loads configuration for the sweeper program
func LoadSweeperConfig(configFile string, envPath string) (*SweeperConfig, error) {
	v := configureViper("sweeper", configFile, envPath)

	// Set defaults
	setDatabaseDefaults(v)
	setLedgerDefaults(v)
	setAnchorDefaults(v)
	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.conn_max_idle_time", "10m")
	v.SetDefault("transfer.cooling_period", "72h")
	v.SetDefault("finality_sweeper.interval", "1m")
	v.SetDefault("finality_sweeper.batch_size", 50)
	v.SetDefault("anchor_sweeper.interval", "5m")
	v.SetDefault("anchor_sweeper.batch_size", 20)
	v.SetDefault("audit_verify_sweeper.interval", "1h")

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg SweeperConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate required fields
	if cfg.Database.Host == "" {
		return nil, errors.New("database.host is required")
	}
	if cfg.Database.DBName == "" {
		return nil, errors.New("database.dbname is required")
	}

	return &cfg, nil
}

// readConfig reads the config file; a missing file leaves environment variables as the only source
func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// configureViper returns a viper instance with the config file and environment variables set
func configureViper(service string, configFile string, envPath string) *viper.Viper {
	v := viper.New()

	// Load environment variables
	loadEnv(envPath, service)

	// Set config file
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		// Search for config.yaml in multiple locations:
		// 1. Current directory
		v.AddConfigPath(".")
		// 2. Service-specific directory (e.g., cmd/sweeper/, cmd/api/)
		v.AddConfigPath(fmt.Sprintf("cmd/%s/", service))
		// 3. Config directory
		v.AddConfigPath("config/")
	}

	// Set environment variables
	v.SetEnvPrefix("TITLE_REGISTRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind all environment variables
	bindAllEnvVars(v)
	return v
}

// bindAllEnvVars explicitly binds all possible environment variables
// This is required for viper to map env vars to config struct fields when no config file exists
func bindAllEnvVars(v *viper.Viper) {
	commonKeys := []string{
		"debug",
		"sentry_dsn",
		// Database
		"database.host",
		"database.port",
		"database.read_host",
		"database.read_port",
		"database.user",
		"database.password",
		"database.dbname",
		"database.sslmode",
		"database.max_open_conns",
		"database.max_idle_conns",
		"database.conn_max_lifetime",
		"database.conn_max_idle_time",
		// NATS
		"nats.url",
		"nats.stream_name",
		"nats.consumer_name",
		"nats.max_reconnects",
		"nats.reconnect_wait",
		"nats.connection_name",
		"nats.ack_wait",
		"nats.max_deliver",
		// Ledger
		"ledger.gateway_url",
		"ledger.channel",
		"ledger.api_key",
		"ledger.timeout",
		"ledger.height_ttl",
		"ledger.height_stale_window",
		// Anchoring
		"anchor.verified_cache_ttl",
		"anchor.reconcile_after",
		"anchor.broadcast_timeout",
		"anchor.public_ledger.rpc_url",
		"anchor.public_ledger.chain_id",
		"anchor.public_ledger.private_key",
		"anchor.public_ledger.confirm_timeout",
		"anchor.public_ledger.poll_interval",
		"anchor.rate_limit.redis_addr",
		"anchor.rate_limit.redis_password",
		"anchor.rate_limit.redis_db",
		"anchor.rate_limit.requests_per_minute",
		"anchor.rate_limit.burst",
		"anchor.rate_limit.max_wait",
		"anchor.rate_limit.redis_key_prefix",
		"anchor.rate_limit.enable_local_fallback",
		"anchor.rate_limit.local_fallback_multiplier",
		// Temporal
		"temporal.host_port",
		"temporal.namespace",
		"temporal.task_queue",
		"temporal.max_concurrent_activity_execution_size",
		"temporal.worker_activities_per_second",
		"temporal.max_concurrent_activity_task_pollers",
		// Outbox
		"outbox.batch_size",
		"outbox.poll_interval",
		"outbox.lease",
		"outbox.max_attempts",
		"outbox.initial_backoff",
		"outbox.max_backoff",
		// Sync
		"sync.ownership_workers",
		"sync.encumbrance_workers",
		"sync.dispute_workers",
		"sync.queue_size",
		"sync.max_retries",
		"sync.retry_delay",
		// Transfer
		"transfer.cooling_period",
		// Server
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",
		"server.idle_timeout",
		"server.allowed_origins",
		// Auth
		"auth.jwt_public_key",
		"auth.api_keys",
		// Emitter
		"emitter.start_block",
		"emitter.poll_interval",
		"emitter.batch_size",
		// Sweepers
		"finality_sweeper.interval",
		"finality_sweeper.batch_size",
		"anchor_sweeper.interval",
		"anchor_sweeper.batch_size",
		"audit_verify_sweeper.interval",
	}

	for _, key := range commonKeys {
		_ = v.BindEnv(key)
	}
}

// loadEnv loads environment variables from the config directory
func loadEnv(envPath string, service string) {
	// Always try shared base first, then local, then optional per-service local.
	envFiles := []string{".env", ".env.local"}
	if service != "" {
		envFiles = append(envFiles, ".env."+service+".local")
	}

	// Default to config directory
	if envPath == "" {
		envPath = "config/"
	}

	for _, envFile := range envFiles {
		candidate := filepath.Join(envPath, envFile)
		_ = godotenv.Overload(candidate) // Overload lets later files override earlier ones
	}
}

// ChdirRepoRoot changes the current working directory to the repository root
func ChdirRepoRoot() {
	cwd, _ := os.Getwd()
	for range 5 {
		if _, err := os.Stat(filepath.Join(cwd, "config")); err == nil {
			_ = os.Chdir(cwd)
			return
		}
		cwd = filepath.Dir(cwd)
	}
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// ReadDSN returns the read-replica database connection string.
// If ReadPort is not configured, it falls back to Port.
func (c *DatabaseConfig) ReadDSN() string {
	port := c.ReadPort
	if port == 0 {
		port = c.Port
	}

	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.ReadHost, port, c.User, c.Password, c.DBName, c.SSLMode)
}
