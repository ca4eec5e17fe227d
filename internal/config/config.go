package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/Rrens/intel-chat/internal/blend"
	"github.com/Rrens/intel-chat/internal/broker"
	"github.com/Rrens/intel-chat/internal/composer"
	"github.com/Rrens/intel-chat/internal/provider/elastic"
	"github.com/Rrens/intel-chat/internal/provider/gemini"
	"github.com/Rrens/intel-chat/internal/provider/mongo"
	"github.com/Rrens/intel-chat/internal/provider/sqlsource"
	"github.com/Rrens/intel-chat/internal/provider/websearch"
	"github.com/Rrens/intel-chat/internal/session"
	"github.com/Rrens/intel-chat/internal/transport"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Database  DatabaseConfig   `mapstructure:"database"`
	Redis     RedisConfig      `mapstructure:"redis"`
	Auth      AuthConfig       `mapstructure:"auth"`
	Security  SecurityConfig   `mapstructure:"security"`
	Logging   LoggingConfig    `mapstructure:"logging"`
	Metrics   MetricsConfig    `mapstructure:"metrics"`
	Session   session.Config   `mapstructure:"session"`
	Transport transport.Config `mapstructure:"transport"`
	Broker    broker.Config    `mapstructure:"broker"`
	Blend     blend.Config     `mapstructure:"blend"`
	Composer  composer.Config  `mapstructure:"composer"`
	Providers ProvidersConfig  `mapstructure:"providers"`
}

type ServerConfig struct {
	Env             string        `mapstructure:"env"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsProduction reports whether the server runs with production defaults
func (c ServerConfig) IsProduction() bool {
	return c.Env == "production"
}

type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type AuthConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	Issuer         string        `mapstructure:"issuer"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

type SecurityConfig struct {
	AllowedOrigins []string        `mapstructure:"allowed_origins"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

type LoggingConfig struct {
	Level        string        `mapstructure:"level"`
	Format       string        `mapstructure:"format"`
	File         string        `mapstructure:"file"`
	MaxAge       time.Duration `mapstructure:"max_age"`
	RotationTime time.Duration `mapstructure:"rotation_time"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// ProvidersConfig lists the context providers to register with the broker.
// A provider without credentials or addresses stays unregistered.
type ProvidersConfig struct {
	Cache     ProviderCacheConfig `mapstructure:"cache"`
	Elastic   elastic.Config      `mapstructure:"elastic"`
	SQL       []sqlsource.Config  `mapstructure:"sql"`
	Mongo     mongo.Config        `mapstructure:"mongo"`
	WebSearch websearch.Config    `mapstructure:"web_search"`
	Gemini    gemini.Config       `mapstructure:"gemini"`
}

type ProviderCacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// no file: defaults and env vars only
	}

	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.env", "development")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "15s")

	// Database
	v.SetDefault("database.enabled", true)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "intelchat")
	v.SetDefault("database.database", "intelchat")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)

	// Redis
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// Auth
	v.SetDefault("auth.issuer", "intel-chat")
	v.SetDefault("auth.access_token_ttl", "15m")

	// Security
	v.SetDefault("security.rate_limit.enabled", true)
	v.SetDefault("security.rate_limit.requests_per_minute", 20)
	v.SetDefault("security.rate_limit.burst", 5)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.max_age", "168h")
	v.SetDefault("logging.rotation_time", "24h")

	// Metrics
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Session
	sess := session.DefaultConfig()
	v.SetDefault("session.reconnect_grace", sess.ReconnectGrace)
	v.SetDefault("session.idle_timeout", sess.IdleTimeout)
	v.SetDefault("session.sweep_interval", sess.SweepInterval)
	v.SetDefault("session.max_history", sess.MaxHistory)

	// Transport
	tr := transport.DefaultConfig()
	v.SetDefault("transport.heartbeat_interval", tr.HeartbeatInterval)
	v.SetDefault("transport.write_timeout", tr.WriteTimeout)
	v.SetDefault("transport.max_frame_bytes", tr.MaxFrameBytes)
	v.SetDefault("transport.send_buffer", tr.SendBuffer)

	// Broker
	br := broker.DefaultConfig()
	v.SetDefault("broker.provider_timeout", br.ProviderTimeout)
	v.SetDefault("broker.aggregate_timeout", br.AggregateTimeout)
	v.SetDefault("broker.provider_limit", br.ProviderLimit)

	// Blend
	bl := blend.DefaultConfig()
	v.SetDefault("blend.top_n", bl.TopN)
	v.SetDefault("blend.weights", bl.Weights)
	v.SetDefault("blend.quality_base", bl.QualityBase)
	v.SetDefault("blend.quality_divisor", bl.QualityDivisor)

	// Composer; rules fall back to the built-in table when unset
	v.SetDefault("composer.max_actions", composer.DefaultConfig().MaxActions)

	// Providers
	v.SetDefault("providers.cache.enabled", true)
	v.SetDefault("providers.cache.ttl", "5m")
	v.SetDefault("providers.elastic.index", "knowledge")
	v.SetDefault("providers.web_search.timeout", "5s")
	v.SetDefault("providers.gemini.model", "gemini-2.5-flash")
}

func bindEnvVars(v *viper.Viper) {
	v.BindEnv("server.env", "ENV")

	// Database
	v.BindEnv("database.password", "POSTGRES_PASSWORD")

	// Redis
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Auth
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")

	// Provider credentials
	v.BindEnv("providers.elastic.password", "ELASTICSEARCH_PASSWORD")
	v.BindEnv("providers.mongo.uri", "MONGO_URI")
	v.BindEnv("providers.web_search.api_key", "SEARCH_API_KEY")
	v.BindEnv("providers.web_search.engine_id", "SEARCH_ENGINE_ID")
	v.BindEnv("providers.gemini.api_key", "GEMINI_API_KEY")
}
