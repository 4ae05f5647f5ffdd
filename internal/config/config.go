package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"golang.org/x/text/language"
)

func init() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
}

// Config is the process configuration, read once from the environment.
type Config struct {
	Server ServerConfig
	App    AppConfig
	Store  StoreConfig
	Cache  CacheConfig
	Decay  DecayConfig
}

// ServerConfig covers the HTTP listener.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
	AllowedOrigins  []string      `envconfig:"SERVER_ALLOWED_ORIGINS" default:"*"`
}

// AppConfig identifies the build and picks the collation locale.
type AppConfig struct {
	Name        string `envconfig:"APP_NAME" default:"pantry-api"`
	Environment string `envconfig:"APP_ENV" default:"development"`
	Debug       bool   `envconfig:"APP_DEBUG" default:"false"`
	Version     string `envconfig:"APP_VERSION" default:"1.0.0"`
	Locale      string `envconfig:"APP_LOCALE" default:"en"` // BCP 47 tag for ingredient name ordering
}

// StoreConfig holds SQLite settings and optional asset overrides.
type StoreConfig struct {
	Path         string        `envconfig:"STORE_PATH" default:"./data/pantry.db"`
	BusyTimeout  time.Duration `envconfig:"STORE_BUSY_TIMEOUT" default:"5s"`
	MaxOpenConns int           `envconfig:"STORE_MAX_OPEN_CONNS" default:"4"`
	RegistryFile string        `envconfig:"STORE_REGISTRY_FILE" default:""` // empty = embedded registry
	CatalogFile  string        `envconfig:"STORE_SEED_CATALOG_FILE" default:""`
	InitTimeout  time.Duration `envconfig:"STORE_INIT_TIMEOUT" default:"2m"`
}

// CacheConfig selects where grouped listings are cached.
type CacheConfig struct {
	Type string        `envconfig:"CACHE_TYPE" default:"memory"` // memory or redis
	TTL  time.Duration `envconfig:"CACHE_TTL" default:"5m"`

	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	KeyPrefix     string `envconfig:"CACHE_KEY_PREFIX" default:"pantry:"`
}

// DecayConfig controls the background confidence decay sweep.
type DecayConfig struct {
	Enabled  bool          `envconfig:"DECAY_ENABLED" default:"true"`
	Interval time.Duration `envconfig:"DECAY_INTERVAL" default:"6h"`
}

// Address is the listen address.
func (s *ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

func (c *CacheConfig) RedisAddress() string {
	return net.JoinHostPort(c.RedisHost, strconv.Itoa(c.RedisPort))
}

// IsProduction disables fallbacks that would hide a misconfigured dependency.
func (a *AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

// LanguageTag parses Locale, falling back to English.
func (a *AppConfig) LanguageTag() language.Tag {
	tag, err := language.Parse(a.Locale)
	if err != nil {
		return language.English
	}
	return tag
}

// Load reads and validates the configuration.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Cache.Type != "memory" && cfg.Cache.Type != "redis" {
		return nil, fmt.Errorf("failed to load config: unknown CACHE_TYPE %q", cfg.Cache.Type)
	}

	return &cfg, nil
}

// MustLoad is Load for main; it panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
