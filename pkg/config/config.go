package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/edgeflare/tablerest/pkg/cache"
	"github.com/edgeflare/tablerest/pkg/query"
	"github.com/edgeflare/tablerest/pkg/ratelimit"
)

const EnvPrefix = "TABLEREST"

// Config holds application-wide configuration
type Config struct {
	REST    RESTConfig    `mapstructure:"rest"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type RESTConfig struct {
	ListenAddr       string          `mapstructure:"listenAddr"`
	BaseURL          string          `mapstructure:"baseURL"`
	DB               DBConfig        `mapstructure:"db"`
	MaxLimit         int             `mapstructure:"maxLimit"`
	DefaultLimit     int             `mapstructure:"defaultLimit"`
	MaxOffset        int             `mapstructure:"maxOffset"`
	StrictOffset     bool            `mapstructure:"strictOffset"`
	StatementTimeout time.Duration   `mapstructure:"statementTimeout"`
	MaxConnections   int             `mapstructure:"maxConnections"`
	Cache            CacheConfig     `mapstructure:"cache"`
	RateLimit        RateLimitConfig `mapstructure:"rateLimit"`
}

type DBConfig struct {
	// Driver is one of postgres, mysql, clickhouse or duckdb.
	Driver     string   `mapstructure:"driver"`
	ConnString string   `mapstructure:"connString"`
	Schemas    []string `mapstructure:"schemas"`
}

type CacheConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"maxEntries"`
	// RedisURL selects the shared Redis cache; empty keeps entries in memory.
	RedisURL string `mapstructure:"redisURL"`
}

type RateLimitConfig struct {
	Enabled                bool `mapstructure:"enabled"`
	ratelimit.PolicyConfig `mapstructure:",squash"`
	RedisURL               string `mapstructure:"redisURL"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// QueryOptions returns the pagination bounds.
func (c RESTConfig) QueryOptions() query.Options {
	return query.Options{
		DefaultLimit: c.DefaultLimit,
		MaxLimit:     c.MaxLimit,
		MaxOffset:    c.MaxOffset,
		StrictOffset: c.StrictOffset,
	}
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.REST.DB.Driver {
	case "postgres", "mysql", "clickhouse", "duckdb":
	default:
		errs = append(errs, fmt.Errorf("rest.db.driver: unsupported driver %q", c.REST.DB.Driver))
	}
	if c.REST.MaxLimit < 1 {
		errs = append(errs, errors.New("rest.maxLimit must be at least 1"))
	}
	if c.REST.DefaultLimit < 1 || c.REST.DefaultLimit > c.REST.MaxLimit {
		errs = append(errs, fmt.Errorf("rest.defaultLimit must be between 1 and rest.maxLimit (%d)", c.REST.MaxLimit))
	}
	if c.REST.MaxOffset < 0 {
		errs = append(errs, errors.New("rest.maxOffset must not be negative"))
	}
	if c.REST.StatementTimeout <= 0 {
		errs = append(errs, errors.New("rest.statementTimeout must be positive"))
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	defaults := query.DefaultOptions()
	policy := ratelimit.DefaultPolicyConfig()

	v.SetDefault("rest.listenAddr", ":8080")
	v.SetDefault("rest.baseURL", "")
	v.SetDefault("rest.db.driver", "postgres")
	v.SetDefault("rest.db.connString", "")
	v.SetDefault("rest.db.schemas", []string{"public"})
	v.SetDefault("rest.maxLimit", defaults.MaxLimit)
	v.SetDefault("rest.defaultLimit", defaults.DefaultLimit)
	v.SetDefault("rest.maxOffset", defaults.MaxOffset)
	v.SetDefault("rest.strictOffset", defaults.StrictOffset)
	v.SetDefault("rest.statementTimeout", 10*time.Second)
	v.SetDefault("rest.maxConnections", 256)

	v.SetDefault("rest.cache.enabled", true)
	v.SetDefault("rest.cache.ttl", cache.DefaultTTL)
	v.SetDefault("rest.cache.maxEntries", cache.DefaultMaxEntries)
	v.SetDefault("rest.cache.redisURL", "")

	v.SetDefault("rest.rateLimit.enabled", true)
	v.SetDefault("rest.rateLimit.listing.requests", policy.Listing.Requests)
	v.SetDefault("rest.rateLimit.listing.window", policy.Listing.Window)
	v.SetDefault("rest.rateLimit.data.requests", policy.Data.Requests)
	v.SetDefault("rest.rateLimit.data.window", policy.Data.Window)
	v.SetDefault("rest.rateLimit.hourly", policy.Hourly)
	v.SetDefault("rest.rateLimit.daily", policy.Daily)
	v.SetDefault("rest.rateLimit.redisURL", "")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9100")
}

// New returns a viper instance carrying every default and reading
// TABLEREST_-prefixed environment variables, e.g. TABLEREST_REST_DB_CONNSTRING.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads config from file or environment into v. With an empty cfgFile,
// tablerest.yaml is looked up in $HOME/.config and the working directory and
// may be absent.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("tablerest")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config"))
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Version is set at build time with -ldflags "-X github.com/edgeflare/tablerest/pkg/config.Version=...".
var Version = "dev"
