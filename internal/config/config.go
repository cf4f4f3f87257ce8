// Package config loads the hit counter service configuration from flags,
// HITCOUNTER_* environment variables, an optional config file and defaults.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/metaphi-org/go-hit-counter/hitcounter"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "HITCOUNTER"

const (
	StoreRedis    = "redis"
	StoreDynamoDB = "dynamodb"

	BackoffConstant    = "constant"
	BackoffExponential = "exponential"
)

// Upper bound for the exponential backoff strategy.
const maxExponentialBackoff = 10 * time.Second

type Config struct {
	ListenAddr      string         `mapstructure:"listen_addr"`
	ShutdownTimeout time.Duration  `mapstructure:"shutdown_timeout"`
	Store           string         `mapstructure:"store"`
	Redis           RedisConfig    `mapstructure:"redis"`
	DynamoDB        DynamoDBConfig `mapstructure:"dynamodb"`
	Counter         CounterConfig  `mapstructure:"counter"`
	Log             LogConfig      `mapstructure:"log"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type DynamoDBConfig struct {
	Table     string `mapstructure:"table"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	PKAttr    string `mapstructure:"pk_attr"`
	CountAttr string `mapstructure:"count_attr"`
	TTLAttr   string `mapstructure:"ttl_attr"`
}

type CounterConfig struct {
	Key             string        `mapstructure:"key"`
	MaxRetries      int           `mapstructure:"max_retries"`
	Backoff         time.Duration `mapstructure:"backoff"`
	BackoffStrategy string        `mapstructure:"backoff_strategy"`
	Windows         []string      `mapstructure:"windows"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

var defaults = map[string]any{
	"config":                   "",
	"listen_addr":              ":5000",
	"shutdown_timeout":         5 * time.Second,
	"store":                    StoreRedis,
	"redis.addr":               "redis:6379",
	"redis.password":           "",
	"redis.db":                 0,
	"dynamodb.table":           "hit_counter",
	"dynamodb.endpoint":        "",
	"dynamodb.region":          "",
	"dynamodb.pk_attr":         "pk",
	"dynamodb.count_attr":      "incr_count",
	"dynamodb.ttl_attr":        "ttl",
	"counter.key":              "hits",
	"counter.max_retries":      hitcounter.DefaultMaxRetries,
	"counter.backoff":          hitcounter.DefaultBackoff,
	"counter.backoff_strategy": BackoffConstant,
	"counter.windows":          []string{},
	"log.level":                "info",
	"log.json":                 false,
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"config":            "config",
	"listen-addr":       "listen_addr",
	"shutdown-timeout":  "shutdown_timeout",
	"store":             "store",
	"redis-addr":        "redis.addr",
	"redis-password":    "redis.password",
	"redis-db":          "redis.db",
	"dynamodb-table":    "dynamodb.table",
	"dynamodb-endpoint": "dynamodb.endpoint",
	"counter-key":       "counter.key",
	"max-retries":       "counter.max_retries",
	"backoff":           "counter.backoff",
	"backoff-strategy":  "counter.backoff_strategy",
	"windows":           "counter.windows",
	"log-level":         "log.level",
	"log-json":          "log.json",
}

// New returns a viper instance with defaults and environment binding in place.
func New() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// RegisterFlags adds the configuration flags to flags.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Path to a YAML config file. Env: HITCOUNTER_CONFIG")
	flags.String("listen-addr", ":5000", "HTTP listen address. Env: HITCOUNTER_LISTEN_ADDR")
	flags.Duration("shutdown-timeout", 5*time.Second, "Graceful shutdown timeout. Env: HITCOUNTER_SHUTDOWN_TIMEOUT")
	flags.String("store", StoreRedis, "Counter datastore (redis, dynamodb). Env: HITCOUNTER_STORE")
	flags.String("redis-addr", "redis:6379", "Redis address. Env: HITCOUNTER_REDIS_ADDR")
	flags.String("redis-password", "", "Redis password. Env: HITCOUNTER_REDIS_PASSWORD")
	flags.Int("redis-db", 0, "Redis database. Env: HITCOUNTER_REDIS_DB")
	flags.String("dynamodb-table", "hit_counter", "DynamoDB table. Env: HITCOUNTER_DYNAMODB_TABLE")
	flags.String("dynamodb-endpoint", "", "DynamoDB endpoint override, e.g. for DynamoDB local. Env: HITCOUNTER_DYNAMODB_ENDPOINT")
	flags.String("counter-key", "hits", "Key of the page view counter. Env: HITCOUNTER_COUNTER_KEY")
	flags.Int("max-retries", hitcounter.DefaultMaxRetries, "Retries on transient datastore failures. Env: HITCOUNTER_COUNTER_MAX_RETRIES")
	flags.Duration("backoff", hitcounter.DefaultBackoff, "Pause between retries. Env: HITCOUNTER_COUNTER_BACKOFF")
	flags.String("backoff-strategy", BackoffConstant, "Backoff strategy (constant, exponential). Env: HITCOUNTER_COUNTER_BACKOFF_STRATEGY")
	flags.StringSlice("windows", nil, "Windowed counters to keep (second, minute, hour, day, week, month). Env: HITCOUNTER_COUNTER_WINDOWS")
	flags.String("log-level", "info", "Log level (trace, debug, info, warn, error). Env: HITCOUNTER_LOG_LEVEL")
	flags.Bool("log-json", false, "Log as JSON. Env: HITCOUNTER_LOG_JSON")
}

// BindFlags binds flags registered with RegisterFlags to v. Only flags set on the
// command line take precedence over the environment and the config file.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("binding %s flag: %w", name, err)
		}
	}
	return nil
}

// LoadDotEnv loads environment variables from .env style files. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", path, err)
		}
	}
	return nil
}

// Load reads the config file if one is set and decodes and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs *multierror.Error

	if c.ListenAddr == "" {
		errs = multierror.Append(errs, errors.New("listen_addr must be set"))
	}

	switch c.Store {
	case StoreRedis:
		if c.Redis.Addr == "" {
			errs = multierror.Append(errs, errors.New("redis.addr must be set"))
		}
	case StoreDynamoDB:
		if c.DynamoDB.Table == "" {
			errs = multierror.Append(errs, errors.New("dynamodb.table must be set"))
		}
		if c.DynamoDB.PKAttr == "" || c.DynamoDB.CountAttr == "" || c.DynamoDB.TTLAttr == "" {
			errs = multierror.Append(errs, errors.New("dynamodb attribute names must be set"))
		}
	default:
		errs = multierror.Append(errs, fmt.Errorf("unknown store %q", c.Store))
	}

	if c.Counter.Key == "" {
		errs = multierror.Append(errs, errors.New("counter.key must be set"))
	}
	if c.Counter.MaxRetries < 0 {
		errs = multierror.Append(errs, fmt.Errorf("counter.max_retries must not be negative, got %d", c.Counter.MaxRetries))
	}
	if c.Counter.Backoff < 0 {
		errs = multierror.Append(errs, fmt.Errorf("counter.backoff must not be negative, got %s", c.Counter.Backoff))
	}
	if c.Counter.BackoffStrategy != BackoffConstant && c.Counter.BackoffStrategy != BackoffExponential {
		errs = multierror.Append(errs, fmt.Errorf("unknown counter.backoff_strategy %q", c.Counter.BackoffStrategy))
	}
	if _, err := c.Counter.Granularities(); err != nil {
		errs = multierror.Append(errs, err)
	}

	if hclog.LevelFromString(c.Log.Level) == hclog.NoLevel {
		errs = multierror.Append(errs, fmt.Errorf("unknown log.level %q", c.Log.Level))
	}

	return errs.ErrorOrNil()
}

// Granularities parses the configured windows.
func (c CounterConfig) Granularities() ([]hitcounter.Granularity, error) {
	granularities := make([]hitcounter.Granularity, 0, len(c.Windows))
	for _, w := range c.Windows {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		g, err := hitcounter.ParseGranularity(w)
		if err != nil {
			return nil, fmt.Errorf("counter.windows: %w", err)
		}
		granularities = append(granularities, g)
	}
	return granularities, nil
}

// Options turns the counter settings into hitcounter options.
func (c CounterConfig) Options() []hitcounter.Option {
	opts := []hitcounter.Option{hitcounter.WithDefaultRetries(c.MaxRetries)}
	if c.BackoffStrategy == BackoffExponential {
		return append(opts, hitcounter.WithExponentialBackOff(c.Backoff, maxExponentialBackoff))
	}
	return append(opts, hitcounter.WithConstantBackOff(c.Backoff))
}

// NewLogger builds the root logger.
func (c LogConfig) NewLogger(name string, w io.Writer) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      hclog.LevelFromString(c.Level),
		Output:     w,
		JSONFormat: c.JSON,
	})
}
