package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/metaphi-org/go-hit-counter/hitcounter"
	"github.com/metaphi-org/go-hit-counter/internal/config"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load(config.New())
	require.NoError(t, err)

	assert.Equal(t, ":5000", cfg.ListenAddr)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, config.StoreRedis, cfg.Store)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "hits", cfg.Counter.Key)
	assert.Equal(t, 5, cfg.Counter.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Counter.Backoff)
	assert.Equal(t, config.BackoffConstant, cfg.Counter.BackoffStrategy)
	assert.Empty(t, cfg.Counter.Windows)
	assert.Equal(t, "incr_count", cfg.DynamoDB.CountAttr)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("HITCOUNTER_REDIS_ADDR", "cache.internal:6380")
	t.Setenv("HITCOUNTER_COUNTER_MAX_RETRIES", "2")
	t.Setenv("HITCOUNTER_COUNTER_BACKOFF", "250ms")
	t.Setenv("HITCOUNTER_COUNTER_WINDOWS", "minute,hour")

	cfg, err := config.Load(config.New())
	require.NoError(t, err)

	assert.Equal(t, "cache.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Counter.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Counter.Backoff)

	granularities, err := cfg.Counter.Granularities()
	require.NoError(t, err)
	assert.Equal(t, []hitcounter.Granularity{hitcounter.GranularityMinute, hitcounter.GranularityHour}, granularities)
}

func TestLoadFlagsOverrideEnv(t *testing.T) {
	t.Setenv("HITCOUNTER_REDIS_ADDR", "from-env:6379")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(flags)
	require.NoError(t, flags.Parse([]string{"--redis-addr", "from-flag:6379", "--max-retries", "0"}))

	v := config.New()
	require.NoError(t, config.BindFlags(v, flags))

	cfg, err := config.Load(v)
	require.NoError(t, err)
	assert.Equal(t, "from-flag:6379", cfg.Redis.Addr)
	assert.Equal(t, 0, cfg.Counter.MaxRetries)
	assert.Equal(t, ":5000", cfg.ListenAddr, "unset flags fall back to defaults")
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hitcounter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store: dynamodb
dynamodb:
  table: page_views
  endpoint: http://localhost:8000
counter:
  key: views
  backoff_strategy: exponential
  windows: [day]
log:
  level: debug
  json: true
`), 0o600))

	v := config.New()
	v.Set("config", path)

	cfg, err := config.Load(v)
	require.NoError(t, err)
	assert.Equal(t, config.StoreDynamoDB, cfg.Store)
	assert.Equal(t, "page_views", cfg.DynamoDB.Table)
	assert.Equal(t, "http://localhost:8000", cfg.DynamoDB.Endpoint)
	assert.Equal(t, "pk", cfg.DynamoDB.PKAttr)
	assert.Equal(t, "views", cfg.Counter.Key)
	assert.Equal(t, config.BackoffExponential, cfg.Counter.BackoffStrategy)
	assert.Equal(t, []string{"day"}, cfg.Counter.Windows)
	assert.True(t, cfg.Log.JSON)
}

func TestLoadMissingConfigFile(t *testing.T) {
	v := config.New()
	v.Set("config", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := config.Load(v)
	assert.Error(t, err)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := config.Config{
		ListenAddr: ":5000",
		Store:      "memcached",
		Counter: config.CounterConfig{
			Key:             "",
			MaxRetries:      -1,
			BackoffStrategy: "fibonacci",
			Windows:         []string{"fortnight"},
		},
		Log: config.LogConfig{Level: "loud"},
	}

	err := cfg.Validate()
	require.Error(t, err)

	merr, ok := err.(*multierror.Error)
	require.True(t, ok)
	assert.Len(t, merr.Errors, 6)
	assert.Contains(t, err.Error(), `unknown store "memcached"`)
	assert.Contains(t, err.Error(), "counter.key must be set")
	assert.Contains(t, err.Error(), "counter.max_retries must not be negative")
	assert.Contains(t, err.Error(), `unknown granularity "fortnight"`)
}

func TestCounterOptions(t *testing.T) {
	cfg := config.CounterConfig{MaxRetries: 2, Backoff: time.Millisecond, BackoffStrategy: config.BackoffConstant}

	c := hitcounter.New(nil, cfg.Options()...)
	assert.Equal(t, 2, c.DefaultRetries())

	cfg.BackoffStrategy = config.BackoffExponential
	assert.Len(t, cfg.Options(), 2)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("HITCOUNTER_TEST_DOTENV=loaded\n"), 0o600))
	t.Setenv("HITCOUNTER_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("HITCOUNTER_TEST_DOTENV"))

	require.NoError(t, config.LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "loaded", os.Getenv("HITCOUNTER_TEST_DOTENV"))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := config.LogConfig{Level: "warn", JSON: true}.NewLogger("hitcounter", &buf)

	logger.Info("hidden")
	logger.Warn("shown", "key", "hits")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"@message":"shown"`)
	assert.Contains(t, buf.String(), `"key":"hits"`)
}
