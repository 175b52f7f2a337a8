package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 90*24*time.Hour, cfg.Threshold())
	assert.False(t, cfg.Feed.Enabled())
}

func TestParse_OverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
archival_threshold_days: 30
chunk_size: 200
backoff:
  base: 500ms
  factor: 3
hot:
  driver: dynamodb
  table: records
  region: eu-west-1
cold:
  driver: gcs
  bucket: archive
  prefix: v1/
cache:
  driver: redis
  address: localhost:6379
feed:
  brokers: [localhost:9092]
  topic: record-writes
  group_id: coldline
`))
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.ArchivalThresholdDays)
	assert.Equal(t, 200, cfg.ChunkSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Backoff.Base)
	assert.Equal(t, 3.0, cfg.Backoff.Factor)
	assert.Equal(t, 30*time.Second, cfg.Backoff.Cap, "unset fields keep defaults")
	assert.Equal(t, "records", cfg.Hot.Table)
	assert.Equal(t, "archive", cfg.Cold.Bucket)
	assert.Equal(t, "redis", cfg.Cache.Driver)
	assert.True(t, cfg.Feed.Enabled())
}

func TestParse_EmptyDocumentUsesDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_UnknownField(t *testing.T) {
	_, err := Parse([]byte("chunk_sise: 10\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestValidate_Violations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"chunk size too large", func(c *Config) { c.ChunkSize = 2000 }, "chunk_size"},
		{"chunk size zero", func(c *Config) { c.ChunkSize = 0 }, "chunk_size"},
		{"no workers", func(c *Config) { c.MaxConcurrentWorkers = 0 }, "max_concurrent_workers"},
		{"jitter above one", func(c *Config) { c.Backoff.Jitter = 1.5 }, "backoff.jitter"},
		{"jitter of one", func(c *Config) { c.Backoff.Jitter = 1 }, "backoff.jitter"},
		{"no jitter", func(c *Config) { c.Backoff.Jitter = 0 }, "backoff.jitter"},
		{"negative duration", func(c *Config) { c.CacheTTL = -time.Second }, "cache_ttl"},
		{"unknown hot driver", func(c *Config) { c.Hot.Driver = "mysql" }, "hot.driver"},
		{"dynamodb without table", func(c *Config) { c.Hot = Hot{Driver: "dynamodb"} }, "hot.table"},
		{"gcs without bucket", func(c *Config) { c.Cold = Cold{Driver: "gcs"} }, "cold.bucket"},
		{"redis without address", func(c *Config) { c.Cache.Driver = "redis" }, "cache.address"},
		{"feed without topic", func(c *Config) { c.Feed.Brokers = []string{"k:9092"} }, "feed.topic"},
		{"bad scan name", func(c *Config) { c.Scan.Name = "a b" }, "scan.name"},
		{"no state db", func(c *Config) { c.StateDB = "" }, "state_db"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			require.NotEmpty(t, verr.Fields)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coldline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chunk_size: 50\nstate_db: /var/lib/coldline/state.db\n"), 0644))

	t.Setenv("COLDLINE_REDIS_ADDR", "cache:6379")
	t.Setenv("COLDLINE_KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("COLDLINE_KAFKA_TOPIC", "writes")
	t.Setenv("COLDLINE_KAFKA_GROUP_ID", "coldline")
	t.Setenv("COLDLINE_STATE_DB", "/tmp/state.db")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.ChunkSize)
	assert.Equal(t, "redis", cfg.Cache.Driver)
	assert.Equal(t, "cache:6379", cfg.Cache.Address)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Feed.Brokers)
	assert.Equal(t, "/tmp/state.db", cfg.StateDB, "environment wins over the file")
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("COLDLINE_REDIS_DB", "zero")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COLDLINE_REDIS_DB")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestApplyEnv_OnlySetVariables(t *testing.T) {
	cfg := Default()
	env := map[string]string{"COLDLINE_COLD_DRIVER": "gcs", "COLDLINE_COLD_BUCKET": "b"}
	require.NoError(t, ApplyEnv(cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))
	assert.Equal(t, "gcs", cfg.Cold.Driver)
	assert.Equal(t, "b", cfg.Cold.Bucket)
	assert.Equal(t, "sqlite", cfg.Hot.Driver)
	assert.Contains(t, EnvNames(), "COLDLINE_HOT_PATH")
}
