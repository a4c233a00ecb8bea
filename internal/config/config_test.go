package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 50, cfg.Site.PageSize)
	assert.Equal(t, 8, cfg.Logic.PageWorkers)
	assert.Equal(t, 4, cfg.Logic.FacetWorkers)
	assert.Equal(t, "https://www.marchespublics.gov.ma/bdc/entreprise/consultation/resultat", cfg.Site.SearchURL())
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Logic.MaxRetries)
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
site:
  category: "2"
logic:
  backoff: exponential
  page_workers: 2
storage:
  data_dir: /tmp/awards
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "2", cfg.Site.Category)
	assert.Equal(t, "exponential", cfg.Logic.Backoff)
	assert.Equal(t, 2, cfg.Logic.PageWorkers)
	assert.Equal(t, 4, cfg.Logic.FacetWorkers)
	assert.Equal(t, "/tmp/awards", cfg.Storage.DataDir)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("SPIDER_PAGE_WORKERS", "3")
	t.Setenv("PG_DSN", "postgres://u:p@localhost:5432/awards")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Logic.PageWorkers)
	assert.True(t, cfg.DB.Postgres.Enabled)
	assert.True(t, cfg.DB.Redis.Enabled)
	assert.Equal(t, "awards:", cfg.DB.Redis.Prefix)
}

func TestLoadConfig_BadEnvInt(t *testing.T) {
	t.Setenv("SPIDER_MAX_RETRIES", "many")
	_, err := LoadConfig("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SPIDER_MAX_RETRIES")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SpiderConfig)
	}{
		{"zero page size", func(c *SpiderConfig) { c.Site.PageSize = 0 }},
		{"unknown backoff", func(c *SpiderConfig) { c.Logic.Backoff = "linear" }},
		{"inverted delay", func(c *SpiderConfig) { c.Logic.MaxDelayMS = 100 }},
		{"no workers", func(c *SpiderConfig) { c.Logic.PageWorkers = 0 }},
		{"mongo without uri", func(c *SpiderConfig) { c.DB.Mongo.Enabled = true }},
		{"redis without url", func(c *SpiderConfig) { c.DB.Redis.Enabled = true }},
		{"bad format", func(c *SpiderConfig) { c.Storage.Format = "csv" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
