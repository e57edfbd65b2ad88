package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Bucket = "charts"
	require.NoError(t, cfg.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
staging:
  root: /tmp/staging
store:
  type: local
fulfilment:
  size_threshold_mb: 100
  workers: 8
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "/tmp/staging", cfg.Staging.Root)
	assert.Equal(t, "local", cfg.Store.Type)
	assert.Equal(t, 8, cfg.Fulfilment.Workers)
	assert.Equal(t, int64(100*1024*1024), cfg.SizeThresholdBytes())

	// Unset paths are derived from the staging root.
	assert.Equal(t, "/tmp/catalogue", cfg.Staging.CatalogueDir)
	assert.Equal(t, "/tmp/store", cfg.Store.Path)
	assert.Equal(t, "/tmp/jobs", cfg.Fulfilment.JobStorePath)
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("FSS_BUCKET", "charts-prod")
	path := writeConfig(t, `
staging:
  root: /tmp/staging
store:
  type: s3
  bucket: ${FSS_BUCKET}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "charts-prod", cfg.Store.Bucket)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing addr", func(c *Config) { c.Server.Addr = "" }},
		{"missing staging root", func(c *Config) { c.Staging.Root = "" }},
		{"s3 without bucket", func(c *Config) { c.Store.Type = "s3"; c.Store.Bucket = "" }},
		{"unknown store type", func(c *Config) { c.Store.Type = "ftp" }},
		{"zero size threshold", func(c *Config) { c.Fulfilment.SizeThresholdMB = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Store.Bucket = "charts"
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestBlockSizeBytes(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, int64(4*1024*1024), cfg.BlockSizeBytes())
}
