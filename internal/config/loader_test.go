package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLoadUsesDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadReadsYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`database:
  host: db.internal
  port: 6543
server:
  addr: ":9090"
  readtimeout: 5s
cache:
  joinentries: 8
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), content, 0o600))
	t.Setenv("REPORTQL_DATABASE_PASSWORD", "s3cret")
	t.Setenv("REPORTQL_EXPORT_DIRECTORY", "/tmp/out")

	cfg, err := Load(dir, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, "s3cret", cfg.Database.Password)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 8, cfg.Cache.JoinEntries)
	assert.Equal(t, 256, cfg.Cache.ResultEntries)
	assert.Equal(t, "/tmp/out", cfg.Export.Directory)
}
