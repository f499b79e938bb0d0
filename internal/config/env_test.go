package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("OFFICE_PORT", "")
	t.Setenv("OFFICE_TIMEOUT", "")
	t.Setenv("SERVER_MAX_INFLIGHT", "")

	cfg := FromEnv()
	assert.Zero(t, cfg.Server.MaxInflight, "callers queue on the session by default")
	assert.Equal(t, 4062, cfg.Office.Port)
	assert.Equal(t, 600*time.Second, cfg.Office.Timeout)
	assert.Equal(t, "x2t", cfg.X2T.Binary)
	assert.Empty(t, cfg.Cache.RedisURL)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("OFFICE_PORT", "2002")
	t.Setenv("OFFICE_TIMEOUT", "45s")
	t.Setenv("OFFICE_ZIP", "yes")
	t.Setenv("AXIOM_DATASET", "prod")
	t.Setenv("CACHE_TTL", "not-a-duration")

	cfg := FromEnv()
	assert.Equal(t, 2002, cfg.Office.Port)
	assert.Equal(t, 45*time.Second, cfg.Office.Timeout)
	assert.True(t, cfg.Office.Zip)
	assert.Equal(t, "prod_docbroker", cfg.Axiom.Dataset)
	assert.Equal(t, time.Hour, cfg.Cache.TTL, "invalid duration keeps default")
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docbroker.yaml")
	content := `
work:
  base_dir: /srv/docbroker
office:
  port: 3000
  timeout: 90s
x2t:
  binary: /opt/onlyoffice/x2t
  env:
    LD_LIBRARY_PATH: /opt/onlyoffice
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("OFFICE_PORT", "3001")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/docbroker", cfg.Work.BaseDir)
	assert.Equal(t, 3001, cfg.Office.Port, "environment wins over file")
	assert.Equal(t, 90*time.Second, cfg.Office.Timeout)
	assert.Equal(t, "/opt/onlyoffice/x2t", cfg.X2T.Binary)
	assert.Equal(t, "/opt/onlyoffice", cfg.X2T.Env["LD_LIBRARY_PATH"])
	assert.Equal(t, "identify", cfg.ImageMagick.IdentifyBinary, "unset keys keep defaults")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
