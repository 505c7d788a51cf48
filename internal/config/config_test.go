package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
	require.Equal(t, defaultPort, cfg.Transport.Port)
	require.Equal(t, defaultStagingDir, cfg.Staging.Dir)
}

func TestLoadParsesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broker.toml")

	contents := `
[transport]
port = 9000

[staging]
dir = "/var/lib/broker/staging"

[downstream]
url = "https://store.example.com/upload"
token = "s3cr3t"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9000, cfg.Transport.Port)
	require.Equal(t, "/var/lib/broker/staging", cfg.Staging.Dir)
	require.Equal(t, "https://store.example.com/upload", cfg.Downstream.URL)

	// Unset keys keep their defaults.
	require.Equal(t, defaultDownloadsDir, cfg.Staging.DownloadsDir)
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Transport.Port = 0

	err := Validate(cfg)
	require.Error(t, err)
}

func TestValidateRejectsDownstreamURLWithoutCredentials(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Downstream.URL = "https://store.example.com"

	err := Validate(cfg)
	require.Error(t, err)
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := DefaultConfig()

	t.Setenv(EnvDownstreamURL, "https://env.example.com")
	t.Setenv(EnvStagingDir, "/tmp/env-staging")

	ApplyEnvOverrides(cfg)

	require.Equal(t, "https://env.example.com", cfg.Downstream.URL)
	require.Equal(t, "/tmp/env-staging", cfg.Staging.Dir)
}
