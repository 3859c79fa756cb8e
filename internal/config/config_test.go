package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, yaml string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
local:
  enabled: true
  path: ./backups
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "backitup", cfg.Archive.Prefix)
	require.Equal(t, 6, cfg.Archive.Compression)
	require.True(t, cfg.Safety.VerifyChecksumBeforeDelete)
	require.Equal(t, filepath.Join(dir, "backups"), cfg.Local.Path)
	require.Equal(t, filepath.Join(dir, ".backitup/catalog.db"), cfg.Database.Path)
}

func TestLoad_RequiresADestination(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
local:
  enabled: false
remote:
  enabled: false
`)

	_, err := Load(path)
	require.ErrorContains(t, err, "at least one of local.enabled or remote.enabled")
}

func TestLoad_RemoteRequiresCredentials(t *testing.T) {
	for _, name := range []string{"S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"} {
		t.Setenv(name, "")
	}
	dir := t.TempDir()
	path := writeConfig(t, dir, `
remote:
  enabled: true
  bucket: my-bucket
`)

	_, err := Load(path)
	require.ErrorContains(t, err, "remote credentials are missing")
}

func TestLoad_ScheduleRetentionValidation(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
local:
  enabled: true
  path: ./backups
schedules:
  nightly:
    cron: "0 2 * * *"
    retention:
      max_count: 0
      max_days: 30
`)

	_, err := Load(path)
	require.ErrorContains(t, err, "retention.max_count must be greater than zero")
}

func TestLoad_ScheduleUnknownSource(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
local:
  enabled: true
  path: ./backups
sources:
  app:
    path: /tmp/app
schedules:
  nightly:
    cron: "0 2 * * *"
    retention:
      max_count: 7
      max_days: 30
    sources: ["missing"]
`)

	_, err := Load(path)
	require.ErrorContains(t, err, `unknown source "missing"`)
}

func TestEffectiveContainerStop_FallsBackToDefault(t *testing.T) {
	cfg := &Config{}
	got := cfg.EffectiveContainerStop(VolumeItemConfig{Name: "v1"})
	require.Equal(t, DefaultContainerStop, got)
}

func TestEffectiveContainerStop_PerVolumeOverridesGlobal(t *testing.T) {
	global := ContainerStopConfig{Stop: true, RestartRetries: 1}
	perVolume := ContainerStopConfig{Stop: false, RestartRetries: 9}
	cfg := &Config{Volumes: VolumesConfig{ContainerStop: &global}}

	got := cfg.EffectiveContainerStop(VolumeItemConfig{Name: "v1", ContainerStop: &perVolume})
	require.Equal(t, perVolume, got)
}
