package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "me", cfg.Gmail.User)
	assert.Equal(t, int64(500), cfg.Gmail.MaxResults)
	assert.Equal(t, 60, cfg.Gmail.BootstrapDays)
	assert.Equal(t, 30*time.Second, cfg.Gmail.CallTimeout)
	assert.Equal(t, "NoFit", cfg.Rules.FallbackLabel)
	assert.False(t, cfg.Executor.DryRun)
	assert.Equal(t, 60*time.Second, cfg.Analysis.Timeout)
	assert.Equal(t, "triage", cfg.NATS.SubjectPrefix)
	assert.Zero(t, cfg.Server.ScheduleInterval)
	assert.Equal(t, filepath.Join("data", "triage.db"), cfg.Paths.Journal())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoadFileEnvAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
gmail:
  bootstrap_days: 14
rules:
  archive_newsletters: true
server:
  schedule_interval: 15m
executor:
  dry_run: false
`), 0o600))

	t.Setenv("INBOX_TRIAGE_NATS_URL", "nats://localhost:4222")
	t.Setenv("ANTHROPIC_API_KEY", "sk-env")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--dry-run", "--log-level=debug"}))

	cfg, err := Load(path, fs)
	require.NoError(t, err)

	assert.Equal(t, 14, cfg.Gmail.BootstrapDays)
	assert.True(t, cfg.Rules.ArchiveNewsletters)
	assert.Equal(t, 15*time.Minute, cfg.Server.ScheduleInterval)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, "sk-env", cfg.Analysis.APIKey)
	assert.True(t, cfg.Executor.DryRun, "flag overrides file")
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, ":8080", cfg.Server.Addr, "unset flags do not clobber defaults")
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gmail:\n  bootstrap_days: 0\n"), 0o600))

	_, err := Load(path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bootstrap_days")
}
