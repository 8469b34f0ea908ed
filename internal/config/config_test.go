package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legamerdc/reactor"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reactor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, reactor.DefaultConfig(), cfg)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
port: 9100
extra_ports: [9101, 9102]
workers: 3
connect_timeout: 5s
read_timeout: 1m
panic_policy: continue
log_level: debug
compress: true
`)
	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, []int{9101, 9102}, cfg.ExtraPorts)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, time.Minute, cfg.ReadTimeout)
	assert.Zero(t, cfg.WriteTimeout)
	assert.Equal(t, "continue", cfg.PanicPolicy)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Compress)
	assert.True(t, cfg.HostLocalOnly, "unset keys keep defaults")
}

func TestLoadPrecedence(t *testing.T) {
	path := writeFile(t, "port: 9100\nworkers: 3\nlog_level: debug\n")
	t.Setenv("REACTOR_WORKERS", "5")
	t.Setenv("REACTOR_LOG_LEVEL", "warn")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--log-level=error"}))

	cfg, err := Load(path, fs)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port, "file over default")
	assert.Equal(t, 5, cfg.Workers, "env over file")
	assert.Equal(t, "error", cfg.LogLevel, "changed flag over env")
}

func TestLoadUnchangedFlagsKeepFile(t *testing.T) {
	path := writeFile(t, "port: 9100\n")
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(nil))

	cfg, err := Load(path, fs)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.ErrorIs(t, err, ErrConfigNotFound)

	_, err = Load(writeFile(t, "workers: 0\n"), nil)
	assert.ErrorIs(t, err, reactor.ErrInvalidConfig)

	_, err = Load(writeFile(t, "port: [1\n"), nil)
	assert.Error(t, err)
}

func TestDumpRoundTrip(t *testing.T) {
	cfg := reactor.DefaultConfig()
	cfg.ExtraPorts = []int{9200}
	cfg.ReadTimeout = 1500 * time.Millisecond

	out, err := Dump(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(out), "connect_timeout: 30s")
	assert.Contains(t, string(out), "read_timeout: 1.5s")

	back, err := Load(writeFile(t, string(out)), nil)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}
