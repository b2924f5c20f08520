package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/knolroom/internal/srs"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.HTTP.Addr)
	require.Equal(t, "file", cfg.Storage.Backend)
	require.Equal(t, "data", cfg.Storage.Dir)
	require.Equal(t, 5*time.Second, cfg.Storage.IOTimeout)
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, "repos", cfg.Import.ReposDir)
	require.Equal(t, srs.DefaultParams(), cfg.Schedule.Params())
}

func TestLoad_Precedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knolroom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":9000"
storage:
  backend: sqlite
  dsn: file.db
  io_timeout: 2s
log:
  level: debug
schedule:
  good_factor: 2.5
  max_interval: 720h
`), 0o644))

	t.Setenv("KNOLROOM_LOG__LEVEL", "warn")
	t.Setenv("KNOLROOM_STORAGE__IO_TIMEOUT", "750ms")
	t.Setenv("KNOLROOM_HTTP__ADDR", ":9100")

	cfg, err := Load([]string{"--config", path, "--http.addr", ":9200"})
	require.NoError(t, err)

	require.Equal(t, ":9200", cfg.HTTP.Addr, "flag beats env and file")
	require.Equal(t, "warn", cfg.Log.Level, "env beats file")
	require.Equal(t, 750*time.Millisecond, cfg.Storage.IOTimeout)
	require.Equal(t, "sqlite", cfg.Storage.Backend, "file beats defaults")
	require.Equal(t, "file.db", cfg.Storage.DSN)
	require.Equal(t, 2.5, cfg.Schedule.GoodFactor)
	require.Equal(t, 30*srs.Day, cfg.Schedule.MaxInterval)
	require.Equal(t, 1.2, cfg.Schedule.HardFactor, "unset keys keep defaults")
}

func TestLoad_Invalid(t *testing.T) {
	testCases := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{"unknown backend", []string{"--storage.backend", "mongo"}, nil},
		{"postgres without dsn", []string{"--storage.backend", "postgres"}, nil},
		{"bad log level", []string{"--log.level", "loud"}, nil},
		{"zero io timeout", nil, map[string]string{"KNOLROOM_STORAGE__IO_TIMEOUT": "0s"}},
		{"inverted schedule", nil, map[string]string{"KNOLROOM_SCHEDULE__MAX_INTERVAL": "1h"}},
		{"unknown flag", []string{"--nope"}, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load(tc.args)
			require.Error(t, err)
		})
	}
}

func TestLoad_Help(t *testing.T) {
	_, err := Load([]string{"--help"})
	require.ErrorIs(t, err, pflag.ErrHelp)
}
