package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestFromEnvDefaults(t *testing.T) {
	c, err := FromEnv(env(nil))
	require.NoError(t, err)
	assert.Equal(t, Defaults(), c)
	assert.Equal(t, time.Hour, c.CacheTTL)
	assert.Equal(t, 20000, c.FetchPerPage)
}

func TestFromEnvOverrides(t *testing.T) {
	c, err := FromEnv(env(map[string]string{
		"MACRODASH_ADDR":   ":9090",
		"CACHE_TTL":        "5m",
		"FETCH_ATTEMPTS":   "5",
		"FETCH_JITTER":     "0",
		"FETCH_RPS":        "0",
		"LOG_LEVEL":        "debug",
		"WARM_CACHE":       "false",
		"PRIMARY_COUNTRY":  "CHN",
		"FETCH_BASE_DELAY": "", // empty means unset
	}))
	require.NoError(t, err)
	assert.Equal(t, ":9090", c.Addr)
	assert.Equal(t, 5*time.Minute, c.CacheTTL)
	assert.Equal(t, 5, c.FetchAttempts)
	assert.Equal(t, 0.0, c.FetchJitter)
	assert.Equal(t, log.DEBUG, c.LogLevel)
	assert.False(t, c.WarmCache)
	assert.Equal(t, "CHN", c.PrimaryCountry)
	assert.Equal(t, 600*time.Millisecond, c.FetchBaseDelay)
}

func TestFromEnvErrors(t *testing.T) {
	cases := map[string]map[string]string{
		"bad duration":  {"CACHE_TTL": "soon"},
		"bad int":       {"FETCH_ATTEMPTS": "three"},
		"zero attempts": {"FETCH_ATTEMPTS": "0"},
		"jitter range":  {"FETCH_JITTER": "1.5"},
		"bad level":     {"LOG_LEVEL": "loud"},
		"bad bool":      {"WARM_CACHE": "maybe"},
	}
	for name, m := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromEnv(env(m))
			assert.Error(t, err)
		})
	}
}

func TestLoadReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("FETCH_PER_PAGE=500\n"), 0o644))
	t.Setenv("FETCH_PER_PAGE", "")
	os.Unsetenv("FETCH_PER_PAGE")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 500, c.FetchPerPage)
}

func TestLoadToleratesMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}
