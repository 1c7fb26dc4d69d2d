package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TMSEARCH_CANCEL_FILE", "")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 720*time.Hour, cfg.StalenessWindow)
	require.Equal(t, 10*time.Second, cfg.TokenTimeout)
	require.Equal(t, 15*time.Second, cfg.CacheTimeout)
	require.Equal(t, 60*time.Second, cfg.AITimeout)
	require.Equal(t, "data/id_manual.json", cfg.ReferenceFile)
	require.NotEmpty(t, cfg.CancelFile)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TMSEARCH_CACHE_URL", "http://cache.local")
	t.Setenv("TMSEARCH_STALENESS_WINDOW", "48h")
	t.Setenv("TMSEARCH_USPTO_COMMAND", "python3 uspto.py")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "http://cache.local", cfg.CacheURL)
	require.Equal(t, 48*time.Hour, cfg.StalenessWindow)
	require.Equal(t, "python3 uspto.py", cfg.USPTOCommand)
}

func TestLoadRejectsBadDurations(t *testing.T) {
	t.Setenv("TMSEARCH_CACHE_TIMEOUT", "soon")
	_, err := Load()
	require.ErrorContains(t, err, "parse env:")

	t.Setenv("TMSEARCH_CACHE_TIMEOUT", "0s")
	_, err = Load()
	require.ErrorContains(t, err, "TMSEARCH_CACHE_TIMEOUT")
}

func TestLoadServerTokens(t *testing.T) {
	t.Setenv("MATCH_CACHE_TOKENS", "a, b,,c ")
	cfg, err := LoadServer()
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, cfg.Tokens)
	require.Equal(t, ":8090", cfg.Addr)
}
