package geoip

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Info(msg string, args ...any)  {}
func (nopLogger) Debug(msg string, args ...any) {}
func (nopLogger) Warn(msg string, args ...any)  {}
func (nopLogger) Error(msg string, args ...any) {}

func writeCacheDoc(t *testing.T, path string, entries map[string]cacheEntry) {
	t.Helper()
	data, err := json.MarshalIndent(entries, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestResolverCachePersistence(t *testing.T) {
	t.Run("persisted entries survive a reopen", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "geoip_cache.json")
		writeCacheDoc(t, path, map[string]cacheEntry{
			"1.2.3.4": {Country: "Germany", Timestamp: time.Now()},
		})

		r := NewResolver("", path, 0, nopLogger{})
		country, ok := r.Country("1.2.3.4")
		require.True(t, ok)
		assert.Equal(t, "Germany", country)
	})

	t.Run("expired entries are dropped on load", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "geoip_cache.json")
		writeCacheDoc(t, path, map[string]cacheEntry{
			"1.2.3.4": {Country: "Germany", Timestamp: time.Now().Add(-8 * 24 * time.Hour)},
			"5.6.7.8": {Country: "France", Timestamp: time.Now().Add(-time.Hour)},
		})

		r := NewResolver("", path, 0, nopLogger{})
		_, ok := r.Country("1.2.3.4")
		assert.False(t, ok)
		country, ok := r.Country("5.6.7.8")
		require.True(t, ok)
		assert.Equal(t, "France", country)
	})

	t.Run("corrupt document starts empty", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "geoip_cache.json")
		require.NoError(t, os.WriteFile(path, []byte("{ nope"), 0o644))

		r := NewResolver("", path, 0, nopLogger{})
		_, ok := r.Country("1.2.3.4")
		assert.False(t, ok)
	})

	t.Run("persist round trips through the document", func(t *testing.T) {
		dir := t.TempDir()
		first := filepath.Join(dir, "geoip_cache.json")
		r := NewResolver("", first, 0, nopLogger{})
		r.cache.SetDefault("9.9.9.9", cacheEntry{Country: "Netherlands", Timestamp: time.Now()})
		require.NoError(t, r.Persist())

		reopened := NewResolver("", first, 0, nopLogger{})
		country, ok := reopened.Country("9.9.9.9")
		require.True(t, ok)
		assert.Equal(t, "Netherlands", country)
	})

	t.Run("sweep rewrites the document", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "geoip_cache.json")
		r := NewResolver("", path, 0, nopLogger{})
		r.cache.SetDefault("9.9.9.9", cacheEntry{Country: "Netherlands", Timestamp: time.Now()})
		require.NoError(t, r.Sweep())

		_, err := os.Stat(path)
		assert.NoError(t, err)
	})
}

func TestResolverCountryMiss(t *testing.T) {
	r := NewResolver("", filepath.Join(t.TempDir(), "cache.json"), 0, nopLogger{})
	_, ok := r.Country("10.0.0.1")
	assert.False(t, ok)
}
