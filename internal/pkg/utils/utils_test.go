package utils

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJitterDuration(t *testing.T) {
	t.Run("stays within the spread window", func(t *testing.T) {
		base := 2 * time.Second
		spread := 3 * time.Second
		for i := 0; i < 100; i++ {
			d := JitterDuration(base, spread)
			assert.GreaterOrEqual(t, d, base)
			assert.Less(t, d, base+spread)
		}
	})

	t.Run("zero spread returns base", func(t *testing.T) {
		assert.Equal(t, time.Second, JitterDuration(time.Second, 0))
	})
}

func TestSleepContext(t *testing.T) {
	t.Run("zero duration returns immediately", func(t *testing.T) {
		assert.NoError(t, SleepContext(context.Background(), 0))
	})

	t.Run("cancelled context cuts the wait short", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := SleepContext(ctx, time.Minute)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestDedupeStrings(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, DedupeStrings([]string{"a", "b", "a", "c", "b"}))
	assert.Empty(t, DedupeStrings(nil))
}

func TestBatchStrings(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e"}

	t.Run("splits into even batches with a remainder", func(t *testing.T) {
		batches := BatchStrings(items, 2)
		require.Len(t, batches, 3)
		assert.Equal(t, []string{"a", "b"}, batches[0])
		assert.Equal(t, []string{"e"}, batches[2])
	})

	t.Run("non positive size yields one batch", func(t *testing.T) {
		batches := BatchStrings(items, 0)
		require.Len(t, batches, 1)
		assert.Equal(t, items, batches[0])
	})

	t.Run("empty input yields no batches", func(t *testing.T) {
		assert.Empty(t, BatchStrings(nil, 3))
	})
}

func TestWriteFileAtomic(t *testing.T) {
	t.Run("creates missing directories and writes the data", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "dir", "doc.json")
		require.NoError(t, WriteFileAtomic(path, []byte(`{"ok":true}`)))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, `{"ok":true}`, string(data))
	})

	t.Run("replaces existing content without leaving temp files", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "doc.json")
		require.NoError(t, WriteFileAtomic(path, []byte("first")))
		require.NoError(t, WriteFileAtomic(path, []byte("second")))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "second", string(data))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})
}
