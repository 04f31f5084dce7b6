package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuntimeSettings_Validate(t *testing.T) {
	for _, q := range []int{0, 1, 60, 80, 100} {
		require.NoError(t, RuntimeSettings{Quality: q}.Validate(), q)
	}
	for _, q := range []int{-1, 101, 150} {
		err := RuntimeSettings{Quality: q}.Validate()
		require.Error(t, err, q)
		assert.ErrorIs(t, err, ErrQualityOutOfRange)
	}
}

func TestRuntimeSettingsFile_RoundTripUsesOptionKey(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "settings", "runtime.json")

	require.NoError(t, WriteRuntimeSettingsFile(filePath, RuntimeSettings{Quality: 65}))

	raw, err := os.ReadFile(filePath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"webp_autogen_quality": 65`)

	got, err := LoadRuntimeSettingsFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, RuntimeSettings{Quality: 65}, got)
}

func TestRuntimeSettingsStore_RejectsOutOfRangeAndKeepsPrior(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "runtime-settings.json")

	store, err := NewRuntimeSettingsStore(filePath, RuntimeSettings{Quality: 80})
	require.NoError(t, err)

	_, err = store.UpdateRuntimeSettings(RuntimeSettings{Quality: 150})
	require.Error(t, err)
	assert.Equal(t, 80, store.Quality())
	_, statErr := os.Stat(filePath)
	assert.True(t, os.IsNotExist(statErr))

	got, err := store.UpdateRuntimeSettings(RuntimeSettings{Quality: 60})
	require.NoError(t, err)
	assert.Equal(t, 60, got.Quality)
	assert.Equal(t, 60, store.Quality())

	loaded, err := LoadRuntimeSettingsFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, 60, loaded.Quality)
}

func TestOpenRuntimeSettingsStore(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file uses defaults", func(t *testing.T) {
		store, err := OpenRuntimeSettingsStore(filepath.Join(dir, "missing.json"), RuntimeSettings{Quality: 80})
		require.NoError(t, err)
		assert.Equal(t, 80, store.Quality())
	})

	t.Run("existing file wins", func(t *testing.T) {
		path := filepath.Join(dir, "saved.json")
		require.NoError(t, WriteRuntimeSettingsFile(path, RuntimeSettings{Quality: 42}))

		store, err := OpenRuntimeSettingsStore(path, RuntimeSettings{Quality: 80})
		require.NoError(t, err)
		assert.Equal(t, 42, store.Quality())
	})

	t.Run("out of range file falls back", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"webp_autogen_quality": 400}`), 0o600))

		store, err := OpenRuntimeSettingsStore(path, RuntimeSettings{Quality: 80})
		require.NoError(t, err)
		assert.Equal(t, 80, store.Quality())
	})

	t.Run("corrupt file is an error", func(t *testing.T) {
		path := filepath.Join(dir, "corrupt.json")
		require.NoError(t, os.WriteFile(path, []byte(`{`), 0o600))

		_, err := OpenRuntimeSettingsStore(path, RuntimeSettings{Quality: 80})
		require.Error(t, err)
	})
}
