package actionenv

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvStateFrom(t *testing.T) {
	state := EnvStateFrom([]string{
		"STATE_CACHE_KEY=linux-rust",
		"STATE_CACHE_RESULT=linux-rust-abc123",
		"GITHUB_REF=refs/heads/main",
	})
	assert.Equal(t, "linux-rust", state.Get(StateCacheKey))
	assert.Equal(t, "linux-rust-abc123", state.Get(StateCacheResult))
	assert.Empty(t, state.Get("GITHUB_REF"))
}

func TestLoadStateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state")
	require.NoError(t, os.WriteFile(path, []byte("STATE_CACHE_KEY=linux-rust\nCACHE_RESULT=linux-rust-prefix\n"), 0o600))

	state, err := LoadStateFile(path)
	require.NoError(t, err)
	assert.Equal(t, "linux-rust", state.Get(StateCacheKey))
	assert.Equal(t, "linux-rust-prefix", state.Get(StateCacheResult))

	_, err = LoadStateFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestNullState(t *testing.T) {
	assert.Empty(t, NullState{}.Get(StateCacheKey))
}
