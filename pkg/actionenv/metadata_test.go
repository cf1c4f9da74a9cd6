package actionenv

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMetadata = `
name: 'Save a cache'
description: 'Save artifacts to the cache'
inputs:
  path:
    description: 'A list of files, directories, and wildcard patterns to cache'
    required: true
  key:
    description: 'An explicit key for saving the cache'
    required: false
  enableCrossOsArchive:
    description: 'Allow Windows runners to save caches usable on other platforms'
    default: 'false'
  refresh-cache:
    description: 'Delete the matched entry and save again'
    default: 'false'
`

func TestReadMetadata(t *testing.T) {
	m, err := ReadMetadata(strings.NewReader(testMetadata))
	require.NoError(t, err)
	assert.Equal(t, "Save a cache", m.Name)
	assert.True(t, m.Inputs["path"].Required)
	assert.False(t, m.Inputs["key"].Required)
	assert.Equal(t, "false", m.Inputs["refresh-cache"].Default)
}

func TestMetadataApply(t *testing.T) {
	m, err := ReadMetadata(strings.NewReader(testMetadata))
	require.NoError(t, err)

	t.Run("defaults under provided values", func(t *testing.T) {
		in := Inputs{}
		in.Set("path", "~/.cargo")
		in.Set("refresh-cache", "true")

		merged, err := m.Apply(in)
		require.NoError(t, err)
		assert.Equal(t, "~/.cargo", merged.Get("path"))
		assert.True(t, merged.GetBool("refresh-cache"))
		assert.False(t, merged.GetBool("enableCrossOsArchive"))
	})

	t.Run("missing required input", func(t *testing.T) {
		_, err := m.Apply(Inputs{})
		require.EqualError(t, err, "input required and not supplied: path")
	})
}
