package actionenv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInputsFromEnviron(t *testing.T) {
	in := InputsFromEnviron([]string{
		"INPUT_KEY=linux-rust",
		"INPUT_UPLOAD-CHUNK-SIZE=1024",
		"GITHUB_REF=refs/heads/main",
		"not-an-env-entry",
	})
	assert.Equal(t, "linux-rust", in.Get("key"))
	assert.Equal(t, "1024", in.Get("upload-chunk-size"))
	assert.Empty(t, in.Get("GITHUB_REF"))
}

func TestGetArray(t *testing.T) {
	in := Inputs{}
	in.Set("path", "!   bar\n!  baz\n! qux\n!quux\ncorge\ngrault! garply\n!\r\t waldo")
	assert.Equal(t, []string{"!bar", "!baz", "!qux", "!quux", "corge", "grault! garply", "!waldo"}, in.GetArray("path"))

	t.Run("empty", func(t *testing.T) {
		assert.Nil(t, in.GetArray("missing"))
	})

	t.Run("blank lines dropped", func(t *testing.T) {
		in.Set("path", "\nfoo\n\n  \nbar\n")
		assert.Equal(t, []string{"foo", "bar"}, in.GetArray("path"))
	})
}

func TestGetBool(t *testing.T) {
	in := Inputs{}
	for raw, want := range map[string]bool{
		"true":     true,
		"1":        true,
		"0":        false,
		"false":    false,
		"True":     false,
		"yes":      false,
		"anything": false,
	} {
		in.Set("flag", raw)
		assert.Equal(t, want, in.GetBool("flag"), "raw value %q", raw)
	}
	assert.False(t, in.GetBool("missing"))
}

func TestGetBoolRequired(t *testing.T) {
	in := Inputs{}

	_, err := in.GetBoolRequired("flag")
	require.Error(t, err)

	in.Set("flag", "   ")
	_, err = in.GetBoolRequired("flag")
	require.Error(t, err)

	in.Set("flag", "0")
	v, err := in.GetBoolRequired("flag")
	require.NoError(t, err)
	assert.False(t, v)

	in.Set("flag", "1")
	v, err = in.GetBoolRequired("flag")
	require.NoError(t, err)
	assert.True(t, v)
}

func TestGetInt(t *testing.T) {
	in := Inputs{}

	_, ok := in.GetInt("chunk")
	assert.False(t, ok)

	in.Set("chunk", "not a number")
	_, ok = in.GetInt("chunk")
	assert.False(t, ok)

	in.Set("chunk", "-5")
	_, ok = in.GetInt("chunk")
	assert.False(t, ok)

	in.Set("chunk", "33554432")
	n, ok := in.GetInt("chunk")
	assert.True(t, ok)
	assert.Equal(t, 33554432, n)
}

func TestGetRequired(t *testing.T) {
	in := Inputs{}
	_, err := in.GetRequired("path")
	require.EqualError(t, err, "input required and not supplied: path")

	in.Set("path", "  ~/.cargo  ")
	v, err := in.GetRequired("path")
	require.NoError(t, err)
	assert.Equal(t, "~/.cargo", v)
}
