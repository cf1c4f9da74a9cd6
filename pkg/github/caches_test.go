package github

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeleteCachesByKey(t *testing.T) {
	var gotAuth, gotPath, gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")

		switch gotKey {
		case "linux-rust":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"total_count": 2, "actions_caches": []}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message": "Not Found"}`))
		}
	}))
	defer server.Close()

	client := New(server.URL, "ghs_token", "nektos/cachesave")

	t.Run("found", func(t *testing.T) {
		n, err := client.DeleteCachesByKey(context.Background(), "linux-rust")
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, "Bearer ghs_token", gotAuth)
		assert.Equal(t, "/repos/nektos/cachesave/actions/caches", gotPath)
		assert.Equal(t, "linux-rust", gotKey)
	})

	t.Run("not found carries status and message", func(t *testing.T) {
		_, err := client.DeleteCachesByKey(context.Background(), "linux-go")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 404")
		assert.Contains(t, err.Error(), "Not Found")
	})
}

func TestInstalledVersion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/meta", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"installed_version": "3.12.4"}`))
	}))
	defer server.Close()

	version, err := New(server.URL, "", "nektos/cachesave").InstalledVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "3.12.4", version)
}
