package save

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nektos/cachesave/pkg/actionenv"
	"github.com/nektos/cachesave/pkg/common"
)

type fakeVersions struct {
	version string
	err     error
}

func (f fakeVersions) InstalledVersion(context.Context) (string, error) {
	return f.version, f.err
}

func loggedContext(t *testing.T) (context.Context, *logtest.Hook) {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	return common.WithLogger(context.Background(), logger), hook
}

func warnings(hook *logtest.Hook) []string {
	var msgs []string
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel {
			msgs = append(msgs, entry.Message)
		}
	}
	return msgs
}

func TestEligible(t *testing.T) {
	now := time.Now()
	cloud := actionenv.GitHubEnv{
		EventName: "push",
		Ref:       "refs/heads/main",
		ServerURL: "https://github.com",
		CacheURL:  "https://cache.example.com/",
	}

	t.Run("eligible", func(t *testing.T) {
		ctx, hook := loggedContext(t)
		assert.True(t, Eligible(ctx, cloud, nil, now))
		assert.Empty(t, warnings(hook))
	})

	t.Run("no cache service on cloud", func(t *testing.T) {
		env := cloud
		env.CacheURL = ""
		ctx, hook := loggedContext(t)
		assert.False(t, Eligible(ctx, env, nil, now))
		require.Len(t, warnings(hook), 1)
		assert.Contains(t, warnings(hook)[0], "githubstatus.com")
	})

	t.Run("no cache service on GHES", func(t *testing.T) {
		env := cloud
		env.CacheURL = ""
		env.ServerURL = "https://ghes.example.corp"
		ctx, hook := loggedContext(t)
		assert.False(t, Eligible(ctx, env, fakeVersions{err: errors.New("boom")}, now))
		require.Len(t, warnings(hook), 1)
		assert.Contains(t, warnings(hook)[0], "GHES version >= 3.5")
	})

	t.Run("GHES new enough gets the admin hint", func(t *testing.T) {
		env := cloud
		env.CacheURL = ""
		env.ServerURL = "https://ghes.example.corp"
		ctx, hook := loggedContext(t)
		assert.False(t, Eligible(ctx, env, fakeVersions{version: "3.12.4"}, now))
		require.Len(t, warnings(hook), 1)
		assert.Contains(t, warnings(hook)[0], "3.12.4")
		assert.Contains(t, warnings(hook)[0], "GHES admin")
	})

	t.Run("event without a ref", func(t *testing.T) {
		env := cloud
		env.EventName = "discussion"
		env.Ref = ""
		ctx, hook := loggedContext(t)
		assert.False(t, Eligible(ctx, env, nil, now))
		require.Len(t, warnings(hook), 1)
		assert.Contains(t, warnings(hook)[0], "not tied to a branch or tag ref")
		assert.Contains(t, warnings(hook)[0], "discussion")
	})

	t.Run("expired runtime token", func(t *testing.T) {
		env := cloud
		env.RuntimeToken = "not.a.token"
		ctx, hook := loggedContext(t)
		assert.False(t, Eligible(ctx, env, nil, now))
		assert.Len(t, warnings(hook), 1)
	})
}
