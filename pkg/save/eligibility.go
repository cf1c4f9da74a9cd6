package save

import (
	"context"
	"time"

	"github.com/Masterminds/semver"

	"github.com/nektos/cachesave/pkg/actionenv"
	"github.com/nektos/cachesave/pkg/common"
)

// minGHESVersion is the first enterprise release shipping the Actions cache
// service.
var minGHESVersion = semver.MustParse("3.5.0")

// VersionProber reports the installed enterprise server release, used only to
// pick the more helpful of two warning messages. May be nil.
type VersionProber interface {
	InstalledVersion(ctx context.Context) (string, error)
}

// Eligible reports whether this execution context can use the cache at all.
// An ineligible context is a normal outcome: one warning is logged and the
// invocation no-ops successfully, it never aborts the pipeline.
func Eligible(ctx context.Context, env actionenv.GitHubEnv, versions VersionProber, now time.Time) bool {
	logger := common.Logger(ctx)

	available := env.CacheURL != "" &&
		(env.RuntimeToken == "" || actionenv.RuntimeTokenUsable(env.RuntimeToken, now))
	if !available {
		if env.IsGHES() {
			logger.Warn(ghesHint(ctx, env, versions))
		} else {
			logger.Warn("An internal error has occurred in cache backend. Please check https://www.githubstatus.com/ for any ongoing issue in actions.")
		}
		return false
	}

	if env.Ref == "" {
		logger.Warnf("Event Validation Error: The event type %s is not supported because it's not tied to a branch or tag ref.", env.EventName)
		return false
	}

	return true
}

// ghesHint picks the warning for a self-hosted enterprise instance. When the
// server reveals a release new enough to ship the cache service the problem
// is configuration, not the version; the probe is best-effort and any failure
// falls back to the generic upgrade hint.
func ghesHint(ctx context.Context, env actionenv.GitHubEnv, versions VersionProber) string {
	const upgrade = "Cache action is only supported on GHES version >= 3.5. If you are on version >= 3.5 please check with your GHES admin if the Actions cache service is enabled."

	if versions == nil {
		return upgrade
	}
	raw, err := versions.InstalledVersion(ctx)
	if err != nil || raw == "" {
		common.Logger(ctx).Debugf("enterprise version probe: %v", err)
		return upgrade
	}
	installed, err := semver.NewVersion(raw)
	if err != nil {
		return upgrade
	}
	if installed.LessThan(minGHESVersion) {
		return upgrade
	}
	return "The Actions cache service is not enabled on this GHES instance although version " + raw + " supports it. Please check with your GHES admin."
}
