package save

import (
	"context"
	"time"

	"github.com/nektos/cachesave/pkg/actionenv"
	"github.com/nektos/cachesave/pkg/cacheclient"
	"github.com/nektos/cachesave/pkg/common"
)

// CacheService is the slice of the cache client the save flow needs.
type CacheService interface {
	Find(ctx context.Context, keys []string, version string) (*cacheclient.Entry, error)
	SaveCache(ctx context.Context, root string, patterns []string, key string, opts cacheclient.SaveOptions) (int64, error)
}

// CacheDeleter deletes cache entries by key via the host REST API.
type CacheDeleter interface {
	DeleteCachesByKey(ctx context.Context, key string) (int, error)
}

// Options wires one invocation together. All ambient state is captured here;
// Run reads no globals.
type Options struct {
	Env    actionenv.GitHubEnv
	Config *Config
	State  actionenv.StateProvider

	Cache    CacheService
	Deleter  CacheDeleter  // nil when credentials are absent
	Versions VersionProber // nil when no API client is available

	// Root is the directory path patterns resolve against.
	Root string
}

// Run executes the save flow. Ineligible environments, missing keys, failed
// deletes and failed saves are all logged and swallowed; a cache-save problem
// must never fail the surrounding job.
func Run(ctx context.Context, opts Options) error {
	logger := common.Logger(ctx)
	cfg := opts.Config

	if !Eligible(ctx, opts.Env, opts.Versions, time.Now()) {
		return nil
	}

	primaryKey, restoredKey, err := ResolveKeys(ctx, opts.State, cfg, opts.lookup)
	if err != nil {
		logger.Warn("Key is not specified.")
		return nil
	}

	switch Decide(primaryKey, restoredKey, cfg.RefreshCache, opts.Env.HasCredentials()) {
	case DecisionSkip:
		logger.Infof("Cache hit occurred on the primary key %s, not saving cache.", primaryKey)
		return nil

	case DecisionSkipNoCredentials:
		logger.Warn("Can't refresh cache, either the repository info or a valid token are missing.")
		return nil

	case DecisionRefresh:
		deleteByKey(ctx, opts.Deleter, primaryKey)
	}

	if common.Dryrun(ctx) {
		logger.Infof("Would save cache with key: %s", primaryKey)
		return nil
	}

	id, err := opts.Cache.SaveCache(ctx, opts.Root, cfg.Paths, primaryKey, cacheclient.SaveOptions{
		CrossOSArchive: cfg.CrossOSArchive,
	})
	if err != nil {
		logger.Warnf("Failed to save cache: %v", err)
		return nil
	}
	if id == cacheclient.NotSaved {
		logger.Infof("Cache entry with key %s already exists, not saving cache.", primaryKey)
		return nil
	}
	logger.Infof("Cache saved with key: %s", primaryKey)
	return nil
}

// deleteByKey is the best-effort half of the refresh: on failure the save
// still proceeds and replaces the stale entry under an unchanged key.
func deleteByKey(ctx context.Context, deleter CacheDeleter, key string) {
	logger := common.Logger(ctx)
	if common.Dryrun(ctx) {
		logger.Infof("Would delete cache with key: %s", key)
		return
	}
	if deleter == nil {
		logger.Warnf("No API client for deleting cache entry with key %s", key)
		return
	}
	if _, err := deleter.DeleteCachesByKey(ctx, key); err != nil {
		logger.Warnf("Error deleting cache entry with key %s: %v", key, err)
		return
	}
	logger.Infof("Deleted cache entry with key: %s", key)
}

// lookup adapts the cache service into the resolver's lookup-only probe.
func (o Options) lookup(ctx context.Context, key string) (string, error) {
	entry, err := o.Cache.Find(ctx, []string{key}, cacheclient.Version(o.Config.Paths, o.Config.CrossOSArchive))
	if err != nil || entry == nil {
		return "", err
	}
	return entry.CacheKey, nil
}
