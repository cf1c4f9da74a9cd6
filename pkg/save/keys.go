package save

import (
	"context"
	"errors"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/nektos/cachesave/pkg/actionenv"
	"github.com/nektos/cachesave/pkg/common"
)

// ErrNoKey is reported when neither the configuration nor the handed-off
// state supplies a primary key.
var ErrNoKey = errors.New("key is not specified")

// IsExactKeyMatch compares cache keys the way the cache service does: at base
// collation strength, so keys differing only by case or accent marks are the
// same key. An empty comparison never matches.
func IsExactKeyMatch(key, comparison string) bool {
	if comparison == "" {
		return false
	}
	return collate.New(language.Und, collate.Loose).CompareString(key, comparison) == 0
}

// LookupFunc is a lookup-only probe: it reports the key of the entry matching
// key, without materializing the artifact, or "" when there is none.
type LookupFunc func(ctx context.Context, key string) (string, error)

// ResolveKeys determines the primary key for this save and the key a prior
// restore matched, if any. In the granular deployment shape the save action
// runs with no memory of what restore matched; when a refresh was requested
// that gap is filled with the lookup-only probe, because the refresh decision
// needs to know whether the entry exists. Probe failures degrade to "no
// match" with a warning.
func ResolveKeys(ctx context.Context, state actionenv.StateProvider, cfg *Config, lookup LookupFunc) (primaryKey, restoredKey string, err error) {
	primaryKey = state.Get(actionenv.StateCacheKey)
	if primaryKey == "" {
		primaryKey = cfg.Key
	}
	if primaryKey == "" {
		return "", "", ErrNoKey
	}

	restoredKey = state.Get(actionenv.StateCacheResult)
	if restoredKey == "" && cfg.RefreshCache && lookup != nil {
		restoredKey, err = lookup(ctx, primaryKey)
		if err != nil {
			common.Logger(ctx).Warnf("Error checking for an existing cache entry: %v", err)
			restoredKey = ""
		}
	}
	return primaryKey, restoredKey, nil
}
