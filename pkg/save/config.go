// Package save implements the cache-save flow: validate the execution
// environment, resolve the primary and restored keys, decide between
// skipping, refreshing and saving, and delegate the actual transfer to the
// cache service client. A cache problem must never fail the surrounding
// build, so only missing required configuration propagates as an error.
package save

import (
	"fmt"

	"github.com/nektos/cachesave/pkg/actionenv"
)

// Input names recognized by the action.
const (
	InputPath           = "path"
	InputKey            = "key"
	InputChunkSize      = "upload-chunk-size"
	InputCrossOSArchive = "enableCrossOsArchive"
	InputRefreshCache   = "refresh-cache"
)

// Config is the typed configuration for one invocation, read once at start
// and never mutated.
type Config struct {
	// Paths is the ordered set of path patterns to archive, exclusions
	// carrying a leading "!". Never empty.
	Paths []string

	// Key is the configured primary key. May be empty when a companion
	// restore step hands the key over via state.
	Key string

	// ChunkSize overrides the upload chunk size; zero keeps the
	// collaborator's default.
	ChunkSize int64

	CrossOSArchive bool
	RefreshCache   bool
}

// ConfigFromInputs parses the raw inputs. A missing path list is the one
// configuration error that fails the invocation, before any network call.
func ConfigFromInputs(in actionenv.Inputs) (*Config, error) {
	if _, err := in.GetRequired(InputPath); err != nil {
		return nil, err
	}
	paths := in.GetArray(InputPath)
	if len(paths) == 0 {
		return nil, fmt.Errorf("input required and not supplied: %s", InputPath)
	}

	cfg := &Config{
		Paths:          paths,
		Key:            in.Get(InputKey),
		CrossOSArchive: in.GetBool(InputCrossOSArchive),
		RefreshCache:   in.GetBool(InputRefreshCache),
	}
	if n, ok := in.GetInt(InputChunkSize); ok {
		cfg.ChunkSize = int64(n)
	}
	return cfg, nil
}
