package actionenv

import (
	"strings"

	"github.com/joho/godotenv"
)

// State names shared with the companion restore step.
const (
	StateCacheKey    = "CACHE_KEY"    // the primary key restore ran with
	StateCacheResult = "CACHE_RESULT" // the key restore actually matched
)

const statePrefix = "STATE_"

// StateProvider hands over state recorded by a companion restore step.
// A composite deployment shares state in-process or via STATE_* variables;
// the granular save-only deployment has none and uses NullState, which
// forces the resolver to fall back to a lookup-only probe.
type StateProvider interface {
	Get(name string) string
}

// EnvState is state restored from STATE_* variables or a state file.
type EnvState map[string]string

func (s EnvState) Get(name string) string {
	return strings.TrimSpace(s[name])
}

// EnvStateFrom collects all STATE_* entries from an environ-style list.
func EnvStateFrom(environ []string) EnvState {
	s := EnvState{}
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, statePrefix) {
			continue
		}
		s[strings.TrimPrefix(k, statePrefix)] = v
	}
	return s
}

// LoadStateFile reads a GITHUB_STATE-style file in dotenv format. The
// STATE_ prefix on keys is optional.
func LoadStateFile(path string) (EnvState, error) {
	env, err := godotenv.Read(path)
	if err != nil {
		return nil, err
	}
	s := EnvState{}
	for k, v := range env {
		s[strings.TrimPrefix(k, statePrefix)] = v
	}
	return s, nil
}

// NullState is the StateProvider for the granular save-only action, which
// runs with no memory of what restore matched.
type NullState struct{}

func (NullState) Get(string) string { return "" }
