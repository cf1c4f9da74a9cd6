// Package actionenv turns the raw textual configuration an action invocation
// receives (INPUT_* variables, STATE_* variables, the GITHUB_* environment)
// into typed values. Nothing in this package reads process globals; callers
// hand in an environ snapshot once and pass the resulting structs around.
package actionenv

import (
	"fmt"
	"strconv"
	"strings"
)

const inputPrefix = "INPUT_"

// Inputs is a snapshot of the raw key/value configuration for one invocation.
// Keys are stored in the runner's canonical form (uppercase, spaces as
// underscores), the way the runner materializes INPUT_* variables.
type Inputs map[string]string

// InputsFromEnviron collects all INPUT_* entries from an environ-style list
// of "key=value" strings.
func InputsFromEnviron(environ []string) Inputs {
	in := Inputs{}
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, inputPrefix) {
			continue
		}
		in[strings.TrimPrefix(k, inputPrefix)] = v
	}
	return in
}

// Set stores a raw value under the canonical form of name.
func (in Inputs) Set(name, value string) {
	in[canonicalName(name)] = value
}

// Get returns the trimmed value of the named input, or "" when unset.
func (in Inputs) Get(name string) string {
	return strings.TrimSpace(in[canonicalName(name)])
}

// GetRequired is like Get but returns an error when the value is absent or
// empty. This is the only condition in the whole flow that is allowed to fail
// the invocation.
func (in Inputs) GetRequired(name string) (string, error) {
	v := in.Get(name)
	if v == "" {
		return "", fmt.Errorf("input required and not supplied: %s", name)
	}
	return v, nil
}

// GetArray splits a newline-delimited input into an ordered list of path
// patterns. Lines are trimmed and empty lines dropped. A leading "!" marks
// an exclusion; whitespace between the "!" and the pattern is collapsed so
// "!   bar" and "!bar" produce the same pattern.
func (in Inputs) GetArray(name string) []string {
	var items []string
	for _, line := range strings.Split(in[canonicalName(name)], "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "!"); ok {
			line = "!" + strings.TrimSpace(rest)
		}
		items = append(items, line)
	}
	return items
}

// GetBool parses a boolean input. Only the literals "true" and "1" are true;
// anything else, including an unset input, is false.
func (in Inputs) GetBool(name string) bool {
	v := in.Get(name)
	return v == "true" || v == "1"
}

// GetBoolRequired is like GetBool but returns an error when the raw value is
// absent or empty.
func (in Inputs) GetBoolRequired(name string) (bool, error) {
	if _, err := in.GetRequired(name); err != nil {
		return false, err
	}
	return in.GetBool(name), nil
}

// GetInt parses an integer input. The second return value is false when the
// input is unset, non-numeric or negative; bad values never raise.
func (in Inputs) GetInt(name string) (int, bool) {
	n, err := strconv.Atoi(in.Get(name))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func canonicalName(name string) string {
	return strings.ReplaceAll(strings.ToUpper(name), " ", "_")
}
