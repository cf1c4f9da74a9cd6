package actionenv

import (
	"net/url"
	"strings"
)

// GitHubEnv is the ambient environment an invocation runs in, captured once
// at startup. Components receive this struct instead of reading globals so
// behavior stays deterministic under test.
type GitHubEnv struct {
	// EventName and Ref identify the triggering event. Caching is only
	// eligible for events tied to a branch or tag ref.
	EventName string
	Ref       string

	// ServerURL and APIURL locate the host platform. The server URL hostname
	// classifies managed cloud vs self-hosted enterprise instances.
	ServerURL string
	APIURL    string

	// CacheURL and RuntimeToken address the cache service itself.
	CacheURL     string
	RuntimeToken string

	// Token and Repository form the credentials required by the
	// delete-by-key operation, nothing else.
	Token      string
	Repository string

	// Workspace is the checkout root relative path patterns resolve against.
	Workspace string
}

// GitHubEnvFrom builds a GitHubEnv from an environ-style list of "key=value"
// strings, usually os.Environ().
func GitHubEnvFrom(environ []string) GitHubEnv {
	env := map[string]string{}
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return GitHubEnv{
		EventName:    env["GITHUB_EVENT_NAME"],
		Ref:          env["GITHUB_REF"],
		ServerURL:    env["GITHUB_SERVER_URL"],
		APIURL:       env["GITHUB_API_URL"],
		CacheURL:     env["ACTIONS_CACHE_URL"],
		RuntimeToken: env["ACTIONS_RUNTIME_TOKEN"],
		Token:        env["GITHUB_TOKEN"],
		Repository:   env["GITHUB_REPOSITORY"],
		Workspace:    env["GITHUB_WORKSPACE"],
	}
}

// IsGHES reports whether the host is a self-hosted enterprise instance, as
// opposed to the managed cloud offering.
func (e GitHubEnv) IsGHES() bool {
	u, err := url.Parse(e.ServerURL)
	if err != nil || u.Hostname() == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case host == "github.com",
		strings.HasSuffix(host, ".ghe.com"),
		strings.HasSuffix(host, ".ghe.localhost"):
		return false
	}
	return true
}

// HasCredentials reports whether both pieces needed for delete-by-key are
// present: a token and a repository that splits into owner and name.
func (e GitHubEnv) HasCredentials() bool {
	_, _, ok := e.OwnerRepo()
	return e.Token != "" && ok
}

// OwnerRepo splits Repository into its owner and name parts.
func (e GitHubEnv) OwnerRepo() (owner, repo string, ok bool) {
	owner, repo, ok = strings.Cut(e.Repository, "/")
	if !ok || owner == "" || repo == "" {
		return "", "", false
	}
	return owner, repo, true
}
