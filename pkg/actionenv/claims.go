package actionenv

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type runtimeClaims struct {
	jwt.RegisteredClaims
	Scp string `json:"scp"`
}

// RuntimeTokenUsable inspects the Actions runtime token without verifying its
// signature (the runner, not this action, is the trusted party) and reports
// whether it still grants access to the cache service: it must parse, must
// not be expired at now, and when it carries a scope list at all that list
// must include a cache scope.
func RuntimeTokenUsable(token string, now time.Time) bool {
	if token == "" {
		return false
	}

	claims := &runtimeClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return false
	}

	if claims.ExpiresAt != nil && !now.Before(claims.ExpiresAt.Time) {
		return false
	}

	if claims.Scp == "" {
		return true
	}
	for _, scope := range strings.Fields(claims.Scp) {
		name, _, _ := strings.Cut(scope, ":")
		if strings.EqualFold(name, "Actions.Cache") || strings.EqualFold(name, "Actions.Results") {
			return true
		}
	}
	return false
}
