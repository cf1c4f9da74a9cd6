package save

// Decision is the outcome of the refresh decision procedure.
type Decision int

const (
	// DecisionSave writes the cache, no matching entry exists.
	DecisionSave Decision = iota
	// DecisionSkip ends the invocation: the cache hit on the primary key and
	// no refresh was requested.
	DecisionSkip
	// DecisionRefresh deletes the matched entry, then saves. The delete is
	// best-effort; its failure never blocks the save.
	DecisionRefresh
	// DecisionSkipNoCredentials ends the invocation: a refresh was
	// explicitly requested but the credentials for the delete are missing.
	// No save happens in this state either.
	DecisionSkipNoCredentials
)

// Decide is a pure function of its inputs; identical inputs always yield an
// identical decision.
func Decide(primaryKey, restoredKey string, refresh, hasCredentials bool) Decision {
	if !IsExactKeyMatch(primaryKey, restoredKey) {
		return DecisionSave
	}
	if !refresh {
		return DecisionSkip
	}
	if !hasCredentials {
		return DecisionSkipNoCredentials
	}
	return DecisionRefresh
}
