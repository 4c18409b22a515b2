package scope

import (
	"fmt"

	"stageboard/internal/config"
)

// Scope identifies the acting user for one engine call. It is passed
// explicitly instead of living in package state so tests and servers can run
// calls for different actors side by side.
type Scope struct {
	ActorID string
	Roles   []string
}

// StageNotAllowedError signals a move to a stage outside the actor's
// permitted targets. Recoverable: callers surface it as a warning.
type StageNotAllowedError struct {
	Stage string
}

func (e StageNotAllowedError) Error() string {
	return fmt.Sprintf("stage %s is not a permitted move target", e.Stage)
}

// SeesAll reports whether the scope may read every item rather than only the
// ones assigned to it.
func (s Scope) SeesAll(cfg *config.Config) bool {
	_, unrestricted := cfg.AllowedTargets(s.Roles)
	return unrestricted
}

// EmployeeFilter returns the employee filter value for repository queries:
// empty for unrestricted scopes, the actor id otherwise.
func (s Scope) EmployeeFilter(cfg *config.Config) string {
	if s.SeesAll(cfg) {
		return ""
	}
	return s.ActorID
}
