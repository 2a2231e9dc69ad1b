package pipeline

import "strings"

// Role is the validation contract an agent label maps to.
type Role string

const (
	RoleScout     Role = "scout"
	RoleArchitect Role = "architect"
	RoleBuilder   Role = "builder"
	RoleReviewer  Role = "reviewer"
	// RoleUnknown gets no artifact validation but still produces a
	// pipeline state entry.
	RoleUnknown Role = ""
)

// knownRoles in recognition order.
var knownRoles = []Role{RoleScout, RoleArchitect, RoleBuilder, RoleReviewer}

// RoleOf recognizes an agent's role by prefix match, so labels like
// "builder-frontend" still validate as builders.
func RoleOf(agentName string) Role {
	for _, role := range knownRoles {
		if strings.HasPrefix(agentName, string(role)) {
			return role
		}
	}
	return RoleUnknown
}
