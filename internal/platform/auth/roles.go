package auth

import (
	"errors"
	"strings"
)

var ErrForbidden = errors.New("forbidden")

// Roles are capability sets, not a ladder: an agent may propose but never approve,
// a worker may claim but never propose. Admin holds every capability.
const (
	RoleViewer   = "viewer"
	RoleAgent    = "agent"
	RoleWorker   = "worker"
	RoleReviewer = "reviewer"
	RoleAdmin    = "admin"
)

var knownRoles = map[string]bool{
	RoleViewer:   true,
	RoleAgent:    true,
	RoleWorker:   true,
	RoleReviewer: true,
	RoleAdmin:    true,
}

func KnownRole(role string) bool {
	return knownRoles[strings.ToLower(strings.TrimSpace(role))]
}

// Allows reports whether roles grant the required role. Any known role can read.
func Allows(roles []string, required string) bool {
	required = strings.ToLower(strings.TrimSpace(required))
	if !knownRoles[required] {
		return false
	}
	for _, role := range roles {
		role = strings.ToLower(strings.TrimSpace(role))
		if !knownRoles[role] {
			continue
		}
		if role == RoleAdmin || role == required || required == RoleViewer {
			return true
		}
	}
	return false
}

func HasRole(identity Identity, required string) bool {
	return Allows(identity.Roles, required)
}
