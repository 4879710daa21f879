package auth

import (
	"errors"
	"regexp"
)

// subjectPattern limits token subjects to operator or tool names:
// alphanumeric, dots, hyphens, underscores, 1-64 characters.
var subjectPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// IsValidSubject checks a token subject before it is signed.
func IsValidSubject(subject string) bool {
	return subjectPattern.MatchString(subject)
}

// Role represents an authorisation tier for the bridge API.
type Role string

const (
	// RoleViewer can read bus state and past commissioning runs.
	RoleViewer Role = "viewer"

	// RoleInstaller commissions the bus on site.
	RoleInstaller Role = "installer"

	// RoleAdmin has every permission.
	RoleAdmin Role = "admin"
)

// ValidRoles lists the roles a token may carry.
var ValidRoles = []Role{RoleViewer, RoleInstaller, RoleAdmin}

// IsValidRole reports whether r is one of ValidRoles.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Sentinel errors for auth operations.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrInvalidRole  = errors.New("invalid role")
	ErrInvalidSubj  = errors.New("invalid subject")
	ErrForbidden    = errors.New("insufficient permissions")
)
