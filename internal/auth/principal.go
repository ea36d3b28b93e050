package auth

import "strings"

// Role classifies what a principal may do beyond plain ownership.
type Role string

const (
	RoleAdmin          Role = "admin"
	RoleManager        Role = "manager"
	RoleSalesExecutive Role = "sales_executive"
)

// Elevated reports whether the role bypasses per-resource ownership checks.
func (r Role) Elevated() bool {
	return r == RoleAdmin || r == RoleManager
}

// ParseRole normalizes a raw role string. Unknown roles collapse to the least
// privileged one so a corrupted claim can never widen access.
func ParseRole(raw string) Role {
	switch Role(strings.TrimSpace(strings.ToLower(raw))) {
	case RoleAdmin:
		return RoleAdmin
	case RoleManager:
		return RoleManager
	case RoleSalesExecutive:
		return RoleSalesExecutive
	default:
		return RoleSalesExecutive
	}
}

// Principal is an authenticated caller identity. It is immutable for the
// duration of a request or push session.
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}
