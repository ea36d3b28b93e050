package auth

// Operation names the action a principal wants to perform on a resource.
type Operation string

const (
	OpRead   Operation = "read"
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// OwnerRef carries the ownership metadata a decision needs. For a Lead this is
// the lead's owner; for an Activity the caller resolves it first, either to the
// activity's author (update/delete) or to the parent lead's owner (create/list).
type OwnerRef struct {
	OwnerID string
}

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Allow is the positive decision.
var Allow = Decision{Allowed: true}

// DenyForbidden is returned when the principal has no claim on the resource.
var DenyForbidden = Decision{Allowed: false, Reason: "not authorized for this resource"}

// Authorize decides whether a principal may perform op on a resource owned by
// ref.OwnerID. The function is pure: the same inputs always yield the same
// decision, and it must stay usable from both the HTTP path and the push
// fan-out path so query visibility and push visibility cannot drift apart.
//
// Elevated roles are allowed unconditionally; everyone else only touches what
// they own. Existence is NOT checked here; callers resolve the resource first
// so a missing resource surfaces as NotFound, never as Forbidden.
func Authorize(p Principal, op Operation, ref OwnerRef) Decision {
	_ = op // every operation uses the same ownership rule today
	if p.Role.Elevated() {
		return Allow
	}
	if p.ID != "" && p.ID == ref.OwnerID {
		return Allow
	}
	return DenyForbidden
}
