// Package permission models tenant-level authorization as an enumerable
// capability set. The auth core consumes it through the core.PermissionSource
// port; role resolution itself happens in the external permission engine.
package permission

// Action is an operation on a subject.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// Subject is the kind of resource an action applies to.
type Subject string

// SubjectIdentity covers machine identities and their auth configuration.
const SubjectIdentity Subject = "identity"

// Rule grants one action on one subject.
type Rule struct {
	Action  Action  `json:"action"`
	Subject Subject `json:"subject"`
}

// Set is an enumerable capability set.
type Set []Rule

// NewSet builds a set from rules.
func NewSet(rules ...Rule) Set { return Set(rules) }

// Can reports whether the set grants the action on the subject.
func (s Set) Can(action Action, subject Subject) bool {
	for _, r := range s {
		if r.Action == action && r.Subject == subject {
			return true
		}
	}
	return false
}

// BoundaryResult reports whether a caller's privileges cover a target's.
type BoundaryResult struct {
	IsValid            bool
	MissingPermissions []Rule
}

// ValidateBoundary checks that caller holds every rule target holds. It
// guards privilege escalation: an actor may not revoke or reconfigure an
// identity whose capability set exceeds the actor's own.
func ValidateBoundary(caller, target Set) BoundaryResult {
	var missing []Rule
	for _, r := range target {
		if !caller.Can(r.Action, r.Subject) {
			missing = append(missing, r)
		}
	}
	return BoundaryResult{IsValid: len(missing) == 0, MissingPermissions: missing}
}
