package core

import (
	"fmt"

	"github.com/open-rails/machinekit/permission"
)

// The error taxonomy is closed: every failure leaving this package is one
// of the types below, each carrying only the fields it needs. Unexpected
// errors from collaborators propagate unchanged and are treated as fatal.

// NotFoundError means a required record (policy, membership, tenant key
// material) is absent. Recoverable by reconfiguration.
type NotFoundError struct {
	Resource string
	Message  string
}

func (e *NotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// BadRequestError covers invalid input: TTL ordering, IP syntax, plan
// restrictions, duplicate attach.
type BadRequestError struct {
	Message string
}

func (e *BadRequestError) Error() string { return e.Message }

// ForbiddenError is an authorization denial from the permission engine.
type ForbiddenError struct {
	Action  permission.Action
	Subject permission.Subject
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: cannot %s %s", e.Action, e.Subject)
}

// PermissionBoundaryError is the privilege-escalation guard: the actor's
// capability set does not cover the target identity's.
type PermissionBoundaryError struct {
	Message            string
	MissingPermissions []permission.Rule
}

func (e *PermissionBoundaryError) Error() string { return e.Message }

// UnauthorizedError covers every token or policy check failure during
// login. The Reason field is for logs only; clients receive the uniform
// message so a probing caller cannot learn which check failed.
type UnauthorizedError struct {
	Reason string
}

func (e *UnauthorizedError) Error() string { return "access denied" }

func notFound(resource, format string, args ...any) *NotFoundError {
	return &NotFoundError{Resource: resource, Message: fmt.Sprintf(format, args...)}
}

func badRequest(format string, args ...any) *BadRequestError {
	return &BadRequestError{Message: fmt.Sprintf(format, args...)}
}

func accessDenied(format string, args ...any) *UnauthorizedError {
	return &UnauthorizedError{Reason: fmt.Sprintf(format, args...)}
}
