package core

import "context"

// AuthEventLogger records login events to an external sink. Implementations
// should be non-blocking and best-effort.
type AuthEventLogger interface {
	LogLogin(ctx context.Context, identityID, issuer, method, tokenID string) error
}

// NoopAuditLogger discards events.
type NoopAuditLogger struct{}

func (NoopAuditLogger) LogLogin(context.Context, string, string, string, string) error { return nil }
