package tokenguard

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/MrEthical07/tokenguard/internal/audit"
)

// Principal is the authenticated identity carried by a valid access token.
type Principal struct {
	UserID    string
	Roles     []string
	TokenID   string
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// HasRole reports whether role is among the principal's roles.
func (p *Principal) HasRole(role string) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Credentials is the opaque login input handed to the [CredentialVerifier].
// The engine never inspects Secret.
type Credentials struct {
	Identifier string
	Secret     string
}

// VerifiedUser is what a [CredentialVerifier] returns on success.
type VerifiedUser struct {
	UserID string
	Roles  []string
}

// CredentialVerifier authenticates login credentials. Password hashing and
// identity storage live behind this interface, outside the engine.
//
// Implementations return [ErrInvalidCredentials] (or any error) on rejection;
// the engine reports every rejection as ErrInvalidCredentials.
type CredentialVerifier interface {
	VerifyCredentials(ctx context.Context, creds Credentials) (*VerifiedUser, error)
}

// CredentialVerifierFunc adapts a function to [CredentialVerifier].
type CredentialVerifierFunc func(ctx context.Context, creds Credentials) (*VerifiedUser, error)

// VerifyCredentials calls f.
func (f CredentialVerifierFunc) VerifyCredentials(ctx context.Context, creds Credentials) (*VerifiedUser, error) {
	return f(ctx, creds)
}

// AuditEvent is the structured payload emitted for auditable operations.
type AuditEvent = internalaudit.Event

// AuditSink receives emitted audit events.
type AuditSink = internalaudit.Sink

// NoOpSink drops audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink writes audit events into a buffered channel.
type ChannelSink = internalaudit.ChannelSink

// ZapSink writes audit events to a zap logger.
type ZapSink = internalaudit.ZapSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
