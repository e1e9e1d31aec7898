// Package token holds the invitation token rules: the single-use record
// lifecycle and the signed grant that carries the token over the wire.
//
// An invitation token has two halves. The grant is an ed25519 JWT the signer
// presents; it proves the platform issued the invitation and binds it to one
// (envelope, signer) pair. The record is the stored row keyed by the grant's
// jti; its conditional active -> used write is the platform's concurrency
// guard for unauthenticated signing.
package token

import (
	"time"

	apperrors "github.com/inkform/inkform/internal/platform/errors"
)

// Status describes the stored token lifecycle label.
type Status string

const (
	StatusActive  Status = "active"
	StatusUsed    Status = "used"
	StatusRevoked Status = "revoked"
)

// Token is the stored single-use invitation record.
type Token struct {
	// ID is the grant's jti and the record's primary key.
	ID         string
	EnvelopeID string
	SignerID   string
	Email      string
	Status     Status
	ExpiresAt  time.Time
	// Redemption context recorded when the token is consumed.
	RedeemedIP        string
	RedeemedUserAgent string
	UsedAt            *time.Time
	CreatedAt         time.Time
}

// Binding names the envelope/signer pair a request claims to act on.
type Binding struct {
	EnvelopeID string
	SignerID   string
}

// AssertUsable checks a stored token against the request's binding and the
// clock. It is read-only and safe to call before any side effect. Expiry wins
// over stored status: an expired token is never usable even if still marked
// active.
func AssertUsable(tok Token, expected Binding, now time.Time) error {
	if !now.Before(tok.ExpiresAt) {
		return apperrors.New(apperrors.CodeTokenExpired, "invitation token is expired")
	}
	switch tok.Status {
	case StatusActive:
	case StatusUsed:
		return apperrors.New(apperrors.CodeTokenAlreadyUsed, "invitation token was already used")
	case StatusRevoked:
		return apperrors.New(apperrors.CodeTokenRevoked, "invitation token was revoked")
	default:
		return apperrors.New(apperrors.CodeTokenInvalid, "invitation token status is invalid")
	}
	if tok.EnvelopeID != expected.EnvelopeID {
		return apperrors.WithMetadata(apperrors.CodeTokenEnvelopeMismatch,
			"invitation token is bound to a different envelope",
			map[string]string{"Field": "envelope_id"})
	}
	if tok.SignerID != expected.SignerID {
		return apperrors.WithMetadata(apperrors.CodeTokenSignerMismatch,
			"invitation token is bound to a different party",
			map[string]string{"Field": "signer_id"})
	}
	return nil
}
