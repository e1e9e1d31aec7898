package token

import (
	"testing"
	"time"

	apperrors "github.com/inkform/inkform/internal/platform/errors"
)

func usableToken(now time.Time) Token {
	return Token{
		ID:         "tok-1",
		EnvelopeID: "env-1",
		SignerID:   "sgn-1",
		Email:      "ana@example.com",
		Status:     StatusActive,
		ExpiresAt:  now.Add(24 * time.Hour),
	}
}

func TestAssertUsable(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	binding := Binding{EnvelopeID: "env-1", SignerID: "sgn-1"}

	if err := AssertUsable(usableToken(now), binding, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Token)
		expect apperrors.Code
	}{
		{"used", func(tok *Token) { tok.Status = StatusUsed }, apperrors.CodeTokenAlreadyUsed},
		{"revoked", func(tok *Token) { tok.Status = StatusRevoked }, apperrors.CodeTokenRevoked},
		{"unknown status", func(tok *Token) { tok.Status = Status("stale") }, apperrors.CodeTokenInvalid},
		{"expired", func(tok *Token) { tok.ExpiresAt = now.Add(-time.Minute) }, apperrors.CodeTokenExpired},
		{"envelope mismatch", func(tok *Token) { tok.EnvelopeID = "env-2" }, apperrors.CodeTokenEnvelopeMismatch},
		{"signer mismatch", func(tok *Token) { tok.SignerID = "sgn-2" }, apperrors.CodeTokenSignerMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := usableToken(now)
			tt.mutate(&tok)
			err := AssertUsable(tok, binding, now)
			if apperrors.GetCode(err) != tt.expect {
				t.Fatalf("error code = %s, want %s", apperrors.GetCode(err), tt.expect)
			}
		})
	}
}

func TestAssertUsable_ExpiryWinsOverStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tok := usableToken(now)
	tok.Status = StatusUsed
	tok.ExpiresAt = now.Add(-time.Hour)

	err := AssertUsable(tok, Binding{EnvelopeID: "env-1", SignerID: "sgn-1"}, now)
	if apperrors.GetCode(err) != apperrors.CodeTokenExpired {
		t.Fatalf("error code = %s, want %s", apperrors.GetCode(err), apperrors.CodeTokenExpired)
	}
}

func TestAssertUsable_ExactExpiryInstant(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tok := usableToken(now)
	tok.ExpiresAt = now

	err := AssertUsable(tok, Binding{EnvelopeID: "env-1", SignerID: "sgn-1"}, now)
	if apperrors.GetCode(err) != apperrors.CodeTokenExpired {
		t.Fatalf("a token expiring now must be unusable, got %v", err)
	}
}
