package token

import (
	"crypto/ed25519"
	"strings"
	"testing"
	"time"

	apperrors "github.com/inkform/inkform/internal/platform/errors"
)

func grantConfig(t *testing.T, now time.Time) GrantConfig {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	copy(seed, "inkform-grant-test-seed-0123456789")
	private := ed25519.NewKeyFromSeed(seed)
	return GrantConfig{
		Issuer:     "https://inkform.test",
		Audience:   "esign",
		PrivateKey: private,
		PublicKey:  private.Public().(ed25519.PublicKey),
		Now:        func() time.Time { return now },
	}
}

func TestIssueAndValidateGrant(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := grantConfig(t, now)
	tok := Token{
		ID:         "tok-1",
		EnvelopeID: "env-1",
		SignerID:   "sgn-1",
		Email:      "ana@example.com",
		ExpiresAt:  now.Add(48 * time.Hour),
	}

	grant, err := IssueGrant(tok, cfg)
	if err != nil {
		t.Fatalf("issue grant: %v", err)
	}

	claims, err := ValidateGrant(grant, Binding{EnvelopeID: "env-1", SignerID: "sgn-1"}, cfg)
	if err != nil {
		t.Fatalf("validate grant: %v", err)
	}
	if claims.JWTID != "tok-1" {
		t.Fatalf("jti = %s, want tok-1", claims.JWTID)
	}
	if claims.EnvelopeID != "env-1" || claims.SignerID != "sgn-1" {
		t.Fatalf("binding = (%s, %s), want (env-1, sgn-1)", claims.EnvelopeID, claims.SignerID)
	}
	if claims.Email != "ana@example.com" {
		t.Fatalf("email = %s, want ana@example.com", claims.Email)
	}
	if !claims.ExpiresAt.Equal(tok.ExpiresAt.Truncate(time.Second)) {
		t.Fatalf("exp = %s, want %s", claims.ExpiresAt, tok.ExpiresAt.Truncate(time.Second))
	}
}

func TestValidateGrant_Rejections(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := grantConfig(t, now)
	tok := Token{ID: "tok-1", EnvelopeID: "env-1", SignerID: "sgn-1", ExpiresAt: now.Add(time.Hour)}
	grant, err := IssueGrant(tok, cfg)
	if err != nil {
		t.Fatalf("issue grant: %v", err)
	}

	tests := []struct {
		name    string
		grant   string
		binding Binding
		cfg     GrantConfig
		expect  apperrors.Code
	}{
		{
			name:    "empty grant",
			grant:   "  ",
			binding: Binding{},
			cfg:     cfg,
			expect:  apperrors.CodeTokenInvalid,
		},
		{
			name:    "tampered payload",
			grant:   tamper(grant),
			binding: Binding{},
			cfg:     cfg,
			expect:  apperrors.CodeTokenInvalid,
		},
		{
			name:    "envelope mismatch",
			grant:   grant,
			binding: Binding{EnvelopeID: "env-other", SignerID: "sgn-1"},
			cfg:     cfg,
			expect:  apperrors.CodeTokenEnvelopeMismatch,
		},
		{
			name:    "party mismatch",
			grant:   grant,
			binding: Binding{EnvelopeID: "env-1", SignerID: "sgn-other"},
			cfg:     cfg,
			expect:  apperrors.CodeTokenSignerMismatch,
		},
		{
			name:    "expired",
			grant:   grant,
			binding: Binding{EnvelopeID: "env-1", SignerID: "sgn-1"},
			cfg:     withNow(cfg, now.Add(2*time.Hour)),
			expect:  apperrors.CodeTokenExpired,
		},
		{
			name:    "wrong issuer",
			grant:   grant,
			binding: Binding{},
			cfg:     withIssuer(cfg, "https://other.test"),
			expect:  apperrors.CodeTokenInvalid,
		},
		{
			name:    "wrong audience",
			grant:   grant,
			binding: Binding{},
			cfg:     withAudience(cfg, "billing"),
			expect:  apperrors.CodeTokenInvalid,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateGrant(tt.grant, tt.binding, tt.cfg)
			if apperrors.GetCode(err) != tt.expect {
				t.Fatalf("error code = %s, want %s (err=%v)", apperrors.GetCode(err), tt.expect, err)
			}
		})
	}
}

func TestValidateGrant_RejectsForeignKey(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := grantConfig(t, now)
	tok := Token{ID: "tok-1", EnvelopeID: "env-1", SignerID: "sgn-1", ExpiresAt: now.Add(time.Hour)}
	grant, err := IssueGrant(tok, cfg)
	if err != nil {
		t.Fatalf("issue grant: %v", err)
	}

	otherSeed := make([]byte, ed25519.SeedSize)
	copy(otherSeed, "another-seed-another-seed-another")
	otherKey := ed25519.NewKeyFromSeed(otherSeed)
	verifier := cfg
	verifier.PublicKey = otherKey.Public().(ed25519.PublicKey)

	_, err = ValidateGrant(grant, Binding{}, verifier)
	if apperrors.GetCode(err) != apperrors.CodeTokenInvalid {
		t.Fatalf("error code = %s, want %s", apperrors.GetCode(err), apperrors.CodeTokenInvalid)
	}
}

// tamper flips the middle segment of a JWT so the signature no longer matches.
func tamper(grant string) string {
	parts := strings.Split(grant, ".")
	if len(parts) != 3 {
		return grant + "x"
	}
	payload := []byte(parts[1])
	payload[0] ^= 0x01
	parts[1] = string(payload)
	return strings.Join(parts, ".")
}

func withNow(cfg GrantConfig, now time.Time) GrantConfig {
	cfg.Now = func() time.Time { return now }
	return cfg
}

func withIssuer(cfg GrantConfig, issuer string) GrantConfig {
	cfg.Issuer = issuer
	return cfg
}

func withAudience(cfg GrantConfig, audience string) GrantConfig {
	cfg.Audience = audience
	return cfg
}
