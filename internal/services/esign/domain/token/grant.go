package token

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/inkform/inkform/internal/platform/errors"
)

// grantEnv holds raw env values before post-parse validation.
type grantEnv struct {
	Issuer   string `env:"INKFORM_SIGNING_GRANT_ISSUER"`
	Audience string `env:"INKFORM_SIGNING_GRANT_AUDIENCE"`
	Seed     string `env:"INKFORM_SIGNING_GRANT_SEED"`
}

// GrantConfig defines how signing grants are issued and verified.
type GrantConfig struct {
	Issuer     string
	Audience   string
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
	Now        func() time.Time
}

// GrantClaims captures validated signing grant claims.
type GrantClaims struct {
	Issuer     string
	Audience   []string
	ExpiresAt  time.Time
	IssuedAt   time.Time
	JWTID      string
	EnvelopeID string
	SignerID   string
	Email      string
}

// grantClaims is the internal claims type used for JWT signing and parsing.
type grantClaims struct {
	jwt.RegisteredClaims
	EnvelopeID string `json:"envelope_id"`
	SignerID   string `json:"signer_id"`
	Email      string `json:"email,omitempty"`
}

// LoadGrantConfigFromEnv reads grant configuration. The ed25519 key pair is
// derived from a base64 32-byte seed so a single env value covers issue and
// verify.
func LoadGrantConfigFromEnv(now func() time.Time) (GrantConfig, error) {
	var raw grantEnv
	if err := env.Parse(&raw); err != nil {
		return GrantConfig{}, fmt.Errorf("parse signing grant env: %w", err)
	}
	issuer := strings.TrimSpace(raw.Issuer)
	audience := strings.TrimSpace(raw.Audience)
	seed := strings.TrimSpace(raw.Seed)
	if issuer == "" {
		return GrantConfig{}, fmt.Errorf("INKFORM_SIGNING_GRANT_ISSUER is required")
	}
	if audience == "" {
		return GrantConfig{}, fmt.Errorf("INKFORM_SIGNING_GRANT_AUDIENCE is required")
	}
	if seed == "" {
		return GrantConfig{}, fmt.Errorf("INKFORM_SIGNING_GRANT_SEED is required")
	}
	seedBytes, err := decodeBase64(seed)
	if err != nil {
		return GrantConfig{}, fmt.Errorf("decode signing grant seed: %w", err)
	}
	if len(seedBytes) != ed25519.SeedSize {
		return GrantConfig{}, fmt.Errorf("signing grant seed must be %d bytes", ed25519.SeedSize)
	}
	if now == nil {
		now = time.Now
	}
	private := ed25519.NewKeyFromSeed(seedBytes)
	return GrantConfig{
		Issuer:     issuer,
		Audience:   audience,
		PrivateKey: private,
		PublicKey:  private.Public().(ed25519.PublicKey),
		Now:        now,
	}, nil
}

// IssueGrant signs a grant for the given token record. The grant's jti is the
// token id so the stored record can be located during validation.
func IssueGrant(tok Token, cfg GrantConfig) (string, error) {
	if len(cfg.PrivateKey) != ed25519.PrivateKeySize {
		return "", errors.New("grant issuer is not configured")
	}
	if strings.TrimSpace(tok.ID) == "" {
		return "", errors.New("token id is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	now := cfg.Now().UTC()
	claims := grantClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Audience:  jwt.ClaimStrings{cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(tok.ExpiresAt.UTC()),
			ID:        tok.ID,
		},
		EnvelopeID: tok.EnvelopeID,
		SignerID:   tok.SignerID,
		Email:      tok.Email,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(cfg.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("sign grant: %w", err)
	}
	return signed, nil
}

// ValidateGrant verifies a signing grant and validates expected claims.
// Binding fields in expected are optional: an empty field skips that check so
// the read-only validate command can accept a bare grant.
func ValidateGrant(grant string, expected Binding, cfg GrantConfig) (GrantClaims, error) {
	grant = strings.TrimSpace(grant)
	if grant == "" {
		return GrantClaims{}, apperrors.New(apperrors.CodeTokenInvalid, "signing grant is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Issuer == "" || cfg.Audience == "" || len(cfg.PublicKey) != ed25519.PublicKeySize {
		return GrantClaims{}, errors.New("grant verifier is not configured")
	}

	var parsed grantClaims
	_, err := jwt.ParseWithClaims(grant, &parsed, func(token *jwt.Token) (any, error) {
		return cfg.PublicKey, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return GrantClaims{}, mapJWTError(err)
	}

	if parsed.Issuer == "" || parsed.Issuer != cfg.Issuer {
		return GrantClaims{}, apperrors.WithMetadata(apperrors.CodeTokenInvalid,
			"signing grant issuer mismatch",
			map[string]string{"Field": "issuer"})
	}
	if !audienceContains(parsed.Audience, cfg.Audience) {
		return GrantClaims{}, apperrors.WithMetadata(apperrors.CodeTokenInvalid,
			"signing grant audience mismatch",
			map[string]string{"Field": "audience"})
	}
	if parsed.ID == "" {
		return GrantClaims{}, apperrors.New(apperrors.CodeTokenInvalid, "signing grant jti is required")
	}
	if parsed.ExpiresAt == nil {
		return GrantClaims{}, apperrors.New(apperrors.CodeTokenInvalid, "signing grant exp is required")
	}

	now := cfg.Now().UTC()
	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.After(now) {
		return GrantClaims{}, apperrors.New(apperrors.CodeTokenExpired, "signing grant is expired")
	}

	if expected.EnvelopeID != "" && parsed.EnvelopeID != expected.EnvelopeID {
		return GrantClaims{}, apperrors.WithMetadata(apperrors.CodeTokenEnvelopeMismatch,
			"signing grant envelope mismatch",
			map[string]string{"Field": "envelope_id"})
	}
	if expected.SignerID != "" && parsed.SignerID != expected.SignerID {
		return GrantClaims{}, apperrors.WithMetadata(apperrors.CodeTokenSignerMismatch,
			"signing grant party mismatch",
			map[string]string{"Field": "signer_id"})
	}
	if strings.TrimSpace(parsed.EnvelopeID) == "" || strings.TrimSpace(parsed.SignerID) == "" {
		return GrantClaims{}, apperrors.New(apperrors.CodeTokenInvalid, "signing grant binding is incomplete")
	}

	claims := GrantClaims{
		Issuer:     parsed.Issuer,
		Audience:   []string(parsed.Audience),
		ExpiresAt:  exp,
		JWTID:      parsed.ID,
		EnvelopeID: parsed.EnvelopeID,
		SignerID:   parsed.SignerID,
		Email:      parsed.Email,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	return claims, nil
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrEd25519Verification) {
		return apperrors.New(apperrors.CodeTokenInvalid, "signing grant signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.New(apperrors.CodeTokenInvalid, "signing grant alg is invalid")
	}
	return apperrors.New(apperrors.CodeTokenInvalid, "signing grant is invalid")
}

// audienceContains reports whether the audience list contains the given value.
func audienceContains(aud jwt.ClaimStrings, value string) bool {
	for _, item := range aud {
		if item == value {
			return true
		}
	}
	return false
}

func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
