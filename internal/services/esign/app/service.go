// Package app implements the signing orchestrator: the command surface that
// coordinates domain rules, conditional storage writes, the key service, and
// audit emission. All coordination happens through per-entity conditional
// writes; the orchestrator holds no cross-request state.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/inkform/inkform/internal/platform/errors"
	"github.com/inkform/inkform/internal/services/esign/audit"
	"github.com/inkform/inkform/internal/services/esign/domain/signer"
	"github.com/inkform/inkform/internal/services/esign/domain/token"
	"github.com/inkform/inkform/internal/services/esign/idempotency"
	"github.com/inkform/inkform/internal/services/esign/kms"
	"github.com/inkform/inkform/internal/services/esign/storage"
)

const defaultTokenTTL = 14 * 24 * time.Hour

// Config wires the orchestrator's dependencies. Stores, the key service, and
// the grant config are required; the rest default sensibly.
type Config struct {
	Envelopes storage.EnvelopeStore
	Signers   storage.SignerStore
	Tokens    storage.TokenStore
	Keys      kms.Signer
	Runner    *idempotency.Runner
	Audit     *audit.Emitter
	// AuditTrail serves trail reads; usually the same store the emitter
	// writes to. Optional.
	AuditTrail storage.AuditStore
	Grants     token.GrantConfig
	// AllowedAlgorithms is the signing algorithm allow-list. Empty means all
	// algorithms the key service supports.
	AllowedAlgorithms []string
	// TokenTTL bounds invitation token lifetime. Zero defaults to 14 days.
	TokenTTL time.Duration
	Now      func() time.Time
}

// Service is the signing orchestrator.
type Service struct {
	envelopes storage.EnvelopeStore
	signers   storage.SignerStore
	tokens    storage.TokenStore
	keys      kms.Signer
	runner    *idempotency.Runner
	audit     *audit.Emitter
	trail     storage.AuditStore
	grants    token.GrantConfig
	allowed   map[string]struct{}
	tokenTTL  time.Duration
	now       func() time.Time
	tracer    trace.Tracer
}

// NewService builds the orchestrator from explicit dependencies.
func NewService(cfg Config) (*Service, error) {
	if cfg.Envelopes == nil || cfg.Signers == nil || cfg.Tokens == nil {
		return nil, fmt.Errorf("envelope, signer and token stores are required")
	}
	if cfg.Keys == nil {
		return nil, fmt.Errorf("key service is required")
	}
	if cfg.Grants.Issuer == "" || cfg.Grants.Audience == "" {
		return nil, fmt.Errorf("grant config is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	algorithms := cfg.AllowedAlgorithms
	if len(algorithms) == 0 {
		algorithms = []string{kms.AlgorithmEd25519, kms.AlgorithmES256}
	}
	allowed := make(map[string]struct{}, len(algorithms))
	for _, algorithm := range algorithms {
		allowed[algorithm] = struct{}{}
	}
	return &Service{
		envelopes: cfg.Envelopes,
		signers:   cfg.Signers,
		tokens:    cfg.Tokens,
		keys:      cfg.Keys,
		runner:    cfg.Runner,
		audit:     cfg.Audit,
		trail:     cfg.AuditTrail,
		grants:    cfg.Grants,
		allowed:   allowed,
		tokenTTL:  ttl,
		now:       now,
		tracer:    otel.Tracer("inkform.esign"),
	}, nil
}

// businessFailure classifies an error as an expected business-rule rejection.
// Infrastructure errors and crypto-adapter failures are not business
// failures; callers propagate those instead of folding them into results.
func businessFailure(err error) (*apperrors.Error, bool) {
	var typed *apperrors.Error
	if !errors.As(err, &typed) {
		return nil, false
	}
	switch typed.Code {
	case apperrors.CodeUnknown, apperrors.CodeSigningFailed:
		return nil, false
	}
	return typed, true
}

// listAllSigners reads the full signer set for an envelope, following
// pagination to the end. The completion predicate and the ordering rule both
// need the whole set.
func (s *Service) listAllSigners(ctx context.Context, envelopeID string) ([]signer.Signer, error) {
	var (
		all       []signer.Signer
		pageToken string
	)
	for {
		page, err := s.signers.ListSignersByEnvelope(ctx, envelopeID, 0, pageToken)
		if err != nil {
			return nil, fmt.Errorf("list signers for envelope %s: %w", envelopeID, err)
		}
		all = append(all, page.Signers...)
		if page.NextPageToken == "" {
			return all, nil
		}
		pageToken = page.NextPageToken
	}
}

// loadUsableToken verifies a grant, loads its stored record, and checks the
// record against the expected binding and the clock. Read-only.
func (s *Service) loadUsableToken(ctx context.Context, grant string, expected token.Binding) (token.Token, error) {
	claims, err := token.ValidateGrant(grant, expected, s.grants)
	if err != nil {
		return token.Token{}, err
	}
	record, err := s.tokens.GetToken(ctx, claims.JWTID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return token.Token{}, apperrors.New(apperrors.CodeTokenInvalid, "invitation token is not recognized")
		}
		return token.Token{}, fmt.Errorf("load token record: %w", err)
	}
	binding := expected
	if binding.EnvelopeID == "" {
		binding = token.Binding{EnvelopeID: claims.EnvelopeID, SignerID: claims.SignerID}
	}
	if err := token.AssertUsable(record, binding, s.now()); err != nil {
		return token.Token{}, err
	}
	return record, nil
}

// loadSignerInEnvelope reads a signer and checks envelope membership.
func (s *Service) loadSignerInEnvelope(ctx context.Context, signerID, envelopeID string) (signer.Signer, error) {
	target, err := s.signers.GetSigner(ctx, signerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return signer.Signer{}, apperrors.WithMetadata(apperrors.CodeNotFound,
				"signer not found",
				map[string]string{"SignerID": signerID})
		}
		return signer.Signer{}, fmt.Errorf("load signer %s: %w", signerID, err)
	}
	if target.EnvelopeID != envelopeID {
		return signer.Signer{}, apperrors.WithMetadata(apperrors.CodeSignerNotInEnvelope,
			"signer does not belong to the envelope",
			map[string]string{"SignerID": signerID, "EnvelopeID": envelopeID})
	}
	return target, nil
}
