package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	apperrors "github.com/inkform/inkform/internal/platform/errors"
	"github.com/inkform/inkform/internal/platform/id"
	"github.com/inkform/inkform/internal/platform/timeouts"
	"github.com/inkform/inkform/internal/services/esign/audit"
	"github.com/inkform/inkform/internal/services/esign/domain/envelope"
	"github.com/inkform/inkform/internal/services/esign/domain/signer"
	"github.com/inkform/inkform/internal/services/esign/domain/token"
	"github.com/inkform/inkform/internal/services/esign/kms"
	"github.com/inkform/inkform/internal/services/esign/storage"
)

// CompleteSigningWithToken finishes a signature authenticated by an
// invitation grant. Expected business-rule rejections come back as a
// structured result with Signed=false; crypto-adapter failures and storage
// outages are returned as errors.
func (s *Service) CompleteSigningWithToken(ctx context.Context, cmd CompleteSigningCommand) (SigningResult, error) {
	ctx, span := s.tracer.Start(ctx, "esign.CompleteSigningWithToken")
	defer span.End()

	result, err := s.completeSigning(ctx, cmd)
	if err != nil {
		if failure, ok := businessFailure(err); ok {
			return SigningResult{Signed: false, Failure: failure}, nil
		}
		return SigningResult{}, err
	}
	return result, nil
}

func (s *Service) completeSigning(ctx context.Context, cmd CompleteSigningCommand) (SigningResult, error) {
	binding := token.Binding{EnvelopeID: cmd.EnvelopeID, SignerID: cmd.SignerID}
	record, err := s.loadUsableToken(ctx, cmd.Grant, binding)
	if err != nil {
		return SigningResult{}, err
	}

	env, err := s.loadEnvelope(ctx, cmd.EnvelopeID)
	if err != nil {
		return SigningResult{}, err
	}
	if err := envelope.AssertSigningActive(env.Status); err != nil {
		return SigningResult{}, err
	}

	target, err := s.loadSignerInEnvelope(ctx, cmd.SignerID, cmd.EnvelopeID)
	if err != nil {
		return SigningResult{}, err
	}
	if err := signer.AssertPending(target); err != nil {
		return SigningResult{}, err
	}

	all, err := s.listAllSigners(ctx, cmd.EnvelopeID)
	if err != nil {
		return SigningResult{}, err
	}
	if err := signer.AssertReadyToSign(all, target, env.Routing); err != nil {
		return SigningResult{}, err
	}

	if _, ok := s.allowed[cmd.Algorithm]; !ok {
		return SigningResult{}, apperrors.WithMetadata(apperrors.CodeSigningAlgorithmUnsupported,
			"signing algorithm is not allowed",
			map[string]string{"Algorithm": cmd.Algorithm})
	}
	digest, err := decodeDigest(cmd.DigestHex)
	if err != nil {
		return SigningResult{}, err
	}
	if cmd.Consent == nil && target.Consent == nil {
		return SigningResult{}, apperrors.New(apperrors.CodeSigningConsentMissing,
			"electronic signature consent has not been given")
	}

	// The crypto sign happens before any state mutation: a failure here
	// leaves the token active and the signer pending, so the caller can
	// simply resubmit.
	signed, err := s.signDigest(ctx, digest, cmd.Algorithm)
	if err != nil {
		return SigningResult{}, err
	}

	now := s.now()
	err = s.tokens.ConsumeToken(ctx, record.ID, storage.TokenRedemption{
		IP:        cmd.Network.IP,
		UserAgent: cmd.Network.UserAgent,
		UsedAt:    now,
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrPreconditionFailed):
			return SigningResult{}, apperrors.New(apperrors.CodeTokenAlreadyUsed,
				"invitation token was already used")
		case errors.Is(err, storage.ErrNotFound):
			return SigningResult{}, apperrors.New(apperrors.CodeTokenInvalid,
				"invitation token is not recognized")
		default:
			return SigningResult{}, fmt.Errorf("consume token: %w", err)
		}
	}

	if cmd.Consent != nil && target.Consent == nil {
		err = s.signers.RecordSignerConsent(ctx, storage.SignerConsentPatch{
			SignerID:   target.ID,
			EnvelopeID: env.ID,
			Consent: signer.Consent{
				Text:      cmd.Consent.Text,
				Version:   cmd.Consent.Version,
				GivenAt:   now,
				IP:        cmd.Network.IP,
				UserAgent: cmd.Network.UserAgent,
				Locale:    cmd.Network.Locale,
			},
		})
		if err != nil && !errors.Is(err, storage.ErrPreconditionFailed) {
			return SigningResult{}, fmt.Errorf("record consent: %w", err)
		}
	}

	signatureID := id.NewWithPrefix("sig")
	signatureHash := sha256.Sum256(signed.Signature)
	err = s.signers.MarkSignerSigned(ctx, storage.SignerSignedPatch{
		SignerID:   target.ID,
		EnvelopeID: env.ID,
		Artifact: signer.Artifact{
			SignatureID:     signatureID,
			DocumentHash:    cmd.DigestHex,
			SignatureHash:   hex.EncodeToString(signatureHash[:]),
			SignedObjectKey: fmt.Sprintf("signatures/%s/%s.sig", env.ID, signatureID),
			KeyID:           signed.KeyID,
			Algorithm:       signed.Algorithm,
		},
		Network: signer.NetworkContext{
			IP:        cmd.Network.IP,
			UserAgent: cmd.Network.UserAgent,
			Locale:    cmd.Network.Locale,
		},
		SignedAt: now,
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrPreconditionFailed):
			return SigningResult{}, apperrors.WithMetadata(apperrors.CodeSignerAlreadySigned,
				"signer has already signed",
				map[string]string{"SignerID": target.ID})
		case errors.Is(err, storage.ErrNotFound):
			return SigningResult{}, apperrors.WithMetadata(apperrors.CodeNotFound,
				"signer not found",
				map[string]string{"SignerID": target.ID})
		default:
			return SigningResult{}, fmt.Errorf("mark signer signed: %w", err)
		}
	}

	status, err := s.advanceEnvelope(ctx, env)
	if err != nil {
		return SigningResult{}, err
	}

	s.audit.Emit(ctx, audit.Entry{
		EnvelopeID: env.ID,
		SignerID:   target.ID,
		Type:       audit.EventSignerSigned,
		Metadata: map[string]string{
			"signature_id": signatureID,
			"algorithm":    signed.Algorithm,
			"key_id":       signed.KeyID,
		},
	})
	if status == envelope.StatusCompleted {
		s.audit.Emit(ctx, audit.Entry{
			EnvelopeID: env.ID,
			Type:       audit.EventEnvelopeCompleted,
		})
	}

	return SigningResult{
		Signed:         true,
		SignatureID:    signatureID,
		EnvelopeStatus: status,
		SignedAt:       now,
	}, nil
}

// signDigest invokes the key service under its own deadline. Any failure,
// timeouts included, maps to the signing-failed code and is never retried
// here.
func (s *Service) signDigest(ctx context.Context, digest []byte, algorithm string) (kms.SignResult, error) {
	ctx, span := s.tracer.Start(ctx, "esign.kms.Sign")
	defer span.End()

	signCtx, cancel := context.WithTimeout(ctx, timeouts.KMSSign)
	defer cancel()

	result, err := s.keys.Sign(signCtx, kms.SignRequest{Digest: digest, Algorithm: algorithm})
	if err != nil {
		return kms.SignResult{}, apperrors.Wrap(apperrors.CodeSigningFailed,
			"key service failed to sign the digest", err)
	}
	return result, nil
}

// advanceEnvelope recomputes the completion predicate over a fresh signer
// read and moves the envelope forward. A failed guard means another request
// transitioned the envelope concurrently; the fresh status is reported
// instead of an error.
func (s *Service) advanceEnvelope(ctx context.Context, env envelope.Envelope) (envelope.Status, error) {
	all, err := s.listAllSigners(ctx, env.ID)
	if err != nil {
		return "", err
	}

	target := env.Status
	switch {
	case signer.AllRequiredSigned(all):
		target = envelope.StatusCompleted
	case env.Status == envelope.StatusSent:
		target = envelope.StatusInProgress
	}
	if target == env.Status {
		return env.Status, nil
	}

	err = s.envelopes.UpdateEnvelopeStatus(ctx, env.ID, env.Status, target, s.now())
	if err == nil {
		return target, nil
	}
	if errors.Is(err, storage.ErrPreconditionFailed) {
		current, getErr := s.envelopes.GetEnvelope(ctx, env.ID)
		if getErr != nil {
			return "", fmt.Errorf("reload envelope after concurrent transition: %w", getErr)
		}
		return current.Status, nil
	}
	return "", fmt.Errorf("update envelope status: %w", err)
}

// DeclineSigning records a signer's refusal, consuming the invitation token
// and moving the envelope to declined.
func (s *Service) DeclineSigning(ctx context.Context, cmd DeclineSigningCommand) (DeclineResult, error) {
	ctx, span := s.tracer.Start(ctx, "esign.DeclineSigning")
	defer span.End()

	result, err := s.declineSigning(ctx, cmd)
	if err != nil {
		if failure, ok := businessFailure(err); ok {
			return DeclineResult{Declined: false, Failure: failure}, nil
		}
		return DeclineResult{}, err
	}
	return result, nil
}

func (s *Service) declineSigning(ctx context.Context, cmd DeclineSigningCommand) (DeclineResult, error) {
	binding := token.Binding{EnvelopeID: cmd.EnvelopeID, SignerID: cmd.SignerID}
	record, err := s.loadUsableToken(ctx, cmd.Grant, binding)
	if err != nil {
		return DeclineResult{}, err
	}

	env, err := s.loadEnvelope(ctx, cmd.EnvelopeID)
	if err != nil {
		return DeclineResult{}, err
	}
	if err := envelope.AssertSigningActive(env.Status); err != nil {
		return DeclineResult{}, err
	}

	target, err := s.loadSignerInEnvelope(ctx, cmd.SignerID, cmd.EnvelopeID)
	if err != nil {
		return DeclineResult{}, err
	}
	if err := signer.AssertPending(target); err != nil {
		return DeclineResult{}, err
	}

	now := s.now()
	err = s.tokens.ConsumeToken(ctx, record.ID, storage.TokenRedemption{
		IP:        cmd.Network.IP,
		UserAgent: cmd.Network.UserAgent,
		UsedAt:    now,
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrPreconditionFailed):
			return DeclineResult{}, apperrors.New(apperrors.CodeTokenAlreadyUsed,
				"invitation token was already used")
		case errors.Is(err, storage.ErrNotFound):
			return DeclineResult{}, apperrors.New(apperrors.CodeTokenInvalid,
				"invitation token is not recognized")
		default:
			return DeclineResult{}, fmt.Errorf("consume token: %w", err)
		}
	}

	err = s.signers.MarkSignerDeclined(ctx, storage.SignerDeclinedPatch{
		SignerID:   target.ID,
		EnvelopeID: env.ID,
		Reason:     cmd.Reason,
		Network: signer.NetworkContext{
			IP:        cmd.Network.IP,
			UserAgent: cmd.Network.UserAgent,
			Locale:    cmd.Network.Locale,
		},
		DeclinedAt: now,
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrPreconditionFailed):
			return DeclineResult{}, apperrors.WithMetadata(apperrors.CodeSignerAlreadyDeclined,
				"signer state changed concurrently",
				map[string]string{"SignerID": target.ID})
		case errors.Is(err, storage.ErrNotFound):
			return DeclineResult{}, apperrors.WithMetadata(apperrors.CodeNotFound,
				"signer not found",
				map[string]string{"SignerID": target.ID})
		default:
			return DeclineResult{}, fmt.Errorf("mark signer declined: %w", err)
		}
	}

	status := envelope.StatusDeclined
	err = s.envelopes.UpdateEnvelopeStatus(ctx, env.ID, env.Status, envelope.StatusDeclined, now)
	if err != nil {
		if !errors.Is(err, storage.ErrPreconditionFailed) {
			return DeclineResult{}, fmt.Errorf("update envelope status: %w", err)
		}
		current, getErr := s.envelopes.GetEnvelope(ctx, env.ID)
		if getErr != nil {
			return DeclineResult{}, fmt.Errorf("reload envelope after concurrent transition: %w", getErr)
		}
		status = current.Status
	}

	if err := s.tokens.RevokeActiveTokensForEnvelope(ctx, env.ID, now); err != nil {
		return DeclineResult{}, fmt.Errorf("revoke envelope tokens: %w", err)
	}

	s.audit.Emit(ctx, audit.Entry{
		EnvelopeID: env.ID,
		SignerID:   target.ID,
		Type:       audit.EventSignerDeclined,
		Metadata:   map[string]string{"reason": cmd.Reason},
	})
	s.audit.Emit(ctx, audit.Entry{
		EnvelopeID: env.ID,
		Type:       audit.EventEnvelopeDeclined,
	})

	return DeclineResult{Declined: true, EnvelopeStatus: status}, nil
}

// RecordSigningConsent captures consent ahead of signing. Read-validates the
// grant without consuming it; the token stays active for the signature.
func (s *Service) RecordSigningConsent(ctx context.Context, cmd RecordConsentCommand) (ConsentResult, error) {
	ctx, span := s.tracer.Start(ctx, "esign.RecordSigningConsent")
	defer span.End()

	err := s.recordConsent(ctx, cmd)
	if err != nil {
		if failure, ok := businessFailure(err); ok {
			return ConsentResult{Recorded: false, Failure: failure}, nil
		}
		return ConsentResult{}, err
	}
	return ConsentResult{Recorded: true}, nil
}

func (s *Service) recordConsent(ctx context.Context, cmd RecordConsentCommand) error {
	binding := token.Binding{EnvelopeID: cmd.EnvelopeID, SignerID: cmd.SignerID}
	if _, err := s.loadUsableToken(ctx, cmd.Grant, binding); err != nil {
		return err
	}

	env, err := s.loadEnvelope(ctx, cmd.EnvelopeID)
	if err != nil {
		return err
	}
	if err := envelope.AssertSigningActive(env.Status); err != nil {
		return err
	}

	target, err := s.loadSignerInEnvelope(ctx, cmd.SignerID, cmd.EnvelopeID)
	if err != nil {
		return err
	}
	if err := signer.AssertPending(target); err != nil {
		return err
	}

	now := s.now()
	err = s.signers.RecordSignerConsent(ctx, storage.SignerConsentPatch{
		SignerID:   target.ID,
		EnvelopeID: env.ID,
		Consent: signer.Consent{
			Text:      cmd.Consent.Text,
			Version:   cmd.Consent.Version,
			GivenAt:   now,
			IP:        cmd.Network.IP,
			UserAgent: cmd.Network.UserAgent,
			Locale:    cmd.Network.Locale,
		},
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrPreconditionFailed):
			return apperrors.WithMetadata(apperrors.CodeSignerAlreadySigned,
				"signer is no longer pending",
				map[string]string{"SignerID": target.ID})
		case errors.Is(err, storage.ErrNotFound):
			return apperrors.WithMetadata(apperrors.CodeNotFound,
				"signer not found",
				map[string]string{"SignerID": target.ID})
		default:
			return fmt.Errorf("record consent: %w", err)
		}
	}

	s.audit.Emit(ctx, audit.Entry{
		EnvelopeID: env.ID,
		SignerID:   target.ID,
		Type:       audit.EventConsentRecorded,
		Metadata:   map[string]string{"consent_version": cmd.Consent.Version},
	})
	return nil
}

// ValidateInvitationToken checks a grant and its stored record without any
// side effect. Safe to call before rendering a signing session.
func (s *Service) ValidateInvitationToken(ctx context.Context, cmd ValidateTokenCommand) (TokenValidation, error) {
	ctx, span := s.tracer.Start(ctx, "esign.ValidateInvitationToken")
	defer span.End()

	record, err := s.loadUsableToken(ctx, cmd.Grant, token.Binding{})
	if err != nil {
		if failure, ok := businessFailure(err); ok {
			return TokenValidation{Valid: false, Failure: failure}, nil
		}
		return TokenValidation{}, err
	}

	s.audit.Emit(ctx, audit.Entry{
		EnvelopeID: record.EnvelopeID,
		SignerID:   record.SignerID,
		Type:       audit.EventTokenValidated,
	})

	return TokenValidation{
		Valid:      true,
		EnvelopeID: record.EnvelopeID,
		SignerID:   record.SignerID,
		Email:      record.Email,
		ExpiresAt:  record.ExpiresAt,
	}, nil
}

// decodeDigest parses the hex SHA-256 content digest.
func decodeDigest(digestHex string) ([]byte, error) {
	digest, err := hex.DecodeString(digestHex)
	if err != nil || len(digest) != sha256.Size {
		return nil, apperrors.New(apperrors.CodeSigningDigestInvalid,
			"content digest must be a hex SHA-256 value")
	}
	return digest, nil
}
