package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	apperrors "github.com/inkform/inkform/internal/platform/errors"
	"github.com/inkform/inkform/internal/platform/id"
	"github.com/inkform/inkform/internal/services/esign/audit"
	"github.com/inkform/inkform/internal/services/esign/domain/envelope"
	"github.com/inkform/inkform/internal/services/esign/domain/signer"
	"github.com/inkform/inkform/internal/services/esign/domain/token"
	"github.com/inkform/inkform/internal/services/esign/storage"
)

// loadEnvelope reads an envelope, mapping a missing row to a typed not-found.
func (s *Service) loadEnvelope(ctx context.Context, envelopeID string) (envelope.Envelope, error) {
	env, err := s.envelopes.GetEnvelope(ctx, envelopeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return envelope.Envelope{}, apperrors.WithMetadata(apperrors.CodeNotFound,
				"envelope not found",
				map[string]string{"EnvelopeID": envelopeID})
		}
		return envelope.Envelope{}, fmt.Errorf("load envelope %s: %w", envelopeID, err)
	}
	return env, nil
}

// CreateEnvelope creates a draft envelope with its parties. This is the
// authenticated entry point, so business-rule failures propagate as typed
// errors instead of structured results. When the command carries an
// idempotency key, retries replay the first execution's envelope.
func (s *Service) CreateEnvelope(ctx context.Context, cmd CreateEnvelopeCommand) (envelope.Envelope, error) {
	ctx, span := s.tracer.Start(ctx, "esign.CreateEnvelope")
	defer span.End()

	routing, ok := envelope.NormalizeRoutingMode(cmd.Routing)
	if !ok {
		return envelope.Envelope{}, apperrors.WithMetadata(apperrors.CodeEnvelopeInvalidRoutingMode,
			"invalid envelope routing mode",
			map[string]string{"Mode": cmd.Routing})
	}
	if len(cmd.Signers) == 0 {
		return envelope.Envelope{}, apperrors.New(apperrors.CodeEnvelopeNoSigners,
			"an envelope needs at least one signer")
	}

	if cmd.IdempotencyKey == "" || s.runner == nil {
		return s.createEnvelope(ctx, cmd, routing)
	}

	result, _, err := s.runner.Run(ctx, "create-envelope:"+cmd.IdempotencyKey, func(ctx context.Context) ([]byte, error) {
		env, err := s.createEnvelope(ctx, cmd, routing)
		if err != nil {
			return nil, err
		}
		return json.Marshal(struct {
			EnvelopeID string `json:"envelope_id"`
		}{EnvelopeID: env.ID})
	})
	if err != nil {
		return envelope.Envelope{}, err
	}
	var stored struct {
		EnvelopeID string `json:"envelope_id"`
	}
	if err := json.Unmarshal(result, &stored); err != nil {
		return envelope.Envelope{}, fmt.Errorf("decode idempotency result: %w", err)
	}
	return s.loadEnvelope(ctx, stored.EnvelopeID)
}

func (s *Service) createEnvelope(ctx context.Context, cmd CreateEnvelopeCommand, routing envelope.RoutingMode) (envelope.Envelope, error) {
	now := s.now()
	env := envelope.Envelope{
		ID:          id.NewWithPrefix("env"),
		OwnerID:     cmd.OwnerID,
		Title:       cmd.Title,
		Status:      envelope.StatusDraft,
		Routing:     routing,
		DocumentIDs: cmd.DocumentIDs,
		Metadata:    cmd.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := envelope.Validate(env); err != nil {
		return envelope.Envelope{}, err
	}

	parties := make([]signer.Signer, 0, len(cmd.Signers))
	for i, input := range cmd.Signers {
		role := input.Role
		if role == "" {
			role = signer.RoleSigner
		}
		order := input.Order
		if order == 0 {
			order = i + 1
		}
		party := signer.Signer{
			ID:          id.NewWithPrefix("sgn"),
			EnvelopeID:  env.ID,
			Email:       input.Email,
			DisplayName: input.DisplayName,
			Role:        role,
			Order:       order,
			Status:      signer.StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := signer.Validate(party); err != nil {
			return envelope.Envelope{}, err
		}
		parties = append(parties, party)
		env.SignerIDs = append(env.SignerIDs, party.ID)
	}

	if err := s.envelopes.CreateEnvelope(ctx, env); err != nil {
		return envelope.Envelope{}, fmt.Errorf("create envelope: %w", err)
	}
	for _, party := range parties {
		if err := s.signers.CreateSigner(ctx, party); err != nil {
			return envelope.Envelope{}, fmt.Errorf("create signer %s: %w", party.ID, err)
		}
	}

	s.audit.Emit(ctx, audit.Entry{
		EnvelopeID: env.ID,
		Type:       audit.EventEnvelopeCreated,
		ActorID:    cmd.OwnerID,
		Metadata:   map[string]string{"routing": string(routing)},
	})
	return env, nil
}

// SendEnvelope moves a draft envelope to sent and issues one invitation
// grant per pending signer.
func (s *Service) SendEnvelope(ctx context.Context, cmd SendEnvelopeCommand) (SendResult, error) {
	ctx, span := s.tracer.Start(ctx, "esign.SendEnvelope")
	defer span.End()

	env, err := s.loadEnvelope(ctx, cmd.EnvelopeID)
	if err != nil {
		return SendResult{}, err
	}
	if err := envelope.AssertTransition(env.Status, envelope.StatusSent); err != nil {
		return SendResult{}, err
	}

	all, err := s.listAllSigners(ctx, env.ID)
	if err != nil {
		return SendResult{}, err
	}

	now := s.now()
	if err := s.envelopes.UpdateEnvelopeStatus(ctx, env.ID, env.Status, envelope.StatusSent, now); err != nil {
		if errors.Is(err, storage.ErrPreconditionFailed) {
			return SendResult{}, apperrors.WithMetadata(apperrors.CodeEnvelopeInvalidStatusTransition,
				"envelope state changed concurrently",
				map[string]string{"EnvelopeID": env.ID})
		}
		return SendResult{}, fmt.Errorf("update envelope status: %w", err)
	}

	result := SendResult{EnvelopeStatus: envelope.StatusSent}
	for _, party := range all {
		if party.Role != signer.RoleSigner || party.Status != signer.StatusPending {
			continue
		}
		record := token.Token{
			ID:         id.NewWithPrefix("tok"),
			EnvelopeID: env.ID,
			SignerID:   party.ID,
			Email:      party.Email,
			Status:     token.StatusActive,
			ExpiresAt:  now.Add(s.tokenTTL),
			CreatedAt:  now,
		}
		if err := s.tokens.CreateToken(ctx, record); err != nil {
			return SendResult{}, fmt.Errorf("create token for signer %s: %w", party.ID, err)
		}
		grant, err := token.IssueGrant(record, s.grants)
		if err != nil {
			return SendResult{}, fmt.Errorf("issue grant for signer %s: %w", party.ID, err)
		}
		result.Invitations = append(result.Invitations, Invitation{
			SignerID:  party.ID,
			Email:     party.Email,
			Grant:     grant,
			ExpiresAt: record.ExpiresAt,
		})
		s.audit.Emit(ctx, audit.Entry{
			EnvelopeID: env.ID,
			SignerID:   party.ID,
			Type:       audit.EventTokenIssued,
			ActorID:    cmd.ActorID,
		})
	}

	s.audit.Emit(ctx, audit.Entry{
		EnvelopeID: env.ID,
		Type:       audit.EventEnvelopeSent,
		ActorID:    cmd.ActorID,
		Metadata:   map[string]string{"invitations": fmt.Sprintf("%d", len(result.Invitations))},
	})
	return result, nil
}

// CancelEnvelope moves an envelope to canceled and revokes its outstanding
// invitations.
func (s *Service) CancelEnvelope(ctx context.Context, cmd CancelEnvelopeCommand) error {
	ctx, span := s.tracer.Start(ctx, "esign.CancelEnvelope")
	defer span.End()

	env, err := s.loadEnvelope(ctx, cmd.EnvelopeID)
	if err != nil {
		return err
	}
	if err := envelope.AssertTransition(env.Status, envelope.StatusCanceled); err != nil {
		return err
	}

	now := s.now()
	if err := s.envelopes.UpdateEnvelopeStatus(ctx, env.ID, env.Status, envelope.StatusCanceled, now); err != nil {
		if errors.Is(err, storage.ErrPreconditionFailed) {
			return apperrors.WithMetadata(apperrors.CodeEnvelopeInvalidStatusTransition,
				"envelope state changed concurrently",
				map[string]string{"EnvelopeID": env.ID})
		}
		return fmt.Errorf("update envelope status: %w", err)
	}
	if err := s.tokens.RevokeActiveTokensForEnvelope(ctx, env.ID, now); err != nil {
		return fmt.Errorf("revoke envelope tokens: %w", err)
	}

	s.audit.Emit(ctx, audit.Entry{
		EnvelopeID: env.ID,
		Type:       audit.EventEnvelopeCanceled,
		ActorID:    cmd.ActorID,
		Metadata:   map[string]string{"reason": cmd.Reason},
	})
	return nil
}

// GetEnvelope reads one envelope.
func (s *Service) GetEnvelope(ctx context.Context, envelopeID string) (envelope.Envelope, error) {
	return s.loadEnvelope(ctx, envelopeID)
}

// ListSigners pages through an envelope's parties.
func (s *Service) ListSigners(ctx context.Context, cmd ListSignersCommand) (SignerList, error) {
	page, err := s.signers.ListSignersByEnvelope(ctx, cmd.EnvelopeID, cmd.PageSize, cmd.PageToken)
	if err != nil {
		return SignerList{}, fmt.Errorf("list signers for envelope %s: %w", cmd.EnvelopeID, err)
	}
	return SignerList{Signers: page.Signers, NextPageToken: page.NextPageToken}, nil
}

// ListAuditTrail returns the append-only audit events for an envelope.
func (s *Service) ListAuditTrail(ctx context.Context, envelopeID string) ([]storage.AuditEvent, error) {
	if s.trail == nil {
		return nil, nil
	}
	events, err := s.trail.ListAuditEvents(ctx, envelopeID)
	if err != nil {
		return nil, fmt.Errorf("list audit events for envelope %s: %w", envelopeID, err)
	}
	return events, nil
}
