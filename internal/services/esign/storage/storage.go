// Package storage defines the persistence interfaces for the signing service.
//
// Every mutation that guards a lifecycle invariant is expressed as a
// conditional write: the store applies it only when the current row still
// matches the stated precondition and reports ErrPreconditionFailed
// otherwise. ErrNotFound is reserved for rows that do not exist at all, so
// callers can always tell "absent" from "exists but moved on".
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/inkform/inkform/internal/services/esign/domain/envelope"
	"github.com/inkform/inkform/internal/services/esign/domain/signer"
	"github.com/inkform/inkform/internal/services/esign/domain/token"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// ErrPreconditionFailed indicates a conditional write found the record in a
// different state than the caller expected.
var ErrPreconditionFailed = errors.New("storage precondition failed")

// EnvelopeStore persists envelope aggregate records.
type EnvelopeStore interface {
	// CreateEnvelope inserts a new envelope; it fails with
	// ErrPreconditionFailed when the id already exists.
	CreateEnvelope(ctx context.Context, env envelope.Envelope) error
	GetEnvelope(ctx context.Context, id string) (envelope.Envelope, error)
	// UpdateEnvelopeStatus moves an envelope from the expected status to the
	// new one. The guard makes concurrent completion attempts no-op instead
	// of clobbering each other.
	UpdateEnvelopeStatus(ctx context.Context, id string, from, to envelope.Status, at time.Time) error
}

// SignerSignedPatch carries exactly the fields a completed signature is
// allowed to set. The store applies it only while the signer is pending.
type SignerSignedPatch struct {
	SignerID   string
	EnvelopeID string
	Artifact   signer.Artifact
	Network    signer.NetworkContext
	SignedAt   time.Time
}

// SignerDeclinedPatch carries the fields a decline is allowed to set.
type SignerDeclinedPatch struct {
	SignerID   string
	EnvelopeID string
	Reason     string
	Network    signer.NetworkContext
	DeclinedAt time.Time
}

// SignerConsentPatch records electronic-signature consent for a pending signer.
type SignerConsentPatch struct {
	SignerID   string
	EnvelopeID string
	Consent    signer.Consent
}

// SignerPage is one page of signers for an envelope.
type SignerPage struct {
	Signers       []signer.Signer
	NextPageToken string
}

// SignerStore persists signing party records.
type SignerStore interface {
	CreateSigner(ctx context.Context, s signer.Signer) error
	GetSigner(ctx context.Context, id string) (signer.Signer, error)
	// ListSignersByEnvelope returns signers ordered by signing order, then id,
	// with cursor pagination.
	ListSignersByEnvelope(ctx context.Context, envelopeID string, pageSize int, pageToken string) (SignerPage, error)
	// MarkSignerSigned applies the signature patch guarded by status=pending.
	MarkSignerSigned(ctx context.Context, patch SignerSignedPatch) error
	// MarkSignerDeclined applies the decline patch guarded by status=pending.
	MarkSignerDeclined(ctx context.Context, patch SignerDeclinedPatch) error
	// RecordSignerConsent stores consent guarded by status=pending.
	RecordSignerConsent(ctx context.Context, patch SignerConsentPatch) error
}

// TokenRedemption captures the network context recorded when a token is used.
type TokenRedemption struct {
	IP        string
	UserAgent string
	UsedAt    time.Time
}

// TokenStore persists single-use invitation tokens.
type TokenStore interface {
	CreateToken(ctx context.Context, tok token.Token) error
	GetToken(ctx context.Context, id string) (token.Token, error)
	// ConsumeToken transitions active -> used guarded by status=active. A
	// failed guard means another request already redeemed the token.
	ConsumeToken(ctx context.Context, id string, redemption TokenRedemption) error
	// RevokeActiveTokensForEnvelope invalidates outstanding invitations, used
	// when an envelope is canceled or declined.
	RevokeActiveTokensForEnvelope(ctx context.Context, envelopeID string, at time.Time) error
}

// IdempotencyRecord stores the replayable result of an executed command.
type IdempotencyRecord struct {
	Key       string
	Result    []byte
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IdempotencyStore persists first-writer-wins command results.
type IdempotencyStore interface {
	GetIdempotencyRecord(ctx context.Context, key string) (IdempotencyRecord, error)
	// PutIdempotencyRecord writes the record when the key is missing or its
	// existing record has expired, and fails with ErrPreconditionFailed when a
	// live record exists. Liveness is judged against the new record's
	// CreatedAt.
	PutIdempotencyRecord(ctx context.Context, record IdempotencyRecord) error
}

// AuditEvent is one append-only entry in the envelope audit trail.
type AuditEvent struct {
	ID         string
	EnvelopeID string
	SignerID   string
	Type       string
	ActorID    string
	Metadata   map[string]string
	OccurredAt time.Time
}

// AuditStore persists the append-only audit trail.
type AuditStore interface {
	AppendAuditEvent(ctx context.Context, event AuditEvent) error
	ListAuditEvents(ctx context.Context, envelopeID string) ([]AuditEvent, error)
}
