package app

import (
	"time"

	apperrors "github.com/inkform/inkform/internal/platform/errors"
	"github.com/inkform/inkform/internal/services/esign/domain/envelope"
	"github.com/inkform/inkform/internal/services/esign/domain/signer"
)

// NetworkContext carries where a request originated, recorded alongside
// signer mutations and token redemptions.
type NetworkContext struct {
	IP        string
	UserAgent string
	Locale    string
}

// ConsentPayload is the electronic-signature consent presented by a signer.
type ConsentPayload struct {
	Text    string
	Version string
}

// CompleteSigningCommand asks the orchestrator to finish a signature using an
// invitation grant.
type CompleteSigningCommand struct {
	EnvelopeID string
	SignerID   string
	Grant      string
	// DigestHex is the lowercase hex SHA-256 digest of the document content.
	DigestHex string
	Algorithm string
	Consent   *ConsentPayload
	Network   NetworkContext
}

// SigningResult reports the outcome of a signing attempt. Business-rule
// rejections come back in Failure with Signed=false; infrastructure and
// crypto-adapter errors are returned as ordinary errors instead.
type SigningResult struct {
	Signed         bool
	SignatureID    string
	EnvelopeStatus envelope.Status
	SignedAt       time.Time
	Failure        *apperrors.Error
}

// DeclineSigningCommand asks the orchestrator to record a decline using an
// invitation grant.
type DeclineSigningCommand struct {
	EnvelopeID string
	SignerID   string
	Grant      string
	Reason     string
	Network    NetworkContext
}

// DeclineResult reports the outcome of a decline attempt.
type DeclineResult struct {
	Declined       bool
	EnvelopeStatus envelope.Status
	Failure        *apperrors.Error
}

// RecordConsentCommand captures consent ahead of signing.
type RecordConsentCommand struct {
	EnvelopeID string
	SignerID   string
	Grant      string
	Consent    ConsentPayload
	Network    NetworkContext
}

// ConsentResult reports the outcome of a consent capture.
type ConsentResult struct {
	Recorded bool
	Failure  *apperrors.Error
}

// ValidateTokenCommand checks an invitation grant without side effects.
type ValidateTokenCommand struct {
	Grant string
}

// TokenValidation reports what a grant is bound to, or why it is unusable.
type TokenValidation struct {
	Valid      bool
	EnvelopeID string
	SignerID   string
	Email      string
	ExpiresAt  time.Time
	Failure    *apperrors.Error
}

// SignerInput describes one party attached at envelope creation.
type SignerInput struct {
	Email       string
	DisplayName string
	Role        signer.Role
	Order       int
}

// CreateEnvelopeCommand creates a draft envelope with its parties. When
// IdempotencyKey is set, retries with the same key replay the first result.
type CreateEnvelopeCommand struct {
	OwnerID        string
	Title          string
	Routing        string
	DocumentIDs    []string
	Metadata       map[string]string
	Signers        []SignerInput
	IdempotencyKey string
}

// SendEnvelopeCommand moves a draft envelope to sent and issues invitation
// grants for its pending parties.
type SendEnvelopeCommand struct {
	EnvelopeID string
	ActorID    string
}

// Invitation is one issued signing grant.
type Invitation struct {
	SignerID  string
	Email     string
	Grant     string
	ExpiresAt time.Time
}

// SendResult lists the invitations issued by SendEnvelope.
type SendResult struct {
	EnvelopeStatus envelope.Status
	Invitations    []Invitation
}

// CancelEnvelopeCommand cancels an envelope and revokes outstanding grants.
type CancelEnvelopeCommand struct {
	EnvelopeID string
	ActorID    string
	Reason     string
}

// ListSignersCommand pages through an envelope's parties.
type ListSignersCommand struct {
	EnvelopeID string
	PageSize   int
	PageToken  string
}

// SignerList is one page of parties.
type SignerList struct {
	Signers       []signer.Signer
	NextPageToken string
}
