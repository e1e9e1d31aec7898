// Package signer holds the pure domain rules for signing parties: status
// transitions, the sequential-ordering rule, and the envelope completion
// predicate. The package performs no I/O.
package signer

import (
	"strings"
	"time"

	apperrors "github.com/inkform/inkform/internal/platform/errors"
	"github.com/inkform/inkform/internal/services/esign/domain/envelope"
)

// Role describes what a party is expected to do with an envelope.
type Role string

const (
	RoleSigner Role = "signer"
	RoleViewer Role = "viewer"
)

// Status describes the signer lifecycle label.
type Status string

const (
	StatusUnspecified Status = ""
	StatusPending     Status = "pending"
	StatusSigned      Status = "signed"
	StatusDeclined    Status = "declined"
)

// Artifact captures the outcome of a completed signature. Once a signer
// reaches the signed status these fields are immutable.
type Artifact struct {
	SignatureID     string
	DocumentHash    string
	SignatureHash   string
	SignedObjectKey string
	KeyID           string
	Algorithm       string
}

// Consent records the signer's agreement to sign electronically.
type Consent struct {
	Text      string
	Version   string
	GivenAt   time.Time
	IP        string
	UserAgent string
	Locale    string
}

// NetworkContext captures where a signer request originated.
type NetworkContext struct {
	IP        string
	UserAgent string
	Locale    string
}

// Signer is a party attached to an envelope.
type Signer struct {
	ID            string
	EnvelopeID    string
	Email         string
	DisplayName   string
	Role          Role
	Order         int
	Status        Status
	Artifact      *Artifact
	Consent       *Consent
	Network       *NetworkContext
	SignedAt      *time.Time
	DeclinedAt    *time.Time
	DeclineReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Validate checks signer attributes required at creation time.
func Validate(s Signer) error {
	if strings.TrimSpace(s.Email) == "" {
		return apperrors.New(apperrors.CodeSignerEmailEmpty, "signer email cannot be empty")
	}
	if s.Role != RoleSigner && s.Role != RoleViewer {
		return apperrors.WithMetadata(apperrors.CodeSignerInvalidRole,
			"invalid signer role",
			map[string]string{"Role": string(s.Role)})
	}
	if s.Order < 1 {
		return apperrors.New(apperrors.CodeSignerInvalidOrder, "signer order must be a positive integer")
	}
	return nil
}

// AssertPending returns a typed error when the signer is not pending,
// distinguishing the already-signed and already-declined cases.
func AssertPending(s Signer) error {
	switch s.Status {
	case StatusPending:
		return nil
	case StatusSigned:
		return apperrors.WithMetadata(apperrors.CodeSignerAlreadySigned,
			"signer has already signed",
			map[string]string{"SignerID": s.ID})
	case StatusDeclined:
		return apperrors.WithMetadata(apperrors.CodeSignerAlreadyDeclined,
			"signer has already declined",
			map[string]string{"SignerID": s.ID})
	default:
		return apperrors.WithMetadata(apperrors.CodeSignerAlreadySigned,
			"signer status does not allow signing",
			map[string]string{"SignerID": s.ID, "Status": string(s.Status)})
	}
}

// AssertReadyToSign enforces the ordering rule: under sequential routing a
// signer may act only after every signer with a strictly lower order has
// signed. Viewers never block the sequence. Parallel routing skips the check.
func AssertReadyToSign(all []Signer, target Signer, mode envelope.RoutingMode) error {
	if mode == envelope.RoutingParallel {
		return nil
	}
	for _, other := range all {
		if other.Role != RoleSigner || other.ID == target.ID {
			continue
		}
		if other.Order < target.Order && other.Status != StatusSigned {
			return apperrors.WithMetadata(apperrors.CodeSignerOutOfOrder,
				"an earlier signer has not signed yet",
				map[string]string{
					"SignerID":        target.ID,
					"BlockedBy":       other.ID,
					"BlockedByStatus": string(other.Status),
				})
		}
	}
	return nil
}

// AllRequiredSigned is the envelope completion predicate: true iff every
// party with the signer role has signed. It is recomputed over a fresh read
// of the full signer set, never cached incrementally.
func AllRequiredSigned(all []Signer) bool {
	for _, s := range all {
		if s.Role != RoleSigner {
			continue
		}
		if s.Status != StatusSigned {
			return false
		}
	}
	return true
}
