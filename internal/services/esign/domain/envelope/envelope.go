// Package envelope holds the pure domain rules for the envelope aggregate:
// lifecycle status transitions, routing policy, and validation. The package
// performs no I/O; the orchestrator feeds it freshly read state.
package envelope

import (
	"strings"
	"time"

	apperrors "github.com/inkform/inkform/internal/platform/errors"
)

// RoutingMode selects how signer order is enforced for an envelope.
type RoutingMode string

const (
	// RoutingSequential requires signers to act in ascending order.
	RoutingSequential RoutingMode = "sequential"
	// RoutingParallel lets signers act in any order.
	RoutingParallel RoutingMode = "parallel"
)

// NormalizeRoutingMode canonicalizes a routing mode label. Empty input
// defaults to sequential, the platform's historical behavior.
func NormalizeRoutingMode(value string) (RoutingMode, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "sequential":
		return RoutingSequential, true
	case "parallel":
		return RoutingParallel, true
	default:
		return "", false
	}
}

// Envelope is the aggregate root for a signing request.
type Envelope struct {
	ID          string
	OwnerID     string
	Title       string
	Status      Status
	Routing     RoutingMode
	SignerIDs   []string
	DocumentIDs []string
	Metadata    map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate checks envelope attributes required at creation time.
func Validate(e Envelope) error {
	if strings.TrimSpace(e.Title) == "" {
		return apperrors.New(apperrors.CodeEnvelopeTitleEmpty, "envelope title cannot be empty")
	}
	if _, ok := NormalizeRoutingMode(string(e.Routing)); !ok {
		return apperrors.WithMetadata(apperrors.CodeEnvelopeInvalidRoutingMode,
			"invalid envelope routing mode",
			map[string]string{"Mode": string(e.Routing)})
	}
	return nil
}

// AssertTransition returns a typed error when moving from the current status
// to the requested one is not allowed, naming the rejected pair.
func AssertTransition(from, to Status) error {
	if isStatusTransitionAllowed(from, to) {
		return nil
	}
	return apperrors.WithMetadata(apperrors.CodeEnvelopeInvalidStatusTransition,
		"envelope status transition is not allowed",
		map[string]string{"FromStatus": string(from), "ToStatus": string(to)})
}

// AssertSigningActive returns a typed error when the envelope status does not
// admit signer operations.
func AssertSigningActive(s Status) error {
	if IsSigningActive(s) {
		return nil
	}
	return apperrors.WithMetadata(apperrors.CodeEnvelopeStatusDisallowsOp,
		"envelope status does not allow signing",
		map[string]string{"Status": string(s), "Operation": "sign"})
}
