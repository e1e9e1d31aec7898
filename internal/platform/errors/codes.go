// Package errors provides structured error handling for the signing platform.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Invitation token errors
	CodeTokenInvalid          Code = "TOKEN_INVALID"
	CodeTokenExpired          Code = "TOKEN_EXPIRED"
	CodeTokenAlreadyUsed      Code = "TOKEN_ALREADY_USED"
	CodeTokenRevoked          Code = "TOKEN_REVOKED"
	CodeTokenEnvelopeMismatch Code = "TOKEN_ENVELOPE_MISMATCH"
	CodeTokenSignerMismatch   Code = "TOKEN_SIGNER_MISMATCH"

	// Envelope errors
	CodeEnvelopeTitleEmpty              Code = "ENVELOPE_TITLE_EMPTY"
	CodeEnvelopeNoSigners               Code = "ENVELOPE_NO_SIGNERS"
	CodeEnvelopeInvalidRoutingMode      Code = "ENVELOPE_INVALID_ROUTING_MODE"
	CodeEnvelopeInvalidStatusTransition Code = "ENVELOPE_INVALID_STATUS_TRANSITION"
	CodeEnvelopeStatusDisallowsOp       Code = "ENVELOPE_STATUS_DISALLOWS_OPERATION"

	// Signer errors
	CodeSignerEmailEmpty      Code = "SIGNER_EMAIL_EMPTY"
	CodeSignerInvalidRole     Code = "SIGNER_INVALID_ROLE"
	CodeSignerInvalidOrder    Code = "SIGNER_INVALID_ORDER"
	CodeSignerAlreadySigned   Code = "SIGNER_ALREADY_SIGNED"
	CodeSignerAlreadyDeclined Code = "SIGNER_ALREADY_DECLINED"
	CodeSignerOutOfOrder      Code = "SIGNER_OUT_OF_ORDER"
	CodeSignerNotInEnvelope   Code = "SIGNER_NOT_IN_ENVELOPE"

	// Signing errors
	CodeSigningDigestInvalid        Code = "SIGNING_DIGEST_INVALID"
	CodeSigningAlgorithmUnsupported Code = "SIGNING_ALGORITHM_UNSUPPORTED"
	CodeSigningConsentMissing       Code = "SIGNING_CONSENT_MISSING"
	CodeSigningFailed               Code = "SIGNING_FAILED"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeEnvelopeTitleEmpty,
		CodeEnvelopeNoSigners,
		CodeEnvelopeInvalidRoutingMode,
		CodeSignerEmailEmpty,
		CodeSignerInvalidRole,
		CodeSignerInvalidOrder,
		CodeSigningDigestInvalid,
		CodeSigningAlgorithmUnsupported:
		return codes.InvalidArgument

	// Unauthenticated - the invitation token does not authorize the request
	case CodeTokenInvalid,
		CodeTokenExpired,
		CodeTokenAlreadyUsed,
		CodeTokenRevoked,
		CodeTokenEnvelopeMismatch,
		CodeTokenSignerMismatch:
		return codes.Unauthenticated

	// FailedPrecondition - state doesn't allow operation
	case CodeEnvelopeInvalidStatusTransition,
		CodeEnvelopeStatusDisallowsOp,
		CodeSignerAlreadySigned,
		CodeSignerAlreadyDeclined,
		CodeSignerOutOfOrder,
		CodeSignerNotInEnvelope,
		CodeSigningConsentMissing:
		return codes.FailedPrecondition

	// NotFound - resource doesn't exist
	case CodeNotFound:
		return codes.NotFound

	case CodeSigningFailed:
		return codes.Unavailable

	default:
		return codes.Internal
	}
}
