// Package kms abstracts the key service that produces digital signatures
// over document digests. The orchestrator treats it as an external
// dependency: a Sign failure is an infrastructure outage, not a business
// outcome.
package kms

import (
	"context"
	"errors"
)

// Supported signing algorithms.
const (
	AlgorithmEd25519 = "ed25519"
	AlgorithmES256   = "es256"
)

// ErrUnsupportedAlgorithm indicates the key service has no key for the
// requested algorithm.
var ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")

// SignRequest asks the key service to sign one document digest.
type SignRequest struct {
	// Digest is the 32-byte SHA-256 digest of the document being signed.
	Digest []byte
	// Algorithm selects the signing key, one of the Algorithm constants.
	Algorithm string
}

// SignResult is the produced signature plus the key material identity needed
// for later verification.
type SignResult struct {
	Signature []byte
	PublicKey []byte
	KeyID     string
	Algorithm string
}

// Signer produces signatures over document digests.
type Signer interface {
	Sign(ctx context.Context, req SignRequest) (SignResult, error)
	// Verify checks a signature previously produced by Sign. Used by audit
	// tooling, never on the signing path.
	Verify(ctx context.Context, req SignRequest, signature []byte) error
}
