package kms

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/inkform/inkform/internal/platform/id"
)

// LocalSigner is an in-process key service holding one key per supported
// algorithm. It stands in for an external KMS in development and tests.
type LocalSigner struct {
	keyID      string
	ed25519Key ed25519.PrivateKey
	ecdsaKey   *ecdsa.PrivateKey
}

// NewLocalSigner generates fresh keys for every supported algorithm.
func NewLocalSigner() (*LocalSigner, error) {
	_, edKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ecdsa key: %w", err)
	}
	return &LocalSigner{
		keyID:      id.NewWithPrefix("key"),
		ed25519Key: edKey,
		ecdsaKey:   ecKey,
	}, nil
}

// NewLocalSignerFromSeed derives the ed25519 key deterministically from a
// 32-byte seed so restarts keep the same key identity. The ES256 key is still
// generated per process.
func NewLocalSignerFromSeed(seed []byte) (*LocalSigner, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing key seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ecdsa key: %w", err)
	}
	sum := sha256.Sum256(seed)
	return &LocalSigner{
		keyID:      fmt.Sprintf("key_%x", sum[:8]),
		ed25519Key: ed25519.NewKeyFromSeed(seed),
		ecdsaKey:   ecKey,
	}, nil
}

// KeyID returns the stable identifier of this signer's key material.
func (l *LocalSigner) KeyID() string {
	if l == nil {
		return ""
	}
	return l.keyID
}

// Sign produces a signature over the request digest with the key selected by
// the request algorithm.
func (l *LocalSigner) Sign(ctx context.Context, req SignRequest) (SignResult, error) {
	if err := ctx.Err(); err != nil {
		return SignResult{}, err
	}
	if l == nil {
		return SignResult{}, fmt.Errorf("key service is not configured")
	}
	if len(req.Digest) != sha256.Size {
		return SignResult{}, fmt.Errorf("digest must be %d bytes, got %d", sha256.Size, len(req.Digest))
	}

	switch req.Algorithm {
	case AlgorithmEd25519:
		signature := ed25519.Sign(l.ed25519Key, req.Digest)
		return SignResult{
			Signature: signature,
			PublicKey: l.ed25519Key.Public().(ed25519.PublicKey),
			KeyID:     l.keyID,
			Algorithm: AlgorithmEd25519,
		}, nil
	case AlgorithmES256:
		signature, err := ecdsa.SignASN1(rand.Reader, l.ecdsaKey, req.Digest)
		if err != nil {
			return SignResult{}, fmt.Errorf("sign digest: %w", err)
		}
		publicKey := elliptic.Marshal(elliptic.P256(), l.ecdsaKey.PublicKey.X, l.ecdsaKey.PublicKey.Y)
		return SignResult{
			Signature: signature,
			PublicKey: publicKey,
			KeyID:     l.keyID,
			Algorithm: AlgorithmES256,
		}, nil
	default:
		return SignResult{}, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, req.Algorithm)
	}
}

// Verify checks a signature produced by Sign against this signer's keys.
func (l *LocalSigner) Verify(ctx context.Context, req SignRequest, signature []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l == nil {
		return fmt.Errorf("key service is not configured")
	}

	switch req.Algorithm {
	case AlgorithmEd25519:
		publicKey := l.ed25519Key.Public().(ed25519.PublicKey)
		if !ed25519.Verify(publicKey, req.Digest, signature) {
			return fmt.Errorf("ed25519 signature verification failed")
		}
		return nil
	case AlgorithmES256:
		if !ecdsa.VerifyASN1(&l.ecdsaKey.PublicKey, req.Digest, signature) {
			return fmt.Errorf("ecdsa signature verification failed")
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, req.Algorithm)
	}
}
