package app

import (
	"context"
	"crypto/ed25519"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/inkform/inkform/internal/services/esign/audit"
	"github.com/inkform/inkform/internal/services/esign/domain/envelope"
	"github.com/inkform/inkform/internal/services/esign/domain/signer"
	"github.com/inkform/inkform/internal/services/esign/domain/token"
	"github.com/inkform/inkform/internal/services/esign/idempotency"
	"github.com/inkform/inkform/internal/services/esign/kms"
	"github.com/inkform/inkform/internal/services/esign/storage"
)

// memStores is an in-memory implementation of every storage interface with
// the same conditional-write semantics as the SQLite store.
type memStores struct {
	mu        sync.Mutex
	envelopes map[string]envelope.Envelope
	signers   map[string]signer.Signer
	tokens    map[string]token.Token
	records   map[string]storage.IdempotencyRecord
	events    []storage.AuditEvent
}

func newMemStores() *memStores {
	return &memStores{
		envelopes: map[string]envelope.Envelope{},
		signers:   map[string]signer.Signer{},
		tokens:    map[string]token.Token{},
		records:   map[string]storage.IdempotencyRecord{},
	}
}

func (m *memStores) CreateEnvelope(_ context.Context, env envelope.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.envelopes[env.ID]; ok {
		return storage.ErrPreconditionFailed
	}
	m.envelopes[env.ID] = env
	return nil
}

func (m *memStores) GetEnvelope(_ context.Context, id string) (envelope.Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	env, ok := m.envelopes[id]
	if !ok {
		return envelope.Envelope{}, storage.ErrNotFound
	}
	return env, nil
}

func (m *memStores) UpdateEnvelopeStatus(_ context.Context, id string, from, to envelope.Status, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	env, ok := m.envelopes[id]
	if !ok {
		return storage.ErrNotFound
	}
	if env.Status != from {
		return storage.ErrPreconditionFailed
	}
	env.Status = to
	env.UpdatedAt = at
	m.envelopes[id] = env
	return nil
}

func (m *memStores) CreateSigner(_ context.Context, s signer.Signer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.signers[s.ID]; ok {
		return storage.ErrPreconditionFailed
	}
	m.signers[s.ID] = s
	return nil
}

func (m *memStores) GetSigner(_ context.Context, id string) (signer.Signer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.signers[id]
	if !ok {
		return signer.Signer{}, storage.ErrNotFound
	}
	return s, nil
}

func (m *memStores) ListSignersByEnvelope(_ context.Context, envelopeID string, pageSize int, pageToken string) (storage.SignerPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []signer.Signer
	for _, s := range m.signers {
		if s.EnvelopeID == envelopeID {
			all = append(all, s)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Order != all[j].Order {
			return all[i].Order < all[j].Order
		}
		return all[i].ID < all[j].ID
	})
	start := 0
	if pageToken != "" {
		for i, s := range all {
			if s.ID == pageToken {
				start = i + 1
				break
			}
		}
	}
	all = all[start:]
	if pageSize > 0 && len(all) > pageSize {
		return storage.SignerPage{Signers: all[:pageSize], NextPageToken: all[pageSize-1].ID}, nil
	}
	return storage.SignerPage{Signers: all}, nil
}

func (m *memStores) MarkSignerSigned(_ context.Context, patch storage.SignerSignedPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.signers[patch.SignerID]
	if !ok {
		return storage.ErrNotFound
	}
	if s.EnvelopeID != patch.EnvelopeID || s.Status != signer.StatusPending {
		return storage.ErrPreconditionFailed
	}
	artifact := patch.Artifact
	network := patch.Network
	signedAt := patch.SignedAt
	s.Status = signer.StatusSigned
	s.Artifact = &artifact
	s.Network = &network
	s.SignedAt = &signedAt
	s.UpdatedAt = signedAt
	m.signers[patch.SignerID] = s
	return nil
}

func (m *memStores) MarkSignerDeclined(_ context.Context, patch storage.SignerDeclinedPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.signers[patch.SignerID]
	if !ok {
		return storage.ErrNotFound
	}
	if s.EnvelopeID != patch.EnvelopeID || s.Status != signer.StatusPending {
		return storage.ErrPreconditionFailed
	}
	network := patch.Network
	declinedAt := patch.DeclinedAt
	s.Status = signer.StatusDeclined
	s.DeclineReason = patch.Reason
	s.Network = &network
	s.DeclinedAt = &declinedAt
	s.UpdatedAt = declinedAt
	m.signers[patch.SignerID] = s
	return nil
}

func (m *memStores) RecordSignerConsent(_ context.Context, patch storage.SignerConsentPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.signers[patch.SignerID]
	if !ok {
		return storage.ErrNotFound
	}
	if s.EnvelopeID != patch.EnvelopeID || s.Status != signer.StatusPending {
		return storage.ErrPreconditionFailed
	}
	consent := patch.Consent
	s.Consent = &consent
	s.UpdatedAt = consent.GivenAt
	m.signers[patch.SignerID] = s
	return nil
}

func (m *memStores) CreateToken(_ context.Context, tok token.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[tok.ID]; ok {
		return storage.ErrPreconditionFailed
	}
	m.tokens[tok.ID] = tok
	return nil
}

func (m *memStores) GetToken(_ context.Context, id string) (token.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[id]
	if !ok {
		return token.Token{}, storage.ErrNotFound
	}
	return tok, nil
}

func (m *memStores) ConsumeToken(_ context.Context, id string, redemption storage.TokenRedemption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[id]
	if !ok {
		return storage.ErrNotFound
	}
	if tok.Status != token.StatusActive {
		return storage.ErrPreconditionFailed
	}
	usedAt := redemption.UsedAt
	tok.Status = token.StatusUsed
	tok.RedeemedIP = redemption.IP
	tok.RedeemedUserAgent = redemption.UserAgent
	tok.UsedAt = &usedAt
	m.tokens[id] = tok
	return nil
}

func (m *memStores) RevokeActiveTokensForEnvelope(_ context.Context, envelopeID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, tok := range m.tokens {
		if tok.EnvelopeID == envelopeID && tok.Status == token.StatusActive {
			usedAt := at
			tok.Status = token.StatusRevoked
			tok.UsedAt = &usedAt
			m.tokens[id] = tok
		}
	}
	return nil
}

func (m *memStores) GetIdempotencyRecord(_ context.Context, key string) (storage.IdempotencyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[key]
	if !ok {
		return storage.IdempotencyRecord{}, storage.ErrNotFound
	}
	return record, nil
}

func (m *memStores) PutIdempotencyRecord(_ context.Context, record storage.IdempotencyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.records[record.Key]; ok && record.CreatedAt.Before(existing.ExpiresAt) {
		return storage.ErrPreconditionFailed
	}
	m.records[record.Key] = record
	return nil
}

func (m *memStores) AppendAuditEvent(_ context.Context, event storage.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *memStores) ListAuditEvents(_ context.Context, envelopeID string) ([]storage.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var events []storage.AuditEvent
	for _, event := range m.events {
		if event.EnvelopeID == envelopeID {
			events = append(events, event)
		}
	}
	return events, nil
}

// fakeClock is a mutable clock shared by the service and grant config.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testGrantConfig(clock *fakeClock) token.GrantConfig {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	private := ed25519.NewKeyFromSeed(seed)
	return token.GrantConfig{
		Issuer:     "https://esign.test",
		Audience:   "esign-signing",
		PrivateKey: private,
		PublicKey:  private.Public().(ed25519.PublicKey),
		Now:        clock.Now,
	}
}

type testEnv struct {
	service *Service
	stores  *memStores
	clock   *fakeClock
	keys    *kms.LocalSigner
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	stores := newMemStores()

	keySeed := make([]byte, 32)
	for i := range keySeed {
		keySeed[i] = byte(i + 7)
	}
	keys, err := kms.NewLocalSignerFromSeed(keySeed)
	if err != nil {
		t.Fatalf("NewLocalSignerFromSeed() error = %v", err)
	}

	service, err := NewService(Config{
		Envelopes:  stores,
		Signers:    stores,
		Tokens:     stores,
		Keys:       keys,
		Runner:     idempotency.NewRunner(stores, time.Hour, clock.Now),
		Audit:      audit.NewEmitter(stores, clock.Now),
		AuditTrail: stores,
		Grants:     testGrantConfig(clock),
		Now:        clock.Now,
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return &testEnv{service: service, stores: stores, clock: clock, keys: keys}
}

// createAndSend creates an envelope with the given signer inputs and moves it
// to sent, returning the envelope and the issued invitations keyed by email.
func (te *testEnv) createAndSend(t *testing.T, routing string, inputs ...SignerInput) (envelope.Envelope, map[string]Invitation) {
	t.Helper()
	ctx := context.Background()

	env, err := te.service.CreateEnvelope(ctx, CreateEnvelopeCommand{
		OwnerID: "owner-1",
		Title:   "Master Services Agreement",
		Routing: routing,
		Signers: inputs,
	})
	if err != nil {
		t.Fatalf("CreateEnvelope() error = %v", err)
	}

	sent, err := te.service.SendEnvelope(ctx, SendEnvelopeCommand{EnvelopeID: env.ID, ActorID: "owner-1"})
	if err != nil {
		t.Fatalf("SendEnvelope() error = %v", err)
	}
	invitations := make(map[string]Invitation, len(sent.Invitations))
	for _, invitation := range sent.Invitations {
		invitations[invitation.Email] = invitation
	}

	env, err = te.service.GetEnvelope(ctx, env.ID)
	if err != nil {
		t.Fatalf("GetEnvelope() error = %v", err)
	}
	return env, invitations
}

const testDigestHex = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

func signCommand(env envelope.Envelope, invitation Invitation) CompleteSigningCommand {
	return CompleteSigningCommand{
		EnvelopeID: env.ID,
		SignerID:   invitation.SignerID,
		Grant:      invitation.Grant,
		DigestHex:  testDigestHex,
		Algorithm:  kms.AlgorithmEd25519,
		Consent:    &ConsentPayload{Text: "I agree to sign electronically", Version: "v1"},
		Network:    NetworkContext{IP: "10.0.0.1", UserAgent: "test-agent"},
	}
}
