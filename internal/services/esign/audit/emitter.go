// Package audit emits best-effort audit trail events. Emission failures are
// logged and swallowed so the signing path never fails because the trail is
// behind.
package audit

import (
	"context"
	"log"
	"time"

	"github.com/inkform/inkform/internal/platform/id"
	"github.com/inkform/inkform/internal/services/esign/storage"
)

// Audit event types recorded by the signing service.
const (
	EventEnvelopeCreated   = "envelope.created"
	EventEnvelopeSent      = "envelope.sent"
	EventEnvelopeCompleted = "envelope.completed"
	EventEnvelopeCanceled  = "envelope.canceled"
	EventEnvelopeDeclined  = "envelope.declined"
	EventSignerSigned      = "signer.signed"
	EventSignerDeclined    = "signer.declined"
	EventConsentRecorded   = "signer.consent_recorded"
	EventTokenIssued       = "token.issued"
	EventTokenValidated    = "token.validated"
)

// Entry describes one audit event to record.
type Entry struct {
	EnvelopeID string
	SignerID   string
	Type       string
	ActorID    string
	Metadata   map[string]string
}

// Emitter appends entries to the audit trail. A nil emitter or nil store is
// a no-op so wiring stays optional in tests.
type Emitter struct {
	store storage.AuditStore
	now   func() time.Time
}

// NewEmitter builds an emitter over the given audit store.
func NewEmitter(store storage.AuditStore, now func() time.Time) *Emitter {
	if now == nil {
		now = time.Now
	}
	return &Emitter{store: store, now: now}
}

// Emit appends one entry. Failures are logged, never returned.
func (e *Emitter) Emit(ctx context.Context, entry Entry) {
	if e == nil || e.store == nil {
		return
	}
	event := storage.AuditEvent{
		ID:         id.NewWithPrefix("evt"),
		EnvelopeID: entry.EnvelopeID,
		SignerID:   entry.SignerID,
		Type:       entry.Type,
		ActorID:    entry.ActorID,
		Metadata:   entry.Metadata,
		OccurredAt: e.now(),
	}
	if err := e.store.AppendAuditEvent(ctx, event); err != nil {
		log.Printf("audit: append %s for envelope %s: %v", entry.Type, entry.EnvelopeID, err)
	}
}
