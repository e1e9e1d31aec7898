package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/inkform/inkform/internal/services/esign/storage"
)

// AppendAuditEvent stores one append-only audit trail entry.
func (s *Store) AppendAuditEvent(ctx context.Context, event storage.AuditEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(event.ID) == "" {
		return fmt.Errorf("audit event id is required")
	}
	if strings.TrimSpace(event.Type) == "" {
		return fmt.Errorf("audit event type is required")
	}

	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO audit_events (id, envelope_id, signer_id, type, actor_id, metadata, occurred_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, event.ID, event.EnvelopeID, toNullString(event.SignerID), event.Type,
		toNullString(event.ActorID), string(metadata), toMillis(event.OccurredAt))
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// ListAuditEvents returns the audit trail for an envelope in occurrence order.
func (s *Store) ListAuditEvents(ctx context.Context, envelopeID string) ([]storage.AuditEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	envelopeID = strings.TrimSpace(envelopeID)
	if envelopeID == "" {
		return nil, fmt.Errorf("envelope id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, envelope_id, signer_id, type, actor_id, metadata, occurred_at
FROM audit_events
WHERE envelope_id = ?
ORDER BY occurred_at, id
`, envelopeID)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []storage.AuditEvent
	for rows.Next() {
		var (
			event      storage.AuditEvent
			signerID   sql.NullString
			actorID    sql.NullString
			metadata   string
			occurredAt int64
		)
		if err := rows.Scan(&event.ID, &event.EnvelopeID, &signerID, &event.Type, &actorID, &metadata, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan audit event row: %w", err)
		}
		event.SignerID = signerID.String
		event.ActorID = actorID.String
		event.OccurredAt = fromMillis(occurredAt)
		if err := json.Unmarshal([]byte(metadata), &event.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal audit metadata: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit event rows: %w", err)
	}
	return events, nil
}
