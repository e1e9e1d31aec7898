package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/inkform/inkform/internal/services/esign/domain/envelope"
	"github.com/inkform/inkform/internal/services/esign/storage"
)

// CreateEnvelope inserts a new envelope record.
func (s *Store) CreateEnvelope(ctx context.Context, env envelope.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(env.ID) == "" {
		return fmt.Errorf("envelope id is required")
	}

	documentIDs, err := json.Marshal(env.DocumentIDs)
	if err != nil {
		return fmt.Errorf("marshal document ids: %w", err)
	}
	metadata, err := json.Marshal(env.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO envelopes (id, owner_id, title, status, routing, document_ids, metadata, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`, env.ID, env.OwnerID, env.Title, string(env.Status), string(env.Routing),
		string(documentIDs), string(metadata), toMillis(env.CreatedAt), toMillis(env.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrPreconditionFailed
		}
		return fmt.Errorf("create envelope: %w", err)
	}
	return nil
}

// GetEnvelope loads an envelope by id.
func (s *Store) GetEnvelope(ctx context.Context, id string) (envelope.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return envelope.Envelope{}, err
	}
	if s == nil || s.sqlDB == nil {
		return envelope.Envelope{}, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return envelope.Envelope{}, fmt.Errorf("envelope id is required")
	}

	var (
		env         envelope.Envelope
		status      string
		routing     string
		documentIDs string
		metadata    string
		createdAt   int64
		updatedAt   int64
	)
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, owner_id, title, status, routing, document_ids, metadata, created_at, updated_at
FROM envelopes
WHERE id = ?
`, id)
	err := row.Scan(&env.ID, &env.OwnerID, &env.Title, &status, &routing, &documentIDs, &metadata, &createdAt, &updatedAt)
	if err != nil {
		if err == sqlErrNoRows {
			return envelope.Envelope{}, storage.ErrNotFound
		}
		return envelope.Envelope{}, fmt.Errorf("get envelope: %w", err)
	}

	env.Status = envelope.Status(status)
	env.Routing = envelope.RoutingMode(routing)
	env.CreatedAt = fromMillis(createdAt)
	env.UpdatedAt = fromMillis(updatedAt)
	if err := json.Unmarshal([]byte(documentIDs), &env.DocumentIDs); err != nil {
		return envelope.Envelope{}, fmt.Errorf("unmarshal document ids: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &env.Metadata); err != nil {
		return envelope.Envelope{}, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return env, nil
}

// UpdateEnvelopeStatus moves an envelope between statuses with the expected
// current status as the write guard.
func (s *Store) UpdateEnvelopeStatus(ctx context.Context, id string, from, to envelope.Status, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("envelope id is required")
	}

	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE envelopes
SET status = ?, updated_at = ?
WHERE id = ? AND status = ?
`, string(to), toMillis(at), id, string(from))
	if err != nil {
		return fmt.Errorf("update envelope status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update envelope status rows affected: %w", err)
	}
	if affected == 0 {
		return s.resolveGuardFailure(ctx, "envelopes", id)
	}
	return nil
}

// resolveGuardFailure distinguishes a missing row from a failed precondition
// after a guarded UPDATE affected nothing.
func (s *Store) resolveGuardFailure(ctx context.Context, table, id string) error {
	var found int
	row := s.sqlDB.QueryRowContext(ctx, "SELECT 1 FROM "+table+" WHERE id = ?", id)
	if err := row.Scan(&found); err != nil {
		if err == sqlErrNoRows {
			return storage.ErrNotFound
		}
		return fmt.Errorf("resolve guard failure: %w", err)
	}
	return storage.ErrPreconditionFailed
}
