package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/inkform/inkform/internal/services/esign/storage"
)

// GetIdempotencyRecord loads a stored command result by key.
func (s *Store) GetIdempotencyRecord(ctx context.Context, key string) (storage.IdempotencyRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.IdempotencyRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.IdempotencyRecord{}, fmt.Errorf("storage is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return storage.IdempotencyRecord{}, fmt.Errorf("idempotency key is required")
	}

	var (
		record    storage.IdempotencyRecord
		result    string
		expiresAt int64
		createdAt int64
	)
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT key, result, expires_at, created_at
FROM idempotency_records
WHERE key = ?
`, key)
	err := row.Scan(&record.Key, &result, &expiresAt, &createdAt)
	if err != nil {
		if err == sqlErrNoRows {
			return storage.IdempotencyRecord{}, storage.ErrNotFound
		}
		return storage.IdempotencyRecord{}, fmt.Errorf("get idempotency record: %w", err)
	}

	record.Result = []byte(result)
	record.ExpiresAt = fromMillis(expiresAt)
	record.CreatedAt = fromMillis(createdAt)
	return record, nil
}

// PutIdempotencyRecord stores a record conditionally: a missing or expired
// row is written, a live row fails the precondition. The expiry comparison
// uses the new record's creation time so the whole write stays one statement.
func (s *Store) PutIdempotencyRecord(ctx context.Context, record storage.IdempotencyRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.Key) == "" {
		return fmt.Errorf("idempotency key is required")
	}

	res, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO idempotency_records (key, result, expires_at, created_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
    result = excluded.result,
    expires_at = excluded.expires_at,
    created_at = excluded.created_at
WHERE idempotency_records.expires_at <= excluded.created_at
`, record.Key, string(record.Result), toMillis(record.ExpiresAt), toMillis(record.CreatedAt))
	if err != nil {
		return fmt.Errorf("put idempotency record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("put idempotency record rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrPreconditionFailed
	}
	return nil
}
