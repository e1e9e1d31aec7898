// Package idempotency provides replay-or-execute semantics for commands
// keyed by a caller-supplied idempotency key. The stored record is written
// with a conditional create, so when two requests race the first writer wins
// and the loser replays the winner's result instead of its own.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/inkform/inkform/internal/services/esign/storage"
)

// Operation produces the serialized result of one command execution.
type Operation func(ctx context.Context) ([]byte, error)

// Runner executes commands at most once per key within the record TTL.
type Runner struct {
	store storage.IdempotencyStore
	ttl   time.Duration
	now   func() time.Time
}

// NewRunner builds a runner over the given record store. A zero ttl defaults
// to 24 hours.
func NewRunner(store storage.IdempotencyStore, ttl time.Duration, now func() time.Time) *Runner {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if now == nil {
		now = time.Now
	}
	return &Runner{store: store, ttl: ttl, now: now}
}

// Run replays the stored result for key when one exists, otherwise executes
// op and stores its result. The replayed return reports which path was taken.
// Errors from op are never stored; a failed command can be retried with the
// same key.
func (r *Runner) Run(ctx context.Context, key string, op Operation) (result []byte, replayed bool, err error) {
	if r == nil || r.store == nil {
		return nil, false, fmt.Errorf("idempotency store is not configured")
	}
	if key == "" {
		return nil, false, fmt.Errorf("idempotency key is required")
	}

	record, err := r.store.GetIdempotencyRecord(ctx, key)
	switch {
	case err == nil:
		if r.now().Before(record.ExpiresAt) {
			return record.Result, true, nil
		}
	case errors.Is(err, storage.ErrNotFound):
	default:
		return nil, false, fmt.Errorf("load idempotency record: %w", err)
	}

	result, err = op(ctx)
	if err != nil {
		return nil, false, err
	}

	now := r.now()
	putErr := r.store.PutIdempotencyRecord(ctx, storage.IdempotencyRecord{
		Key:       key,
		Result:    result,
		ExpiresAt: now.Add(r.ttl),
		CreatedAt: now,
	})
	if putErr == nil {
		return result, false, nil
	}
	if !errors.Is(putErr, storage.ErrPreconditionFailed) {
		return nil, false, fmt.Errorf("store idempotency record: %w", putErr)
	}

	// Lost the race. Return the winner's result so both callers observe the
	// same outcome. An expired or vanished winner cannot be replayed; our own
	// execution stands in that case.
	record, getErr := r.store.GetIdempotencyRecord(ctx, key)
	switch {
	case getErr == nil && now.Before(record.ExpiresAt):
		return record.Result, true, nil
	case getErr == nil || errors.Is(getErr, storage.ErrNotFound):
		return result, false, nil
	default:
		return nil, false, fmt.Errorf("load winning idempotency record: %w", getErr)
	}
}
