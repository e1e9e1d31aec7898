package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/inkform/inkform/internal/services/esign/storage"
)

type fakeStore struct {
	records map[string]storage.IdempotencyRecord
	// putErr overrides the next PutIdempotencyRecord outcome.
	putErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[string]storage.IdempotencyRecord{}}
}

func (f *fakeStore) GetIdempotencyRecord(_ context.Context, key string) (storage.IdempotencyRecord, error) {
	record, ok := f.records[key]
	if !ok {
		return storage.IdempotencyRecord{}, storage.ErrNotFound
	}
	return record, nil
}

func (f *fakeStore) PutIdempotencyRecord(_ context.Context, record storage.IdempotencyRecord) error {
	if f.putErr != nil {
		err := f.putErr
		f.putErr = nil
		return err
	}
	if existing, ok := f.records[record.Key]; ok && record.CreatedAt.Before(existing.ExpiresAt) {
		return storage.ErrPreconditionFailed
	}
	f.records[record.Key] = record
	return nil
}

func TestRunExecutesOnce(t *testing.T) {
	store := newFakeStore()
	runner := NewRunner(store, time.Hour, nil)

	calls := 0
	op := func(context.Context) ([]byte, error) {
		calls++
		return []byte(`{"id":"env-1"}`), nil
	}

	result, replayed, err := runner.Run(context.Background(), "key-1", op)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if replayed {
		t.Fatal("first Run() reported replayed = true")
	}
	if string(result) != `{"id":"env-1"}` {
		t.Fatalf("result = %s", result)
	}

	result, replayed, err = runner.Run(context.Background(), "key-1", op)
	if err != nil {
		t.Fatalf("Run() replay error = %v", err)
	}
	if !replayed {
		t.Fatal("second Run() reported replayed = false")
	}
	if string(result) != `{"id":"env-1"}` {
		t.Fatalf("replayed result = %s", result)
	}
	if calls != 1 {
		t.Fatalf("operation ran %d times, want 1", calls)
	}
}

func TestRunDoesNotStoreFailures(t *testing.T) {
	store := newFakeStore()
	runner := NewRunner(store, time.Hour, nil)

	opErr := errors.New("downstream unavailable")
	_, _, err := runner.Run(context.Background(), "key-1", func(context.Context) ([]byte, error) {
		return nil, opErr
	})
	if !errors.Is(err, opErr) {
		t.Fatalf("Run() error = %v, want %v", err, opErr)
	}

	// Retry with the same key must execute again.
	result, replayed, err := runner.Run(context.Background(), "key-1", func(context.Context) ([]byte, error) {
		return []byte("ok"), nil
	})
	if err != nil {
		t.Fatalf("Run() retry error = %v", err)
	}
	if replayed {
		t.Fatal("retry after failure reported replayed = true")
	}
	if string(result) != "ok" {
		t.Fatalf("retry result = %s", result)
	}
}

func TestRunLoserReplaysWinnerResult(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	runner := NewRunner(store, time.Hour, func() time.Time { return now })

	// Force the conditional put to lose even though the initial read missed.
	store.putErr = storage.ErrPreconditionFailed

	calls := 0
	result, replayed, err := runner.Run(context.Background(), "key-1", func(context.Context) ([]byte, error) {
		calls++
		// Simulate the concurrent winner landing while we execute.
		store.records["key-1"] = storage.IdempotencyRecord{
			Key:       "key-1",
			Result:    []byte("winner"),
			ExpiresAt: now.Add(time.Hour),
			CreatedAt: now,
		}
		return []byte("loser"), nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if calls != 1 {
		t.Fatalf("operation ran %d times, want 1", calls)
	}
	if !replayed {
		t.Fatal("losing Run() reported replayed = false")
	}
	if string(result) != "winner" {
		t.Fatalf("result = %s, want winner's result", result)
	}
}

func TestRunExpiredRecordReExecutes(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	runner := NewRunner(store, time.Hour, func() time.Time { return now })

	store.records["key-1"] = storage.IdempotencyRecord{
		Key:       "key-1",
		Result:    []byte("stale"),
		ExpiresAt: now.Add(-time.Minute),
		CreatedAt: now.Add(-25 * time.Hour),
	}

	calls := 0
	result, _, err := runner.Run(context.Background(), "key-1", func(context.Context) ([]byte, error) {
		calls++
		return []byte("fresh"), nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if calls != 1 {
		t.Fatalf("operation ran %d times, want 1", calls)
	}
	if string(result) != "fresh" {
		t.Fatalf("result = %s, want fresh execution", result)
	}
	stored := store.records["key-1"]
	if string(stored.Result) != "fresh" {
		t.Fatalf("stored result = %s, want fresh record to replace the expired one", stored.Result)
	}
	if !stored.ExpiresAt.After(now) {
		t.Fatalf("stored record expires at %v, want a refreshed expiry after %v", stored.ExpiresAt, now)
	}
}

func TestRunLoserIgnoresExpiredWinner(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	runner := NewRunner(store, time.Hour, func() time.Time { return now })

	// The put loses, but the surviving record is expired and cannot be
	// replayed; the caller gets its own execution instead of stale bytes.
	store.putErr = storage.ErrPreconditionFailed
	store.records["key-1"] = storage.IdempotencyRecord{
		Key:       "key-1",
		Result:    []byte("stale"),
		ExpiresAt: now.Add(-time.Minute),
		CreatedAt: now.Add(-25 * time.Hour),
	}

	result, replayed, err := runner.Run(context.Background(), "key-1", func(context.Context) ([]byte, error) {
		return []byte("fresh"), nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if replayed {
		t.Fatal("Run() replayed an expired record")
	}
	if string(result) != "fresh" {
		t.Fatalf("result = %s, want fresh execution", result)
	}
}

func TestRunRequiresKey(t *testing.T) {
	runner := NewRunner(newFakeStore(), time.Hour, nil)
	if _, _, err := runner.Run(context.Background(), "", func(context.Context) ([]byte, error) {
		return nil, nil
	}); err == nil {
		t.Fatal("Run() accepted an empty key")
	}
}
