package idempotency

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KDR9MGR/digital-payments-sub002/internal/testutil/dblock"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	connString := os.Getenv("DATABASE_URL")
	if connString == "" {
		t.Skip("DATABASE_URL not set; skipping database integration tests")
	}

	release := dblock.Acquire()
	t.Cleanup(release)

	db, err := pgxpool.New(context.Background(), connString)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	_, err = db.Exec(context.Background(), "TRUNCATE TABLE idempotency_keys")
	require.NoError(t, err)

	// Redis is an optional cache; the store must work without it.
	return NewStore(nil, db, time.Hour)
}

func TestReserveFinalizeLookup(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	reserved, err := store.Reserve(ctx, "key-1", "hash-1", "POST", "/v1/payments/p2p/initiate")
	require.NoError(t, err)
	assert.True(t, reserved)

	// Second reservation loses.
	reserved, err = store.Reserve(ctx, "key-1", "hash-1", "POST", "/v1/payments/p2p/initiate")
	require.NoError(t, err)
	assert.False(t, reserved)

	// Before finalization the key reads as in progress.
	_, err = store.Lookup(ctx, "key-1", "hash-1")
	assert.ErrorIs(t, err, ErrInProgress)

	rec, err := store.Finalize(ctx, "key-1", "hash-1", 201, []byte(`{"ok":true}`), "application/json")
	require.NoError(t, err)
	assert.Equal(t, 201, rec.Status)

	rec, err = store.Lookup(ctx, "key-1", "hash-1")
	require.NoError(t, err)
	assert.Equal(t, 201, rec.Status)
	assert.JSONEq(t, `{"ok":true}`, string(rec.Body))

	// Same key with a different request hash is a conflict.
	_, err = store.Lookup(ctx, "key-1", "hash-other")
	assert.ErrorIs(t, err, ErrHashMismatch)
}

func TestReleaseReopensKey(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	reserved, err := store.Reserve(ctx, "key-2", "hash-2", "POST", "/x")
	require.NoError(t, err)
	require.True(t, reserved)

	require.NoError(t, store.Release(ctx, "key-2", "hash-2"))

	// After release a retry may reserve again.
	reserved, err = store.Reserve(ctx, "key-2", "hash-2", "POST", "/x")
	require.NoError(t, err)
	assert.True(t, reserved)
}

func TestLookupUnknownKey(t *testing.T) {
	store := setupStore(t)
	_, err := store.Lookup(context.Background(), "missing", "hash")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReserveReclaimsExpiredRecord(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	// An abandoned reservation past its TTL, not yet swept.
	_, err := store.db.Exec(ctx, `
		INSERT INTO idempotency_keys (idempotency_key, request_hash, method, path, in_progress, created_at, expires_at)
		VALUES ('key-3', 'hash-old', 'POST', '/x', TRUE, NOW() - INTERVAL '2 days', NOW() - INTERVAL '1 day')`)
	require.NoError(t, err)

	// The expired row reads as absent, and a retry takes it over in place.
	_, err = store.Lookup(ctx, "key-3", "hash-old")
	assert.ErrorIs(t, err, ErrNotFound)

	reserved, err := store.Reserve(ctx, "key-3", "hash-new", "POST", "/x")
	require.NoError(t, err)
	assert.True(t, reserved)

	// The reclaimed reservation behaves like a fresh one.
	_, err = store.Lookup(ctx, "key-3", "hash-new")
	assert.ErrorIs(t, err, ErrInProgress)

	rec, err := store.Finalize(ctx, "key-3", "hash-new", 201, []byte(`{"ok":true}`), "application/json")
	require.NoError(t, err)
	assert.Equal(t, 201, rec.Status)

	// An expired completed record is not replayed either; it is reclaimed.
	_, err = store.db.Exec(ctx, `
		UPDATE idempotency_keys
		SET in_progress = FALSE, expires_at = NOW() - INTERVAL '1 minute'
		WHERE idempotency_key = 'key-3'`)
	require.NoError(t, err)

	reserved, err = store.Reserve(ctx, "key-3", "hash-newer", "POST", "/x")
	require.NoError(t, err)
	assert.True(t, reserved)
	_, err = store.Lookup(ctx, "key-3", "hash-newer")
	assert.ErrorIs(t, err, ErrInProgress)
}

func TestReserveDoesNotReclaimLiveReservation(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	reserved, err := store.Reserve(ctx, "key-4", "hash-4", "POST", "/x")
	require.NoError(t, err)
	require.True(t, reserved)

	// Inside the TTL the holder keeps the key, whatever the retry's hash.
	reserved, err = store.Reserve(ctx, "key-4", "hash-other", "POST", "/x")
	require.NoError(t, err)
	assert.False(t, reserved)
}

func TestPurgeExpired(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	_, err := store.db.Exec(ctx, `
		INSERT INTO idempotency_keys (idempotency_key, request_hash, method, path, in_progress, created_at, expires_at)
		VALUES ('stale', 'h', 'POST', '/x', FALSE, NOW() - INTERVAL '2 days', NOW() - INTERVAL '1 day')`)
	require.NoError(t, err)

	purged, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}
