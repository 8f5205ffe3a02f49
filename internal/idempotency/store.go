package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrNotFound     = errors.New("idempotency key not found")
	ErrHashMismatch = errors.New("idempotency key body mismatch")
	ErrInProgress   = errors.New("idempotency key in progress")
)

const redisKeyPrefix = "idempotency"

// Record is a completed idempotent response, replayable verbatim.
type Record struct {
	Key         string
	RequestHash string
	Status      int
	Body        []byte
	ContentType string
	ServedBy    string
}

// Store maps an idempotency key to at most one in-flight or completed
// request. Postgres is the source of truth; Redis fronts completed records
// as a replay cache. A reservation is only reclaimable once finalized or
// past its TTL (abandoned).
type Store struct {
	redis redis.Cmdable
	db    *pgxpool.Pool
	ttl   time.Duration
}

func NewStore(redis redis.Cmdable, db *pgxpool.Pool, ttl time.Duration) *Store {
	return &Store{redis: redis, db: db, ttl: ttl}
}

type cacheEnvelope struct {
	Key         string `json:"key"`
	Hash        string `json:"hash"`
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
	ContentType string `json:"content_type"`
}

// Lookup returns the completed record for key, ErrInProgress while a
// reservation is live, ErrHashMismatch when the same key carries a different
// request body, or ErrNotFound.
func (s *Store) Lookup(ctx context.Context, key, requestHash string) (*Record, error) {
	if s.redis != nil {
		val, err := s.redis.Get(ctx, redisKey(key)).Result()
		if err == nil {
			var env cacheEnvelope
			if json.Unmarshal([]byte(val), &env) == nil {
				if env.Hash != requestHash {
					return nil, ErrHashMismatch
				}
				return &Record{
					Key:         env.Key,
					RequestHash: env.Hash,
					Status:      env.Status,
					Body:        env.Body,
					ContentType: env.ContentType,
					ServedBy:    "redis",
				}, nil
			}
		} else if err != redis.Nil {
			zap.L().Warn("redis idempotency lookup failed", zap.Error(err))
		}
	}

	var rec Record
	var inProgress bool
	err := s.db.QueryRow(ctx, `
		SELECT idempotency_key, request_hash, in_progress,
			COALESCE(response_status, 0), COALESCE(response_body, ''::bytea), COALESCE(content_type, '')
		FROM idempotency_keys
		WHERE idempotency_key = $1 AND expires_at > NOW()`, key,
	).Scan(&rec.Key, &rec.RequestHash, &inProgress, &rec.Status, &rec.Body, &rec.ContentType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}

	if rec.RequestHash != requestHash {
		return nil, ErrHashMismatch
	}
	if inProgress {
		return nil, ErrInProgress
	}
	rec.ServedBy = "postgres"
	s.cache(ctx, rec)
	return &rec, nil
}

// Reserve claims the key for the caller. Returns false when another request
// already holds it. A record past its TTL is abandoned: a new reservation
// takes it over without waiting for the purge sweep.
func (s *Store) Reserve(ctx context.Context, key, requestHash, method, path string) (bool, error) {
	var reserved string
	err := s.db.QueryRow(ctx, `
		INSERT INTO idempotency_keys (idempotency_key, request_hash, method, path, in_progress, created_at, expires_at)
		VALUES ($1, $2, $3, $4, TRUE, NOW(), NOW() + make_interval(secs => $5))
		ON CONFLICT (idempotency_key) DO UPDATE
		SET request_hash = $2, method = $3, path = $4, in_progress = TRUE,
			response_status = NULL, response_body = NULL, content_type = NULL,
			created_at = NOW(), expires_at = NOW() + make_interval(secs => $5)
		WHERE idempotency_keys.expires_at <= NOW()
		RETURNING idempotency_key`,
		key, requestHash, method, path, s.ttl.Seconds(),
	).Scan(&reserved)
	if err == nil {
		// The reclaim path may shadow a cached response whose redis TTL
		// outlives the row's expires_at by the reserve-to-finalize gap.
		if s.redis != nil {
			if derr := s.redis.Del(ctx, redisKey(key)).Err(); derr != nil {
				zap.L().Warn("redis idempotency invalidate failed", zap.Error(derr))
			}
		}
		return true, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("reserve idempotency key: %w", err)
}

// Finalize stores the response under the reservation and clears in_progress.
func (s *Store) Finalize(ctx context.Context, key, requestHash string, status int, body []byte, contentType string) (*Record, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE idempotency_keys
		SET in_progress = FALSE, response_status = $3, response_body = $4, content_type = $5
		WHERE idempotency_key = $1 AND request_hash = $2`,
		key, requestHash, status, body, contentType,
	)
	if err != nil {
		return nil, fmt.Errorf("finalize idempotency key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}

	rec := &Record{
		Key:         key,
		RequestHash: requestHash,
		Status:      status,
		Body:        body,
		ContentType: contentType,
		ServedBy:    "postgres",
	}
	s.cache(ctx, *rec)
	return rec, nil
}

// Release abandons a reservation after the handler failed before producing a
// replayable response, so a retry may run the request again.
func (s *Store) Release(ctx context.Context, key, requestHash string) error {
	_, err := s.db.Exec(ctx, `
		DELETE FROM idempotency_keys
		WHERE idempotency_key = $1 AND request_hash = $2 AND in_progress = TRUE`,
		key, requestHash,
	)
	if err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// WaitForCompletion polls until the concurrent holder finalizes the key.
func (s *Store) WaitForCompletion(ctx context.Context, key, requestHash string) (*Record, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		rec, err := s.Lookup(ctx, key, requestHash)
		if err == nil {
			return rec, nil
		}
		if errors.Is(err, ErrInProgress) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-ticker.C:
				continue
			}
		}
		return nil, err
	}
}

// PurgeExpired garbage-collects records past their TTL. A live reservation
// inside the window is never reclaimed; past it, an unfinished record is
// treated as abandoned.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("purge expired idempotency keys: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) cache(ctx context.Context, rec Record) {
	if s.redis == nil {
		return
	}
	env := cacheEnvelope{
		Key:         rec.Key,
		Hash:        rec.RequestHash,
		Status:      rec.Status,
		Body:        rec.Body,
		ContentType: rec.ContentType,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		zap.L().Warn("marshal idempotency cache", zap.Error(err))
		return
	}
	if err := s.redis.Set(ctx, redisKey(rec.Key), payload, s.ttl).Err(); err != nil {
		zap.L().Warn("redis idempotency cache set failed", zap.Error(err))
	}
}

func redisKey(key string) string {
	return fmt.Sprintf("%s:%s", redisKeyPrefix, key)
}
