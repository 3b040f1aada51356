package auth

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/ehr/hospital/internal/platform/apperr"
)

// RevocationStore records the moment a user's existing tokens stopped
// being valid. Tokens issued at or before that second are refused.
type RevocationStore interface {
	RevokeUser(ctx context.Context, userID uuid.UUID, at time.Time) error
	RevokedAt(ctx context.Context, userID uuid.UUID) (time.Time, bool, error)
}

// Revoked reports whether a token issued at issuedAt predates the cutoff.
// Token timestamps have second precision, so the cutoff is truncated and
// a token from the same second is refused too.
func Revoked(cutoff, issuedAt time.Time) bool {
	return !issuedAt.After(cutoff.Truncate(time.Second))
}

type revocationEntry struct {
	at        time.Time
	expiresAt time.Time
}

// MemoryRevocations keeps revocations in process. An entry is dropped once
// every token it could affect has expired.
type MemoryRevocations struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[uuid.UUID]revocationEntry
	now     func() time.Time
}

// NewMemoryRevocations returns a store whose entries live for tokenTTL.
func NewMemoryRevocations(tokenTTL time.Duration) *MemoryRevocations {
	return &MemoryRevocations{ttl: tokenTTL, entries: make(map[uuid.UUID]revocationEntry), now: time.Now}
}

func (s *MemoryRevocations) RevokeUser(_ context.Context, userID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cleanup()
	s.entries[userID] = revocationEntry{at: at, expiresAt: at.Add(s.ttl)}
	return nil
}

func (s *MemoryRevocations) RevokedAt(_ context.Context, userID uuid.UUID) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[userID]
	if !ok || s.now().After(e.expiresAt) {
		return time.Time{}, false, nil
	}
	return e.at, true, nil
}

// Count returns the number of tracked users.
func (s *MemoryRevocations) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// cleanup removes expired entries. Callers hold the write lock.
func (s *MemoryRevocations) cleanup() {
	now := s.now()
	for id, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, id)
		}
	}
}

// RedisKV is the subset of *redis.Client the Redis store needs.
type RedisKV interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisRevocations shares revocations between server instances. Keys
// expire with the tokens they affect.
type RedisRevocations struct {
	client RedisKV
	prefix string
	ttl    time.Duration
}

func NewRedisRevocations(client RedisKV, prefix string, tokenTTL time.Duration) *RedisRevocations {
	return &RedisRevocations{client: client, prefix: prefix, ttl: tokenTTL}
}

func (s *RedisRevocations) key(userID uuid.UUID) string { return s.prefix + userID.String() }

func (s *RedisRevocations) RevokeUser(ctx context.Context, userID uuid.UUID, at time.Time) error {
	return s.client.Set(ctx, s.key(userID), strconv.FormatInt(at.UnixNano(), 10), s.ttl).Err()
}

func (s *RedisRevocations) RevokedAt(ctx context.Context, userID uuid.UUID) (time.Time, bool, error) {
	raw, err := s.client.Get(ctx, s.key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, err
	}
	return time.Unix(0, nanos), true, nil
}

// RejectRevoked refuses identities whose token was issued before the
// user's last revocation. It must run after the token middleware.
func RejectRevoked(store RevocationStore) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, err := Caller(c)
			if err != nil {
				return err
			}
			cutoff, ok, err := store.RevokedAt(c.Request().Context(), id.UserID)
			if err != nil {
				return apperr.Internal(err, "check token revocation")
			}
			if ok && Revoked(cutoff, id.IssuedAt) {
				return apperr.Unauthenticated("token has been revoked")
			}
			return next(c)
		}
	}
}
