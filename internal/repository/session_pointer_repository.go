package repository

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-quiz/internal/config"
)

// removeIfMatch deletes the pointer only while it still holds the expected id,
// so finishing an old session cannot clear a newer one.
var removeIfMatch = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SessionPointerRepository keeps the (identity, subject) to active session
// mapping in Redis. Keys expire shortly after the session's end time.
type SessionPointerRepository struct {
	rdb *redis.Client
}

// NewSessionPointerRepository creates a new SessionPointerRepository.
func NewSessionPointerRepository(rdb *redis.Client) *SessionPointerRepository {
	return &SessionPointerRepository{rdb: rdb}
}

// Get returns the active session id, or "" when none is recorded.
func (r *SessionPointerRepository) Get(ctx context.Context, userID, subjectID string) (string, error) {
	id, err := r.rdb.Get(ctx, config.CacheKey.ActiveSessionPointerKey(userID, subjectID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return id, err
}

// Set records sessionID as active. A non-positive ttl stores the key without expiry.
func (r *SessionPointerRepository) Set(ctx context.Context, userID, subjectID, sessionID string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return r.rdb.Set(ctx, config.CacheKey.ActiveSessionPointerKey(userID, subjectID), sessionID, ttl).Err()
}

// Remove deletes the pointer if it still references sessionID.
func (r *SessionPointerRepository) Remove(ctx context.Context, userID, subjectID, sessionID string) error {
	key := config.CacheKey.ActiveSessionPointerKey(userID, subjectID)
	return removeIfMatch.Run(ctx, r.rdb, []string{key}, sessionID).Err()
}
