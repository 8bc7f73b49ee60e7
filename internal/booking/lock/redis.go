package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	errx "github.com/garagebot-core/server/internal/core/error"
	logx "github.com/garagebot-core/server/pkg/logger"
)

// releaseScript deletes the lock only when the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLocker backs the conversation lock with SET NX PX and a
// token-checked release.
type RedisLocker struct {
	rdb redis.Cmdable
}

func NewRedisLocker(rdb redis.Cmdable) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

func (l *RedisLocker) lockKey(conversationID string) string {
	return fmt.Sprintf("conversation:%s:lock", conversationID)
}

func (l *RedisLocker) Acquire(ctx context.Context, conversationID string, ttl time.Duration) (string, error) {
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, l.lockKey(conversationID), token, ttl).Result()
	if err != nil {
		logx.Error().Err(err).Str("conversation_id", conversationID).Msg("lock acquire failed")
		return "", errx.WrapRedis(err)
	}
	if !ok {
		logx.Debug().Str("conversation_id", conversationID).Msg("conversation lock busy")
		return "", errx.ErrLockBusy
	}
	return token, nil
}

func (l *RedisLocker) Release(ctx context.Context, conversationID string, token string) error {
	released, err := releaseScript.Run(ctx, l.rdb, []string{l.lockKey(conversationID)}, token).Int64()
	if err != nil {
		logx.Error().Err(err).Str("conversation_id", conversationID).Msg("lock release failed")
		return errx.WrapRedis(err)
	}
	if released == 0 {
		// Token mismatch or expired lock; deliberately not an error.
		logx.Warn().Str("conversation_id", conversationID).Msg("lock already released or re-acquired")
	}
	return nil
}

var _ Locker = (*RedisLocker)(nil)
