package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/garagebot-core/server/internal/booking/state"
	errx "github.com/garagebot-core/server/internal/core/error"
	logx "github.com/garagebot-core/server/pkg/logger"
)

// saveScript CASes the version pointer and appends the new record in one
// atomic step. KEYS[1] version pointer, KEYS[2] record key prefix.
// ARGV[1] expected version, ARGV[2] payload, ARGV[3] ttl millis.
var saveScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then cur = '0' end
if cur ~= ARGV[1] then return -1 end
local next = tonumber(ARGV[1]) + 1
redis.call('SET', KEYS[1], tostring(next))
redis.call('SET', KEYS[2] .. tostring(next), ARGV[2])
if tonumber(ARGV[3]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
  redis.call('PEXPIRE', KEYS[2] .. tostring(next), ARGV[3])
end
return next
`)

// RedisStore keeps checkpoints as JSON records keyed by version with a
// CAS'd latest-version pointer.
type RedisStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisStore(rdb redis.Cmdable, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) versionKey(conversationID string) string {
	return fmt.Sprintf("conversation:%s:version", conversationID)
}

func (s *RedisStore) recordPrefix(conversationID string) string {
	return fmt.Sprintf("conversation:%s:checkpoint:", conversationID)
}

func (s *RedisStore) Load(ctx context.Context, conversationID string) (*Checkpoint, error) {
	version, err := s.rdb.Get(ctx, s.versionKey(conversationID)).Int64()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		logx.Error().Err(err).Str("conversation_id", conversationID).Msg("failed to load checkpoint version")
		return nil, errx.WrapRedis(err)
	}

	raw, err := s.rdb.Get(ctx, s.recordPrefix(conversationID)+fmt.Sprint(version)).Result()
	if err != nil {
		logx.Error().
			Err(err).
			Str("conversation_id", conversationID).
			Int64("version", version).
			Msg("failed to load checkpoint record")
		return nil, errx.WrapRedis(err)
	}

	var cp Checkpoint
	if err := json.Unmarshal([]byte(raw), &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint v%d: %w", version, err)
	}
	return &cp, nil
}

func (s *RedisStore) Save(ctx context.Context, conversationID string, expectedVersion int64, snap *state.Conversation) (int64, error) {
	snap.Version = expectedVersion + 1
	cp := Checkpoint{
		ConversationID: conversationID,
		Version:        expectedVersion + 1,
		State:          snap,
		Timestamp:      time.Now().UTC(),
	}
	payload, err := json.Marshal(cp)
	if err != nil {
		return 0, fmt.Errorf("marshal checkpoint: %w", err)
	}

	keys := []string{s.versionKey(conversationID), s.recordPrefix(conversationID)}
	res, err := saveScript.Run(ctx, s.rdb, keys,
		fmt.Sprint(expectedVersion), payload, s.ttl.Milliseconds()).Int64()
	if err != nil {
		logx.Error().Err(err).Str("conversation_id", conversationID).Msg("checkpoint save failed")
		return 0, errx.WrapRedis(err)
	}
	if res < 0 {
		logx.Warn().
			Str("conversation_id", conversationID).
			Int64("expected_version", expectedVersion).
			Msg("checkpoint version conflict")
		return 0, errx.ErrVersionConflict
	}
	return res, nil
}

var _ Store = (*RedisStore)(nil)
