package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"flexphone/internal/models"
)

const historyKey = "flexphone:history"

// RedisRecorder persists call history to a Redis list so it survives
// client restarts.
type RedisRecorder struct {
	rdb *redis.Client
	ctx context.Context
	log zerolog.Logger
}

func NewRedisRecorder(addr string, log zerolog.Logger) *RedisRecorder {
	opt, err := redis.ParseURL(addr)
	var rdb *redis.Client
	if err != nil {
		rdb = redis.NewClient(&redis.Options{
			Addr: addr,
		})
	} else {
		rdb = redis.NewClient(opt)
	}

	return &RedisRecorder{
		rdb: rdb,
		ctx: context.Background(),
		log: log.With().Str("component", "history").Logger(),
	}
}

func (r *RedisRecorder) Append(record models.CallRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode call record %s: %w", record.ID, err)
	}
	if err := r.rdb.LPush(r.ctx, historyKey, data).Err(); err != nil {
		return fmt.Errorf("failed to store call record %s: %w", record.ID, err)
	}
	return nil
}

func (r *RedisRecorder) List(limit int) ([]models.CallRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	raw, err := r.rdb.LRange(r.ctx, historyKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read call history: %w", err)
	}
	out := make([]models.CallRecord, 0, len(raw))
	for _, item := range raw {
		var rec models.CallRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			r.log.Warn().Err(err).Msg("skipping malformed history entry")
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *RedisRecorder) Count() int {
	n, err := r.rdb.LLen(r.ctx, historyKey).Result()
	if err != nil {
		r.log.Warn().Err(err).Msg("failed to count call history")
		return 0
	}
	return int(n)
}
