package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/labelspy/server/internal/agent/model"
	errx "github.com/labelspy/server/internal/core/error"
	logx "github.com/labelspy/server/pkg/logger"
)

const (
	fieldState    = "state"
	fieldText     = "text"
	fieldAnalysis = "analysis"
	fieldRecipes  = "recipes"
)

// RedisSessionRepository keeps each session in one hash so a flow survives
// a restart. Every write refreshes the TTL.
type RedisSessionRepository struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisSessionRepository(rdb redis.Cmdable, ttl time.Duration) *RedisSessionRepository {
	return &RedisSessionRepository{rdb: rdb, ttl: ttl}
}

func (r *RedisSessionRepository) sessionKey(userID int64) string {
	return fmt.Sprintf("session:%d", userID)
}

func (r *RedisSessionRepository) Get(ctx context.Context, userID int64) (*model.Session, error) {
	key := r.sessionKey(userID)
	fields, err := r.rdb.HGetAll(ctx, key).Result()
	if err != nil && err != redis.Nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to load session from redis")
		return nil, errx.WrapRedis(err)
	}

	s := model.NewSession(userID)
	if len(fields) == 0 {
		return s, nil
	}
	if st := fields[fieldState]; st != "" {
		s.State = model.State(st)
	}
	s.RecognizedText = fields[fieldText]
	if raw := fields[fieldAnalysis]; raw != "" {
		var a model.StructuredAnalysis
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			logx.Error().Err(err).Str("key", key).Msg("failed to unmarshal session analysis")
			return nil, fmt.Errorf("unmarshal session analysis: %w", err)
		}
		s.Analysis = &a
	}
	if raw := fields[fieldRecipes]; raw != "" {
		var rs model.RecipeSet
		if err := json.Unmarshal([]byte(raw), &rs); err != nil {
			logx.Error().Err(err).Str("key", key).Msg("failed to unmarshal session recipes")
			return nil, fmt.Errorf("unmarshal session recipes: %w", err)
		}
		s.Recipes = &rs
	}
	return s, nil
}

// write runs fn in a MULTI block and extends the TTL on touch.
func (r *RedisSessionRepository) write(ctx context.Context, userID int64, fn func(pipe redis.Pipeliner, key string)) error {
	key := r.sessionKey(userID)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		fn(pipe, key)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to write session to redis")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisSessionRepository) SetRecognizedText(ctx context.Context, userID int64, text string) error {
	return r.write(ctx, userID, func(pipe redis.Pipeliner, key string) {
		pipe.HSet(ctx, key, fieldText, text)
		pipe.HDel(ctx, key, fieldAnalysis, fieldRecipes)
	})
}

func (r *RedisSessionRepository) SetAnalysis(ctx context.Context, userID int64, analysis *model.StructuredAnalysis) error {
	if analysis == nil {
		return r.write(ctx, userID, func(pipe redis.Pipeliner, key string) {
			pipe.HDel(ctx, key, fieldAnalysis)
		})
	}
	b, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("marshal analysis: %w", err)
	}
	return r.write(ctx, userID, func(pipe redis.Pipeliner, key string) {
		pipe.HSet(ctx, key, fieldAnalysis, b)
	})
}

func (r *RedisSessionRepository) SetRecipes(ctx context.Context, userID int64, recipes *model.RecipeSet) error {
	if recipes == nil {
		return r.write(ctx, userID, func(pipe redis.Pipeliner, key string) {
			pipe.HDel(ctx, key, fieldRecipes)
		})
	}
	b, err := json.Marshal(recipes)
	if err != nil {
		return fmt.Errorf("marshal recipes: %w", err)
	}
	return r.write(ctx, userID, func(pipe redis.Pipeliner, key string) {
		pipe.HSet(ctx, key, fieldRecipes, b)
	})
}

func (r *RedisSessionRepository) SetState(ctx context.Context, userID int64, state model.State) error {
	return r.write(ctx, userID, func(pipe redis.Pipeliner, key string) {
		pipe.HSet(ctx, key, fieldState, string(state))
	})
}

func (r *RedisSessionRepository) Clear(ctx context.Context, userID int64) error {
	key := r.sessionKey(userID)
	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to delete session from redis")
		return errx.WrapRedis(err)
	}
	return nil
}

var _ model.SessionRepository = (*RedisSessionRepository)(nil)
