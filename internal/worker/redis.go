package worker

import (
	"context"
	"encoding/json"

	"omnichat/internal/observability"
	"omnichat/internal/redis"
)

const redisInvalidateChannel = "omnichat:worker:invalidate"

const scopeSessions = "sessions"

type invalidateMessage struct {
	UserID string `json:"user_id"`
	Scope  string `json:"scope"`
	Origin string `json:"origin"`
}

// stateRedis tells other server instances to drop cached controllers.
type stateRedis struct {
	client *redis.Client
}

func newStateCache(client *redis.Client) *stateRedis {
	if client == nil {
		return nil
	}
	return &stateRedis{client: client}
}

func (r *stateRedis) startListener(ctx context.Context, handler func(invalidateMessage)) {
	if r == nil || handler == nil {
		return
	}
	err := r.client.Subscribe(ctx, redisInvalidateChannel, func(payload string) {
		var inv invalidateMessage
		if err := json.Unmarshal([]byte(payload), &inv); err != nil {
			observability.Logger().Warn("worker invalidation decode failed", "error", err)
			return
		}
		handler(inv)
	})
	if err != nil {
		observability.Logger().Error("worker invalidation listener failed", "error", err)
	}
}

func (r *stateRedis) publishInvalidation(ctx context.Context, msg invalidateMessage) {
	if r == nil {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		observability.Logger().Warn("worker invalidation marshal failed", "error", err)
		return
	}
	if err := r.client.Publish(ctx, redisInvalidateChannel, payload); err != nil {
		observability.Logger().Warn("worker publish invalidation failed", "error", err)
	}
}
