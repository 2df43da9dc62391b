package storage

import (
	"context"
	"time"

	"PPRelay/logger"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// presence key: im:presence:<user>
// Value: node id, TTL controls the online validity period
func presenceKey(user string) string { return "im:presence:" + user }

// 仅当 value 仍是本节点时才删除，避免误删其他节点刚写入的在线状态
var offlineScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// PresenceMirror mirrors the in-process registry into Redis so other services
// can see which node a user is connected to. Failures are logged, never fatal.
type PresenceMirror struct {
	rdb     redis.UniversalClient
	nodeID  string
	ttl     time.Duration
	timeout time.Duration
}

func NewPresenceMirror(rdb redis.UniversalClient, nodeID string, ttl time.Duration) *PresenceMirror {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &PresenceMirror{rdb: rdb, nodeID: nodeID, ttl: ttl, timeout: 2 * time.Second}
}

// Online sets the user as online on this node and renews the TTL.
func (p *PresenceMirror) Online(ctx context.Context, user string) {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()
	if err := p.rdb.Set(ctx, presenceKey(user), p.nodeID, p.ttl).Err(); err != nil {
		logger.Warn("[Presence] online failed", zap.String("user", user), zap.Error(err))
	}
}

// Offline removes the user's entry if it still points at this node.
func (p *PresenceMirror) Offline(ctx context.Context, user string) {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()
	if err := offlineScript.Run(ctx, p.rdb, []string{presenceKey(user)}, p.nodeID).Err(); err != nil {
		logger.Warn("[Presence] offline failed", zap.String("user", user), zap.Error(err))
	}
}

// RefreshOnline renews every user's entry in a single pipelined round trip.
func (p *PresenceMirror) RefreshOnline(ctx context.Context, users []string) {
	if len(users) == 0 {
		return
	}
	ctx, cancel := p.opCtx(ctx)
	defer cancel()
	_, err := p.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, u := range users {
			pipe.Set(ctx, presenceKey(u), p.nodeID, p.ttl)
		}
		return nil
	})
	if err != nil {
		logger.Warn("[Presence] refresh failed", zap.Int("users", len(users)), zap.Error(err))
	}
}

// Lookup returns the node a user is connected to.
func (p *PresenceMirror) Lookup(ctx context.Context, user string) (nodeID string, online bool, err error) {
	val, err := p.rdb.Get(ctx, presenceKey(user)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "presence lookup")
	}
	return val, true, nil
}

// opCtx detaches from a cancelled connection context while keeping a bound.
func (p *PresenceMirror) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
}
