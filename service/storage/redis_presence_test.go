package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"PPRelay/service/chat"
	rdsutil "PPRelay/service/storage/redis"

	"github.com/stretchr/testify/require"
)

var _ chat.PresenceRefresher = (*PresenceMirror)(nil)

// needs a live redis: REDIS_ADDR=localhost:6379 go test ./service/storage/...
func newTestMirror(t *testing.T, node string) *PresenceMirror {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb, err := rdsutil.NewClient(context.Background(), rdsutil.Config{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return NewPresenceMirror(rdb, node, time.Minute)
}

func TestPresenceMirror_OnlineOffline(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	a := newTestMirror(t, "node-a")
	b := newTestMirror(t, "node-b")
	user := "presence-test-" + time.Now().Format("150405.000000")

	a.Online(ctx, user)
	node, online, err := a.Lookup(ctx, user)
	req.NoError(err)
	req.True(online)
	req.Equal("node-a", node)

	// user moved to node-b; a stale offline from node-a must not clear it
	b.Online(ctx, user)
	a.Offline(ctx, user)
	node, online, err = a.Lookup(ctx, user)
	req.NoError(err)
	req.True(online)
	req.Equal("node-b", node)

	b.Offline(ctx, user)
	_, online, err = b.Lookup(ctx, user)
	req.NoError(err)
	req.False(online)
}

func TestPresenceKey(t *testing.T) {
	require.Equal(t, "im:presence:alice", presenceKey("alice"))
}

func TestPresenceMirror_RefreshOnline(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	m := newTestMirror(t, "node-a")
	suffix := time.Now().Format("150405.000000")
	users := []string{"refresh-a-" + suffix, "refresh-b-" + suffix}

	m.RefreshOnline(ctx, users)
	for _, u := range users {
		node, online, err := m.Lookup(ctx, u)
		req.NoError(err)
		req.True(online)
		req.Equal("node-a", node)
		m.Offline(ctx, u)
	}
}
