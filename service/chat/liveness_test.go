package chat

import (
	"context"
	"testing"
	"time"

	"PPRelay/module/chat/store"

	"github.com/stretchr/testify/require"
)

func TestMonitor_RespondingConnectionSurvives(t *testing.T) {
	reg := NewRegistry()
	mon := NewMonitor(reg, time.Minute, nil)
	c, ft := newTestConn("alice", "r1", "bob")
	reg.Register(c)

	for i := 1; i <= 3; i++ {
		require.Zero(t, mon.Sweep(context.Background()))
		require.Equal(t, i, ft.pingCount())
		c.MarkAlive() // pong
	}
	require.Same(t, c, reg.Lookup("alice"))
	require.NoError(t, c.Context().Err())
}

func TestMonitor_SilentConnectionEvictedOnSecondSweep(t *testing.T) {
	reg := NewRegistry()
	mon := NewMonitor(reg, time.Minute, nil)
	c, ft := newTestConn("alice", "r1", "bob")
	reg.Register(c)

	require.Zero(t, mon.Sweep(context.Background()))
	require.Equal(t, 1, ft.pingCount())
	require.NotNil(t, reg.Lookup("alice"))

	require.Equal(t, 1, mon.Sweep(context.Background()))
	require.Nil(t, reg.Lookup("alice"))
	require.Equal(t, ReasonTimeout, c.Reason())
	<-c.Done()
	require.True(t, ft.isClosed())
}

func TestMonitor_FailedPingEvictsImmediately(t *testing.T) {
	reg := NewRegistry()
	mon := NewMonitor(reg, time.Minute, nil)
	c, ft := newTestConn("alice", "r1", "bob")
	ft.failPing = true
	reg.Register(c)

	require.Equal(t, 1, mon.Sweep(context.Background()))
	require.Nil(t, reg.Lookup("alice"))
	require.Equal(t, ReasonWriteError, c.Reason())
}

func TestMonitor_HeartbeatFrameCountsAsLiveness(t *testing.T) {
	reg := NewRegistry()
	mon := NewMonitor(reg, time.Minute, nil)
	relay := NewRelay(reg, store.NewMemory(), nil, nil, RelayConf{})
	c, ft := newTestConn("alice", "r1", "bob")
	reg.Register(c)

	require.Zero(t, mon.Sweep(context.Background()))
	relay.HandleFrame(c, []byte(`{"type":"heartbeat"}`))
	require.Zero(t, mon.Sweep(context.Background()))
	require.Same(t, c, reg.Lookup("alice"))
	// heartbeats are not answered
	ft.requireNoMore(t, 0)
}

func TestMonitor_OnlyStaleConnectionsEvicted(t *testing.T) {
	reg := NewRegistry()
	mon := NewMonitor(reg, time.Minute, nil)
	quiet, _ := newTestConn("alice", "r1", "bob")
	chatty, _ := newTestConn("bob", "r1", "alice")
	reg.Register(quiet)
	reg.Register(chatty)

	require.Zero(t, mon.Sweep(context.Background()))
	chatty.MarkAlive()
	require.Equal(t, 1, mon.Sweep(context.Background()))
	require.Nil(t, reg.Lookup("alice"))
	require.Same(t, chatty, reg.Lookup("bob"))
}

func TestMonitor_RunStopsWithContext(t *testing.T) {
	reg := NewRegistry()
	mon := NewMonitor(reg, 5*time.Millisecond, nil)
	c, _ := newTestConn("alice", "r1", "bob")
	reg.Register(c)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mon.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return reg.Lookup("alice") == nil }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
}
