package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"PPRelay/module/chat/model"
	"PPRelay/module/chat/store"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// fakeTransport records what the writer goroutine and the monitor write.
type fakeTransport struct {
	mu       sync.Mutex
	frames   [][]byte
	pings    int
	closed   bool
	failPing bool
}

func (f *fakeTransport) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return websocket.ErrCloseSent
	}
	f.frames = append(f.frames, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) WriteControl(messageType int, _ []byte, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if messageType == websocket.PingMessage {
		if f.failPing || f.closed {
			return errors.New("broken pipe")
		}
		f.pings++
	}
	return nil
}

func (f *fakeTransport) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeTransport) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// testFrame is a superset of every outbound frame shape.
type testFrame struct {
	Type       string          `json:"type"`
	Status     string          `json:"status"`
	Message    json.RawMessage `json:"message"`
	MessageID  string          `json:"messageId"`
	Timestamp  time.Time       `json:"timestamp"`
	UserID     string          `json:"userId"`
	ChatRoomID string          `json:"chatRoomId"`
	Delivered  int             `json:"delivered"`
}

func (f testFrame) view(t *testing.T) MessageView {
	t.Helper()
	var v MessageView
	require.NoError(t, json.Unmarshal(f.Message, &v))
	return v
}

func (f testFrame) text(t *testing.T) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(f.Message, &s))
	return s
}

// waitFrames blocks until at least n frames were written and returns the first n.
func (f *fakeTransport) waitFrames(t *testing.T, n int) []testFrame {
	t.Helper()
	require.Eventually(t, func() bool { return f.count() >= n }, 2*time.Second, 2*time.Millisecond,
		"expected %d frames", n)
	f.mu.Lock()
	raw := append([][]byte(nil), f.frames[:n]...)
	f.mu.Unlock()

	out := make([]testFrame, 0, n)
	for _, b := range raw {
		var tf testFrame
		require.NoError(t, json.Unmarshal(b, &tf))
		out = append(out, tf)
	}
	return out
}

func (f *fakeTransport) requireNoMore(t *testing.T, n int) {
	t.Helper()
	require.Never(t, func() bool { return f.count() > n }, 60*time.Millisecond, 5*time.Millisecond)
}

func newTestConn(user, room, peer string) (*Conn, *fakeTransport) {
	ft := &fakeTransport{}
	c := NewConn(ft, Identity{UserID: user, RoomID: room, Peer: peer}, ConnConf{SendQueue: 64, WriteWait: time.Second})
	return c, ft
}

// faultyStore injects errors into selected operations.
type faultyStore struct {
	store.Store
	mu               sync.Mutex
	failCreate       error
	failUndelivered  error
	failDeliverAfter int // fail MarkDelivered after this many successes, <0 never
	delivered        int
}

func newFaultyStore() *faultyStore {
	return &faultyStore{Store: store.NewMemory(), failDeliverAfter: -1}
}

func (s *faultyStore) CreateMessage(ctx context.Context, m *model.Message) error {
	if s.failCreate != nil {
		return s.failCreate
	}
	return s.Store.CreateMessage(ctx, m)
}

func (s *faultyStore) FindUndelivered(ctx context.Context, roomID, exclude string) ([]*model.Message, error) {
	if s.failUndelivered != nil {
		return nil, s.failUndelivered
	}
	return s.Store.FindUndelivered(ctx, roomID, exclude)
}

func (s *faultyStore) MarkDelivered(ctx context.Context, id string, at time.Time) (*model.Message, bool, error) {
	s.mu.Lock()
	if s.failDeliverAfter >= 0 && s.delivered >= s.failDeliverAfter {
		s.mu.Unlock()
		return nil, false, errors.New("store unavailable")
	}
	s.delivered++
	s.mu.Unlock()
	return s.Store.MarkDelivered(ctx, id, at)
}

func mustCreate(t *testing.T, st store.Store, room, sender, content string, at time.Time) *model.Message {
	t.Helper()
	m := model.NewMessage(room, sender, content, false, at)
	require.NoError(t, st.CreateMessage(context.Background(), m))
	return m
}
