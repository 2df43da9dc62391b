package chat

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"PPRelay/logger"
	"PPRelay/tools/errs"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Transport is the subset of *websocket.Conn a Conn writes through.
// WriteControl and Close may be called concurrently with WriteMessage.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// ConnConf 每连接参数
type ConnConf struct {
	SendQueue int           // 发送队列长度
	WriteWait time.Duration // 单次写超时，也是 Send 等待队列空位的上限
}

func (c *ConnConf) norm() {
	if c.SendQueue <= 0 {
		c.SendQueue = 256
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
}

// Close reasons, also used as metric labels.
const (
	ReasonClientClosed = "client_closed"
	ReasonReadError    = "read_error"
	ReasonWriteError   = "write_error"
	ReasonReplaced     = "replaced"
	ReasonTimeout      = "timeout"
	ReasonSlowConsumer = "slow_consumer"
	ReasonShutdown     = "shutdown"
)

// Conn binds one verified identity and room to a transport. All outbound
// frames go through a single writer goroutine.
type Conn struct {
	id     string
	userID string
	roomID string
	peer   string

	ws        Transport
	send      chan []byte
	writeWait time.Duration

	alive atomic.Bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	reason    atomic.Value // string
	done      chan struct{}

	connectedAt time.Time
}

func NewConn(ws Transport, id Identity, conf ConnConf) *Conn {
	conf.norm()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		id:          uuid.NewString(),
		userID:      id.UserID,
		roomID:      id.RoomID,
		peer:        id.Peer,
		ws:          ws,
		send:        make(chan []byte, conf.SendQueue),
		writeWait:   conf.WriteWait,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		connectedAt: time.Now(),
	}
	c.alive.Store(true)
	go c.writeLoop()
	return c
}

func (c *Conn) ID() string     { return c.id }
func (c *Conn) UserID() string { return c.userID }
func (c *Conn) RoomID() string { return c.roomID }

// Peer is the other room participant, empty when membership is not enforced.
func (c *Conn) Peer() string { return c.peer }

// Context is cancelled when the connection closes.
func (c *Conn) Context() context.Context { return c.ctx }

// Done is closed once the writer has released the transport.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) MarkAlive() { c.alive.Store(true) }

// takeAlive clears the liveness flag and reports whether it was set.
func (c *Conn) takeAlive() bool { return c.alive.Swap(false) }

func (c *Conn) Reason() string {
	if v, ok := c.reason.Load().(string); ok {
		return v
	}
	return ""
}

// Send marshals v and queues it.
func (c *Conn) Send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errs.WrapMsg(err, "marshal frame")
	}
	return c.SendRaw(b)
}

// SendRaw queues b for the writer. When the queue stays full for WriteWait the
// connection is closed as a slow consumer.
func (c *Conn) SendRaw(b []byte) error {
	if c.ctx.Err() != nil {
		return errs.ErrConnClosed.WrapMsg("", "conn", c.id)
	}
	select {
	case c.send <- b:
		return nil
	default:
	}

	timer := time.NewTimer(c.writeWait)
	defer timer.Stop()
	select {
	case c.send <- b:
		return nil
	case <-c.ctx.Done():
		return errs.ErrConnClosed.WrapMsg("", "conn", c.id)
	case <-timer.C:
		logger.Warn("[WS] send queue full, closing", zap.String("user", c.userID), zap.String("conn", c.id))
		c.Close(ReasonSlowConsumer)
		return errs.ErrConnClosed.WrapMsg(ReasonSlowConsumer, "conn", c.id)
	}
}

// Probe writes a websocket ping; the pong handler calls MarkAlive.
func (c *Conn) Probe() error {
	if c.ctx.Err() != nil {
		return errs.ErrConnClosed.WrapMsg("", "conn", c.id)
	}
	return c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(c.writeWait))
}

// Close is idempotent; the first reason wins.
func (c *Conn) Close(reason string) {
	c.closeOnce.Do(func() {
		c.reason.Store(reason)
		c.cancel()
	})
}

func (c *Conn) writeLoop() {
	defer close(c.done)
	defer func() {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = c.ws.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Info("[WS] write payload err", zap.String("user", c.userID), zap.String("conn", c.id), zap.Error(err))
				c.Close(ReasonWriteError)
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}
