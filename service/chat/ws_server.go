package chat

import (
	"net"
	"net/http"

	"PPRelay/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HandleWS 建连 → 注册 → 补发 → 读循环 → 注销
func (s *Server) HandleWS(c *gin.Context) {
	id, err := s.handshake.Authorize(c.Request.Context(), c.Request)
	if err != nil {
		s.reject(c, err)
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrader already answered with an HTTP error
		logger.Info("[WS] upgrade websocket error", zap.String("user", id.UserID), zap.Error(err))
		return
	}
	ws.SetReadLimit(s.conf.MaxFrameBytes)

	conn := NewConn(ws, *id, s.conf.Conn)
	ws.SetPongHandler(func(string) error {
		conn.MarkAlive()
		return nil
	})

	s.reg.Register(conn)
	s.metrics.connOpened()
	logger.Info("[WS] connected", zap.String("user", conn.UserID()),
		zap.String("room", conn.RoomID()), zap.String("conn", conn.ID()))

	_ = conn.Send(ConnectionStatusFrame{
		Type:       FrameConnectionStatus,
		Status:     StatusConnected,
		UserID:     conn.UserID(),
		ChatRoomID: conn.RoomID(),
	})
	if _, err := s.replayer.Replay(conn); err != nil {
		logger.Info("[WS] replay stopped", zap.String("user", conn.UserID()), zap.Error(err))
	}

	reason := s.readLoop(conn, ws)

	conn.Close(reason)
	s.reg.Deregister(conn)
	<-conn.Done()
	s.metrics.connClosed(conn.Reason())
	logger.Info("[WS] disconnected", zap.String("user", conn.UserID()),
		zap.String("conn", conn.ID()), zap.String("reason", conn.Reason()))
}

// readLoop 只读不写；出错即退出，写协程负责关闭 ws
func (s *Server) readLoop(conn *Conn, ws *websocket.Conn) string {
	var limiter *rate.Limiter
	if s.conf.FrameRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.conf.FrameRate), s.conf.FrameBurst)
	}

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			return classifyReadErr(conn, err)
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		if s.conf.ActivityCounts {
			conn.MarkAlive()
		}
		if limiter != nil && !limiter.Allow() {
			s.relay.reject(conn, "rate_limited", errRateLimited)
			continue
		}
		s.relay.HandleFrame(conn, data)
	}
}

func classifyReadErr(conn *Conn, err error) string {
	if conn.Context().Err() != nil {
		// closed from our side (replaced, evicted, slow consumer)
		return conn.Reason()
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		logger.Debug("[WS] peer closed", zap.String("user", conn.UserID()), zap.Error(err))
		return ReasonClientClosed
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		logger.Info("[WS] read timeout", zap.String("user", conn.UserID()), zap.Error(err))
		return ReasonReadError
	}
	logger.Info("[WS] read err", zap.String("user", conn.UserID()), zap.Error(err))
	return ReasonReadError
}

func (s *Server) reject(c *gin.Context, err error) {
	status, reset := rejection(err)
	if reset {
		s.metrics.handshakeRejected("reset")
		logger.Debug("[WS] malformed upgrade path", zap.String("path", c.Request.URL.Path))
		hardReset(c)
		return
	}
	s.metrics.handshakeRejected(http.StatusText(status))
	logger.Info("[WS] handshake rejected", zap.Int("status", status), zap.Error(err))
	c.AbortWithStatus(status)
}
