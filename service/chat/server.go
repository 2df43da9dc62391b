package chat

import (
	"net"
	"net/http"
	"time"

	"PPRelay/middleware"
	"PPRelay/module/chat/store"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// ServerConf 网关参数
type ServerConf struct {
	Conn              ConnConf
	MaxFrameBytes     int64
	FrameRate         float64 // 每连接入站帧速率（<=0 不限制）
	FrameBurst        int
	ActivityCounts    bool // 任意入站数据帧都视为存活
	AllowedOrigins    []string
	StoreTimeout      time.Duration
	EnforceMembership bool
}

func (c *ServerConf) norm() {
	c.Conn.norm()
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = 64 << 10
	}
	if c.FrameRate > 0 && c.FrameBurst <= 0 {
		c.FrameBurst = int(c.FrameRate) + 1
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 5 * time.Second
	}
}

// Server owns the registry and the per-connection pipeline:
// handshake → register → replay → read loop → deregister.
type Server struct {
	conf      ServerConf
	reg       *Registry
	store     store.Store
	handshake *Handshake
	relay     *Relay
	replayer  *Replayer
	metrics   *Metrics
	upgrader  websocket.Upgrader
}

func NewServer(conf ServerConf, reg *Registry, st store.Store, verifier IdentityVerifier, emitter EventEmitter, metrics *Metrics) *Server {
	conf.norm()
	return &Server{
		conf:      conf,
		reg:       reg,
		store:     st,
		handshake: NewHandshake(verifier, st, conf.EnforceMembership, conf.StoreTimeout),
		relay:     NewRelay(reg, st, emitter, metrics, RelayConf{StoreTimeout: conf.StoreTimeout}),
		replayer:  NewReplayer(reg, st, emitter, metrics, conf.StoreTimeout),
		metrics:   metrics,
		upgrader:  websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     middleware.OriginChecker(conf.AllowedOrigins),
		},
	}
}

func (s *Server) Registry() *Registry { return s.reg }

// Routes mounts the websocket route, the room bootstrap route and the
// reset-on-miss fallback.
func (s *Server) Routes(r *gin.Engine) {
	r.GET("/ws/*path", s.HandleWS)
	r.POST("/api/chatroom", s.HandleFindOrCreateRoom)
	r.NoRoute(func(c *gin.Context) {
		if websocket.IsWebSocketUpgrade(c.Request) {
			hardReset(c)
			return
		}
		c.AbortWithStatus(http.StatusNotFound)
	})
}

// hardReset drops the TCP connection without writing a response.
func hardReset(c *gin.Context) {
	c.Abort()
	conn, _, err := c.Writer.Hijack()
	if err != nil {
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetLinger(0)
	}
	_ = conn.Close()
}
