package main

import (
	"context"
	"errors"
	"flag"
	"hash/fnv"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"PPRelay/data/database/mgo/mongoutil"
	"PPRelay/global/config"
	"PPRelay/logger"
	"PPRelay/module/chat/store"
	"PPRelay/service/chat"
	"PPRelay/service/events"
	"PPRelay/service/storage"
	rdsutil "PPRelay/service/storage/redis"
	"PPRelay/tools/errs"
	"PPRelay/tools/ids"
	"PPRelay/tools/safe"
	"PPRelay/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		logger.Error("relay exited", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

func run() error {
	cfgPath := flag.String("config", os.Getenv("RELAY_CONFIG"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.LogLevel); err != nil {
		return err
	}
	ids.SetNodeID(nodeNumber(cfg.NodeID))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			logger.Warn("close store", zap.Error(err))
		}
	}()

	verifier, err := security.NewVerifier(security.Options{
		Secret: []byte(cfg.Auth.JWTSecret),
		Alg:    cfg.Auth.Alg,
		Leeway: cfg.Auth.Leeway,
	})
	if err != nil {
		return err
	}

	var observers []chat.PresenceObserver
	if cfg.Redis.Enabled {
		rdb, err := rdsutil.NewClient(ctx, cfg.Redis.Config)
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()
		observers = append(observers, storage.NewPresenceMirror(rdb, cfg.NodeID, cfg.Redis.PresenceTTL))
	}

	sink, err := openSink(cfg)
	if err != nil {
		return err
	}
	dispatcher := events.NewDispatcher(sink, cfg.Events.QueueSize, cfg.Events.Timeout)
	defer func() {
		if err := dispatcher.Close(); err != nil {
			logger.Warn("close event sink", zap.Error(err))
		}
	}()

	var metrics *chat.Metrics
	if cfg.Metrics.Enabled {
		metrics = chat.NewMetrics(prometheus.DefaultRegisterer)
	}

	reg := chat.NewRegistry(observers...)
	srv := chat.NewServer(chat.ServerConf{
		Conn: chat.ConnConf{
			SendQueue: cfg.Conn.SendQueue,
			WriteWait: cfg.Conn.WriteWait,
		},
		MaxFrameBytes:     cfg.Conn.MaxFrameBytes,
		FrameRate:         cfg.Conn.FrameRate,
		FrameBurst:        cfg.Conn.FrameBurst,
		ActivityCounts:    cfg.Liveness.ActivityCounts,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		StoreTimeout:      cfg.Store.Timeout,
		EnforceMembership: cfg.Room.EnforceMembership,
	}, reg, st, verifier, dispatcher, metrics)

	monitor := chat.NewMonitor(reg, cfg.Liveness.ProbeInterval, metrics)
	safe.Go("liveness-monitor", func() { monitor.Run(ctx) })

	gin.SetMode(cfg.Server.GinMode)
	r := gin.New()
	r.Use(gin.Recovery())
	srv.Routes(r)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "node": cfg.NodeID, "connections": reg.Len()})
	})
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	httpSrv := &http.Server{Addr: cfg.Server.Addr, Handler: r}
	serveErr := make(chan error, 1)
	safe.Go("http-server", func() {
		logger.Info("relay listening", zap.String("addr", cfg.Server.Addr), zap.String("node", cfg.NodeID),
			zap.String("store", cfg.Store.Driver), zap.String("events", cfg.Events.Sink))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	})

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return errs.WrapMsg(err, "http server")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	// hijacked websocket connections are not tracked by Shutdown
	reg.CloseAll(chat.ReasonShutdown)
	err = httpSrv.Shutdown(shutdownCtx)
	reg.Close()
	return err
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.StoreMongo:
		client, err := mongoutil.NewMongoDB(ctx, &cfg.Store.Mongo)
		if err != nil {
			return nil, err
		}
		st, err := store.NewMongo(ctx, client)
		if err != nil {
			_ = client.Close(context.Background())
			return nil, err
		}
		return st, nil
	case config.StorePostgres:
		return store.NewPostgres(ctx, cfg.Store.Postgres.DSN)
	default:
		logger.Warn("using in-memory message store; messages are lost on restart")
		return store.NewMemory(), nil
	}
}

func openSink(cfg *config.Config) (events.Sink, error) {
	switch cfg.Events.Sink {
	case config.EventsNats:
		return events.NewNatsSink(cfg.Events.Nats)
	case config.EventsKafka:
		return events.NewKafkaSink(cfg.Events.Kafka)
	default:
		return events.Noop(), nil
	}
}

// nodeNumber folds the node id into the 10-bit snowflake node space.
func nodeNumber(nodeID string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(nodeID))
	return int64(h.Sum32() % 1024)
}
