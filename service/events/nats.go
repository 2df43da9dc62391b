package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"PPRelay/logger"
	"PPRelay/tools/errs"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type NatsConfig struct {
	Servers       []string      `mapstructure:"servers"`
	Name          string        `mapstructure:"name"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	Timeout       time.Duration `mapstructure:"timeout"`

	// JetStream publishes with a Nats-Msg-Id so the server drops redeliveries.
	JetStream bool   `mapstructure:"jetstream"`
	Stream    string `mapstructure:"stream"` // created on startup when set and missing
}

type natsSink struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	prefix string
}

// NewNatsSink publishes each event on `<prefix>.<kind>`.
func NewNatsSink(cfg NatsConfig) (Sink, error) {
	if len(cfg.Servers) == 0 {
		return nil, errs.ErrArgs.WrapMsg("nats servers missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "pprelay.message"
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","),
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.MaxReconnects(-1),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("[NATS] disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("[NATS] reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, errs.WrapMsg(err, "nats connect", "servers", cfg.Servers)
	}
	sink := &natsSink{nc: nc, prefix: cfg.SubjectPrefix}
	if cfg.JetStream {
		if sink.js, err = nc.JetStream(); err != nil {
			nc.Close()
			return nil, errs.WrapMsg(err, "init jetstream")
		}
		if cfg.Stream != "" {
			if err := ensureStream(sink.js, cfg.Stream, cfg.SubjectPrefix); err != nil {
				nc.Close()
				return nil, err
			}
		}
	}
	return sink, nil
}

func ensureStream(js nats.JetStreamContext, name, prefix string) error {
	_, err := js.StreamInfo(name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return errs.WrapMsg(err, "stream info", "stream", name)
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     name,
		Subjects: []string{strings.TrimSuffix(prefix, ".") + ".>"},
		Storage:  nats.FileStorage,
	})
	if err != nil {
		return errs.WrapMsg(err, "add stream", "stream", name)
	}
	logger.Info("[NATS] stream created", zap.String("stream", name))
	return nil
}

// dedupID is stable per transition; failed events carry no message id.
func dedupID(ev Event) string {
	if ev.MessageID == "" {
		return ""
	}
	return ev.MessageID + ":" + string(ev.Kind)
}

func subjectFor(prefix string, k Kind) string {
	return strings.TrimSuffix(prefix, ".") + "." + string(k)
}

func (s *natsSink) Send(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return errs.WrapMsg(err, "marshal event")
	}
	msg := nats.NewMsg(subjectFor(s.prefix, ev.Kind))
	msg.Data = data
	msg.Header.Set("Chat-Room-Id", ev.ChatRoomID)
	if s.js != nil {
		var opts []nats.PubOpt
		if id := dedupID(ev); id != "" {
			opts = append(opts, nats.MsgId(id))
		}
		if _, err := s.js.PublishMsg(msg, opts...); err != nil {
			return errs.WrapMsg(err, "jetstream publish", "subject", msg.Subject)
		}
		return nil
	}
	if err := s.nc.PublishMsg(msg); err != nil {
		return errs.WrapMsg(err, "nats publish", "subject", msg.Subject)
	}
	return nil
}

func (s *natsSink) Close() error {
	if err := s.nc.Drain(); err != nil {
		s.nc.Close()
		return errs.WrapMsg(err, "nats drain")
	}
	return nil
}
