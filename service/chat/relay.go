package chat

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"PPRelay/logger"
	"PPRelay/module/chat/model"
	"PPRelay/module/chat/store"
	"PPRelay/service/events"
	"PPRelay/tools/errs"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// EventEmitter receives lifecycle events; Emit must not block.
type EventEmitter interface {
	Emit(ev events.Event)
}

type nopEmitter struct{}

func (nopEmitter) Emit(events.Event) {}

const (
	errInvalidFrame   = "Invalid frame"
	errInvalidMessage = "Invalid message: content and recipient are required"
	errNotPeer        = "Invalid message: recipient is not a member of this chat room"
	errInvalidStatus  = "Invalid status update"
	errRateLimited    = "Rate limit exceeded"
)

type RelayConf struct {
	StoreTimeout time.Duration
	Clock        func() time.Time
}

// Relay handles inbound frames of one connection at a time; callers serialize
// per connection, different connections may call concurrently.
type Relay struct {
	reg      *Registry
	store    store.Store
	emitter  EventEmitter
	metrics  *Metrics
	validate *validator.Validate
	conf     RelayConf
}

func NewRelay(reg *Registry, st store.Store, emitter EventEmitter, metrics *Metrics, conf RelayConf) *Relay {
	if emitter == nil {
		emitter = nopEmitter{}
	}
	if conf.StoreTimeout <= 0 {
		conf.StoreTimeout = 5 * time.Second
	}
	if conf.Clock == nil {
		conf.Clock = time.Now
	}
	return &Relay{
		reg:      reg,
		store:    st,
		emitter:  emitter,
		metrics:  metrics,
		validate: validator.New(),
		conf:     conf,
	}
}

func (r *Relay) storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.conf.StoreTimeout)
}

// HandleFrame decodes and dispatches one inbound frame.
func (r *Relay) HandleFrame(c *Conn, data []byte) {
	var f InboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		r.reject(c, "decode", errInvalidFrame)
		return
	}
	r.metrics.frame(f.Type)

	switch f.Type {
	case FrameHeartbeat:
		c.MarkAlive()
	case FrameMessage:
		r.handleChat(c, &f)
	case FrameMessageStatus:
		r.handleStatus(c, &f)
	default:
		r.reject(c, "unknown_type", errInvalidFrame+": unknown type "+f.Type)
	}
}

func (r *Relay) reject(c *Conn, code, msg string) {
	r.metrics.frameError(code)
	_ = c.Send(newErrorFrame(msg))
}

func (r *Relay) handleChat(c *Conn, f *InboundFrame) {
	if err := r.validate.Struct(chatPayload{Content: f.Content, To: f.To}); err != nil {
		r.reject(c, "validation", errInvalidMessage)
		return
	}
	if c.Peer() != "" && f.To != c.Peer() {
		r.reject(c, "validation", errNotPeer)
		return
	}

	ctx, cancel := r.storeCtx()
	defer cancel()

	var (
		msg           *model.Message
		justDelivered bool
	)
	if f.MessageID != "" {
		msg = r.loadResend(ctx, c, f.MessageID)
	}
	recipient := r.reg.Lookup(f.To)

	switch {
	case msg == nil:
		msg = model.NewMessage(c.RoomID(), c.UserID(), f.Content, recipient != nil, r.conf.Clock())
		start := time.Now()
		err := r.store.CreateMessage(ctx, msg)
		r.metrics.observeStore("create", start)
		if err != nil {
			msg.MarkFailed()
			r.metrics.transition(string(model.StatusFailed))
			r.emit(events.KindFailed, msg, f.To)
			logger.Error("[Relay] create message failed",
				zap.String("user", c.UserID()), zap.String("room", c.RoomID()), zap.Error(err))
			r.reject(c, "persist", "Failed to create message: "+err.Error())
			return
		}
		r.metrics.transition(string(msg.Status()))
		r.emit(events.KindCreated, msg, f.To)
		justDelivered = msg.Delivered

	case recipient != nil && !msg.Delivered:
		start := time.Now()
		updated, changed, err := r.store.MarkDelivered(ctx, msg.ID, r.conf.Clock())
		r.metrics.observeStore("mark_delivered", start)
		if err != nil {
			logger.Warn("[Relay] mark delivered on resend failed", zap.String("msg", msg.ID), zap.Error(err))
			break
		}
		msg, justDelivered = updated, changed
		if changed {
			r.metrics.transition(string(model.StatusDelivered))
			r.emit(events.KindDelivered, msg, f.To)
		}
	}

	// confirmation echoes the current status
	if err := c.Send(newMessageFrame(viewOf(msg, f.To, true))); err != nil {
		logger.Info("[Relay] confirmation not queued", zap.String("user", c.UserID()), zap.Error(err))
	}

	if recipient == nil {
		return
	}
	if err := recipient.Send(newMessageFrame(viewOf(msg, f.To, false))); err != nil {
		logger.Warn("[Relay] forward failed", zap.String("to", f.To), zap.String("msg", msg.ID), zap.Error(err))
		return
	}
	if justDelivered && msg.DeliveredAt != nil {
		_ = c.Send(newStatusFrame(msg.ID, model.StatusDelivered, *msg.DeliveredAt))
	}
}

// loadResend returns the referenced message when it may be resent by c, nil otherwise.
func (r *Relay) loadResend(ctx context.Context, c *Conn, id string) *model.Message {
	msg, err := r.store.FindMessage(ctx, id)
	if err != nil {
		if !errors.Is(err, errs.ErrRecordNotFound) {
			logger.Warn("[Relay] resend lookup failed", zap.String("msg", id), zap.Error(err))
		}
		return nil
	}
	if msg.Sender != c.UserID() || msg.ChatRoomID != c.RoomID() || msg.Failed {
		return nil
	}
	return msg
}

func (r *Relay) handleStatus(c *Conn, f *InboundFrame) {
	var (
		apply  func(ctx context.Context, id string, at time.Time) (*model.Message, bool, error)
		target model.Status
	)
	switch model.Status(f.Status) {
	case model.StatusRead:
		apply, target = r.store.MarkRead, model.StatusRead
	case model.StatusDelivered:
		apply, target = r.store.MarkDelivered, model.StatusDelivered
	default:
		r.reject(c, "validation", errInvalidStatus)
		return
	}
	if f.MessageID == "" {
		r.reject(c, "validation", errInvalidStatus)
		return
	}

	ctx, cancel := r.storeCtx()
	defer cancel()

	msg, err := r.store.FindMessage(ctx, f.MessageID)
	if err != nil {
		if !errors.Is(err, errs.ErrRecordNotFound) {
			logger.Warn("[Relay] status lookup failed", zap.String("msg", f.MessageID), zap.Error(err))
		}
		return
	}
	// only the recipient side of this room may acknowledge
	if msg.ChatRoomID != c.RoomID() || msg.Sender == c.UserID() {
		logger.Debug("[Relay] ignoring status for foreign message",
			zap.String("user", c.UserID()), zap.String("msg", msg.ID))
		return
	}

	start := time.Now()
	updated, changed, err := apply(ctx, msg.ID, r.conf.Clock())
	r.metrics.observeStore("mark_"+string(target), start)
	if err != nil {
		logger.Warn("[Relay] status update failed", zap.String("msg", msg.ID), zap.String("status", f.Status), zap.Error(err))
		return
	}
	if !changed {
		return
	}
	r.metrics.transition(string(target))
	kind := events.KindRead
	at := updated.ReadAt
	if target == model.StatusDelivered {
		kind, at = events.KindDelivered, updated.DeliveredAt
	}
	r.emit(kind, updated, c.UserID())

	if sender := r.reg.Lookup(updated.Sender); sender != nil && at != nil {
		_ = sender.Send(newStatusFrame(updated.ID, target, *at))
	}
}

func (r *Relay) emit(kind events.Kind, m *model.Message, to string) {
	r.emitter.Emit(events.Event{
		Kind:       kind,
		MessageID:  m.ID,
		ChatRoomID: m.ChatRoomID,
		From:       m.Sender,
		To:         to,
		Status:     string(m.Status()),
		At:         r.conf.Clock(),
	})
}
