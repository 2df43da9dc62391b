package chat

import (
	"context"
	"time"

	"PPRelay/logger"
	"PPRelay/module/chat/model"
	"PPRelay/module/chat/store"
	"PPRelay/service/events"
	"PPRelay/tools/errs"

	"go.uber.org/zap"
)

// Replayer streams a reconnecting user's undelivered messages, oldest first.
type Replayer struct {
	reg          *Registry
	store        store.Store
	emitter      EventEmitter
	metrics      *Metrics
	storeTimeout time.Duration
	now          func() time.Time
}

func NewReplayer(reg *Registry, st store.Store, emitter EventEmitter, metrics *Metrics, storeTimeout time.Duration) *Replayer {
	if emitter == nil {
		emitter = nopEmitter{}
	}
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	return &Replayer{
		reg:          reg,
		store:        st,
		emitter:      emitter,
		metrics:      metrics,
		storeTimeout: storeTimeout,
		now:          time.Now,
	}
}

// Replay runs under the connection's context, so closing c aborts it. A store
// error stops the replay and tells the client it is incomplete; c stays open.
func (p *Replayer) Replay(c *Conn) (delivered int, err error) {
	ctx := c.Context()

	listCtx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	start := time.Now()
	pending, err := p.store.FindUndelivered(listCtx, c.RoomID(), c.UserID())
	p.metrics.observeStore("find_undelivered", start)
	cancel()
	if err != nil {
		return 0, p.abort(c, 0, err)
	}
	if len(pending) > 0 {
		logger.Info("[Replay] pending messages", zap.String("user", c.UserID()),
			zap.String("room", c.RoomID()), zap.Int("count", len(pending)))
	}

	for _, m := range pending {
		if ctx.Err() != nil {
			p.metrics.replay(delivered, true)
			return delivered, errs.ErrConnClosed.WrapMsg("replay aborted", "user", c.UserID())
		}
		if err := c.Send(newMessageFrame(viewOf(m, c.UserID(), false))); err != nil {
			p.metrics.replay(delivered, true)
			return delivered, err
		}

		updated, changed, err := p.markDelivered(ctx, m.ID)
		if err != nil {
			return delivered, p.abort(c, delivered, err)
		}
		delivered++
		// pongs are not read until replay returns; each delivery counts as activity
		c.MarkAlive()
		if !changed {
			continue
		}
		p.metrics.transition(string(model.StatusDelivered))
		p.emitter.Emit(events.Event{
			Kind:       events.KindDelivered,
			MessageID:  updated.ID,
			ChatRoomID: updated.ChatRoomID,
			From:       updated.Sender,
			To:         c.UserID(),
			Status:     string(updated.Status()),
			At:         p.now(),
		})
		if sender := p.reg.Lookup(updated.Sender); sender != nil && updated.DeliveredAt != nil {
			_ = sender.Send(newStatusFrame(updated.ID, model.StatusDelivered, *updated.DeliveredAt))
		}
	}
	p.metrics.replay(delivered, false)
	return delivered, nil
}

func (p *Replayer) markDelivered(ctx context.Context, id string) (*model.Message, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	defer cancel()
	start := time.Now()
	defer p.metrics.observeStore("mark_delivered", start)
	return p.store.MarkDelivered(ctx, id, p.now())
}

func (p *Replayer) abort(c *Conn, delivered int, err error) error {
	p.metrics.replay(delivered, true)
	if c.Context().Err() != nil {
		return errs.ErrConnClosed.WrapMsg("replay aborted", "user", c.UserID())
	}
	logger.Error("[Replay] aborted", zap.String("user", c.UserID()),
		zap.String("room", c.RoomID()), zap.Int("delivered", delivered), zap.Error(err))
	_ = c.Send(ReplayStatusFrame{
		Type:      FrameReplayStatus,
		Status:    StatusIncomplete,
		Message:   "Some undelivered messages could not be replayed; reconnect to retry",
		Delivered: delivered,
	})
	return err
}
