package chat

import (
	"context"
	"time"

	"PPRelay/logger"

	"go.uber.org/zap"
)

// Monitor evicts connections that stayed silent for a whole probe interval.
// A connection is evicted on the second sweep without a pong or heartbeat,
// so the effective timeout is twice the interval.
type Monitor struct {
	reg      *Registry
	interval time.Duration
	metrics  *Metrics
}

func NewMonitor(reg *Registry, interval time.Duration, metrics *Metrics) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{reg: reg, interval: interval, metrics: metrics}
}

// Run sweeps until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep runs one probe cycle and returns the number of evicted connections.
// Presence observers are notified asynchronously and never slow a sweep down.
func (m *Monitor) Sweep(ctx context.Context) int {
	evicted := 0
	for _, c := range m.reg.Snapshot() {
		if ctx.Err() != nil {
			break
		}
		if !c.takeAlive() {
			logger.Info("[Liveness] timeout", zap.String("user", c.UserID()), zap.String("conn", c.ID()))
			m.evict(c, ReasonTimeout)
			evicted++
			continue
		}
		if err := c.Probe(); err != nil {
			logger.Info("[Liveness] ping failed", zap.String("user", c.UserID()), zap.String("conn", c.ID()), zap.Error(err))
			m.evict(c, ReasonWriteError)
			evicted++
		}
	}
	m.reg.RefreshPresence()
	return evicted
}

func (m *Monitor) evict(c *Conn, reason string) {
	c.Close(reason)
	m.reg.Deregister(c)
}
