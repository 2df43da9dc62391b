package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"PPRelay/logger"

	"go.uber.org/zap"
)

// Dispatcher decouples the relay from the sink: Emit never blocks, a full
// queue drops the event with a warning.
type Dispatcher struct {
	sink    Sink
	queue   chan Event
	timeout time.Duration

	dropped atomic.Int64

	// mu orders Emit against Close so nothing is enqueued after the final drain.
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	stopCh  chan struct{}
	sinkErr error
}

func NewDispatcher(sink Sink, queueSize int, sendTimeout time.Duration) *Dispatcher {
	if sink == nil {
		sink = Noop()
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	if sendTimeout <= 0 {
		sendTimeout = 5 * time.Second
	}
	d := &Dispatcher{
		sink:    sink,
		queue:   make(chan Event, queueSize),
		timeout: sendTimeout,
		stopCh:  make(chan struct{}),
	}
	d.wg.Add(1)
	go d.loop()
	return d
}

func (d *Dispatcher) Emit(ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		n := d.dropped.Add(1)
		logger.Warn("[Events] dispatcher closed, drop event",
			zap.String("kind", string(ev.Kind)), zap.String("msg", ev.MessageID), zap.Int64("dropped", n))
		return
	}
	select {
	case d.queue <- ev:
	default:
		n := d.dropped.Add(1)
		logger.Warn("[Events] queue full, drop event",
			zap.String("kind", string(ev.Kind)), zap.String("msg", ev.MessageID), zap.Int64("dropped", n))
	}
}

func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for {
		select {
		case ev := <-d.queue:
			d.send(ev)
		case <-d.stopCh:
			// flush what is already queued
			for {
				select {
				case ev := <-d.queue:
					d.send(ev)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) send(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.sink.Send(ctx, ev); err != nil {
		logger.Warn("[Events] publish failed",
			zap.String("kind", string(ev.Kind)), zap.String("msg", ev.MessageID), zap.Error(err))
	}
}

// Close drains the queue and closes the sink. Later Emits count as dropped.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return d.sinkErr
	}
	d.closed = true
	close(d.stopCh)
	d.wg.Wait()
	d.sinkErr = d.sink.Close()
	return d.sinkErr
}
