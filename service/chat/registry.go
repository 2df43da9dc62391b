package chat

import (
	"context"
	"sync"

	"PPRelay/logger"
	"PPRelay/tools/safe"

	"go.uber.org/zap"
)

const presenceQueue = 1024

// PresenceObserver is told about registry changes. Calls are made in registry
// order on one background goroutine, never on the caller's.
type PresenceObserver interface {
	Online(ctx context.Context, userID string)
	Offline(ctx context.Context, userID string)
}

// PresenceRefresher is an optional PresenceObserver extension that renews many
// users in one round trip.
type PresenceRefresher interface {
	RefreshOnline(ctx context.Context, userIDs []string)
}

type presenceJob struct {
	online  bool
	refresh bool
	users   []string
}

// Registry maps a user to its single live connection.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]*Conn

	observers []PresenceObserver
	jobs      chan presenceJob
	jobsMu    sync.RWMutex
	stopped   bool
	stopCh    chan struct{}
	done      chan struct{}
}

func NewRegistry(observers ...PresenceObserver) *Registry {
	r := &Registry{
		byUser:    make(map[string]*Conn),
		observers: observers,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	if len(observers) == 0 {
		close(r.done)
		return r
	}
	r.jobs = make(chan presenceJob, presenceQueue)
	safe.Go("presence-notify", r.notifyLoop)
	return r
}

// Register installs c for its user. A previous connection of the same user is
// closed and returned.
func (r *Registry) Register(c *Conn) *Conn {
	if c == nil || c.UserID() == "" {
		return nil
	}
	r.mu.Lock()
	prev := r.byUser[c.UserID()]
	r.byUser[c.UserID()] = c
	r.mu.Unlock()

	if prev != nil && prev != c {
		logger.Info("[Registry] replacing connection",
			zap.String("user", c.UserID()), zap.String("old", prev.ID()), zap.String("new", c.ID()))
		prev.Close(ReasonReplaced)
	}
	r.notify(presenceJob{online: true, users: []string{c.UserID()}})
	if prev == c {
		return nil
	}
	return prev
}

// Lookup returns the user's live connection or nil.
func (r *Registry) Lookup(userID string) *Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byUser[userID]
}

// Deregister removes c only if it is still the registered connection of its
// user; a stale handle is a no-op.
func (r *Registry) Deregister(c *Conn) bool {
	if c == nil {
		return false
	}
	r.mu.Lock()
	cur, ok := r.byUser[c.UserID()]
	if !ok || cur != c {
		r.mu.Unlock()
		return false
	}
	delete(r.byUser, c.UserID())
	r.mu.Unlock()

	r.notify(presenceJob{users: []string{c.UserID()}})
	return true
}

func (r *Registry) Snapshot() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.byUser))
	for _, c := range r.byUser {
		out = append(out, c)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// RefreshPresence queues a re-announcement of every registered user and
// returns immediately.
func (r *Registry) RefreshPresence() {
	if len(r.observers) == 0 {
		return
	}
	r.mu.RLock()
	users := make([]string, 0, len(r.byUser))
	for u := range r.byUser {
		users = append(users, u)
	}
	r.mu.RUnlock()
	if len(users) == 0 {
		return
	}
	r.notify(presenceJob{online: true, refresh: true, users: users})
}

// CloseAll closes and removes every connection.
func (r *Registry) CloseAll(reason string) {
	for _, c := range r.Snapshot() {
		c.Close(reason)
		r.Deregister(c)
	}
}

// Close stops the presence notifier after it has drained what is queued.
func (r *Registry) Close() {
	r.jobsMu.Lock()
	if !r.stopped {
		r.stopped = true
		close(r.stopCh)
	}
	r.jobsMu.Unlock()
	<-r.done
}

func (r *Registry) notify(job presenceJob) {
	if len(r.observers) == 0 {
		return
	}
	r.jobsMu.RLock()
	defer r.jobsMu.RUnlock()
	if r.stopped {
		return
	}
	select {
	case r.jobs <- job:
	default:
		// a dropped refresh is retried by the next sweep; a dropped online or
		// offline is corrected by the next refresh or the key TTL
		logger.Warn("[Registry] presence queue full, drop notification",
			zap.Bool("online", job.online), zap.Int("users", len(job.users)))
	}
}

func (r *Registry) notifyLoop() {
	defer close(r.done)
	for {
		select {
		case job := <-r.jobs:
			r.deliver(job)
		case <-r.stopCh:
			for {
				select {
				case job := <-r.jobs:
					r.deliver(job)
				default:
					return
				}
			}
		}
	}
}

func (r *Registry) deliver(job presenceJob) {
	ctx := context.Background()
	for _, o := range r.observers {
		if job.refresh {
			if b, ok := o.(PresenceRefresher); ok {
				b.RefreshOnline(ctx, job.users)
				continue
			}
		}
		for _, u := range job.users {
			if job.online {
				o.Online(ctx, u)
			} else {
				o.Offline(ctx, u)
			}
		}
	}
}
