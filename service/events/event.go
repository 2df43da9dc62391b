// Package events publishes message lifecycle transitions to a broker.
package events

import (
	"context"
	"time"
)

type Kind string

const (
	KindCreated   Kind = "created"
	KindDelivered Kind = "delivered"
	KindRead      Kind = "read"
	KindFailed    Kind = "failed"
)

// Event 消息状态变更事件
type Event struct {
	Kind       Kind      `json:"kind"`
	MessageID  string    `json:"messageId,omitempty"`
	ChatRoomID string    `json:"chatRoomId"`
	From       string    `json:"from"`
	To         string    `json:"to,omitempty"`
	Status     string    `json:"status"`
	At         time.Time `json:"at"`
}

// Sink delivers one event synchronously.
type Sink interface {
	Send(ctx context.Context, ev Event) error
	Close() error
}

type noopSink struct{}

func (noopSink) Send(context.Context, Event) error { return nil }
func (noopSink) Close() error                      { return nil }

func Noop() Sink { return noopSink{} }
