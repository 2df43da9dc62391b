// Package store persists chat rooms and messages. Status updates are conditional
// writes against the backend so no message value is shared between requests.
package store

import (
	"context"
	"time"

	"PPRelay/module/chat/model"
)

type Store interface {
	// CreateMessage assigns m.ID and persists m.
	CreateMessage(ctx context.Context, m *model.Message) error
	// FindMessage returns errs.ErrRecordNotFound for unknown ids.
	FindMessage(ctx context.Context, id string) (*model.Message, error)
	// FindUndelivered lists the room's undelivered, non-failed messages not authored
	// by excludeSender, oldest first.
	FindUndelivered(ctx context.Context, roomID, excludeSender string) ([]*model.Message, error)
	// MarkDelivered applies pending → delivered. changed is false when the message was
	// already delivered or failed; the returned message reflects the stored state.
	MarkDelivered(ctx context.Context, id string, at time.Time) (msg *model.Message, changed bool, err error)
	// MarkRead applies delivered → read; a pending message is left untouched.
	MarkRead(ctx context.Context, id string, at time.Time) (msg *model.Message, changed bool, err error)

	FindRoom(ctx context.Context, id string) (*model.ChatRoom, error)
	// FindOrCreateRoom is idempotent for the unordered pair {a, b}.
	FindOrCreateRoom(ctx context.Context, a, b string) (*model.ChatRoom, error)

	Close(ctx context.Context) error
}
