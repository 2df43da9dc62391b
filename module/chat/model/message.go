package model

import (
	"time"
)

const (
	MessageTableName  = "messages"
	ChatRoomTableName = "chatrooms"
)

// Status 是消息的单一生命周期状态（由四个布尔位推导）。
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// Message 一条单聊消息。
// 不变量：pending/delivered 互斥；failed 为终态且排斥其余状态；
// deliveredAt ⇔ delivered，readAt ⇔ read；read ⇒ delivered。
type Message struct {
	ID          string     `bson:"_id" json:"_id"`
	ChatRoomID  string     `bson:"chat_room_id" json:"chatRoomId"`
	Sender      string     `bson:"sender" json:"from"`
	Content     string     `bson:"content" json:"content"`
	Pending     bool       `bson:"pending" json:"pending"`
	Delivered   bool       `bson:"delivered" json:"delivered"`
	Read        bool       `bson:"read" json:"read"`
	Failed      bool       `bson:"failed" json:"failed"`
	DeliveredAt *time.Time `bson:"delivered_at,omitempty" json:"deliveredAt,omitempty"`
	ReadAt      *time.Time `bson:"read_at,omitempty" json:"readAt,omitempty"`
	CreatedAt   time.Time  `bson:"created_at" json:"createdAt"`
}

func (*Message) TableName() string { return MessageTableName }

// NewMessage builds a fresh message: pending when the recipient is unreachable,
// otherwise delivered at now.
func NewMessage(roomID, sender, content string, recipientOnline bool, now time.Time) *Message {
	m := &Message{
		ChatRoomID: roomID,
		Sender:     sender,
		Content:    content,
		CreatedAt:  now,
	}
	if recipientOnline {
		at := now
		m.Delivered = true
		m.DeliveredAt = &at
	} else {
		m.Pending = true
	}
	return m
}

func (m *Message) Status() Status {
	switch {
	case m.Failed:
		return StatusFailed
	case m.Read:
		return StatusRead
	case m.Delivered:
		return StatusDelivered
	default:
		return StatusPending
	}
}

// MarkDelivered pending → delivered. Reports whether anything changed.
func (m *Message) MarkDelivered(at time.Time) bool {
	if m.Failed || m.Delivered {
		return false
	}
	m.Pending = false
	m.Delivered = true
	m.DeliveredAt = &at
	return true
}

// MarkRead delivered → read. Read cannot be reached from pending.
func (m *Message) MarkRead(at time.Time) bool {
	if m.Failed || !m.Delivered || m.Read {
		return false
	}
	m.Read = true
	m.ReadAt = &at
	return true
}

// MarkFailed is terminal and clears every other facet.
func (m *Message) MarkFailed() {
	m.Failed = true
	m.Pending = false
	m.Delivered = false
	m.Read = false
	m.DeliveredAt = nil
	m.ReadAt = nil
}

func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.DeliveredAt != nil {
		t := *m.DeliveredAt
		c.DeliveredAt = &t
	}
	if m.ReadAt != nil {
		t := *m.ReadAt
		c.ReadAt = &t
	}
	return &c
}
