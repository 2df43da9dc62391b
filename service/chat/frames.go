package chat

import (
	"time"

	"PPRelay/module/chat/model"
)

// 帧类型
const (
	FrameMessage          = "message"
	FrameHeartbeat        = "heartbeat"
	FrameMessageStatus    = "message_status"
	FrameConnectionStatus = "connection_status"
	FrameError            = "error"
	FrameReplayStatus     = "replay_status"
)

const (
	StatusConnected  = "connected"
	StatusIncomplete = "incomplete"
)

// InboundFrame is one JSON object received from a client.
type InboundFrame struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	To        string `json:"to,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Status    string `json:"status,omitempty"`
}

type chatPayload struct {
	Content string `validate:"required"`
	To      string `validate:"required"`
}

// MessageView is the wire shape of a message. Status facets are only
// included in the confirmation sent back to the author.
type MessageView struct {
	ID         string    `json:"_id"`
	ChatRoomID string    `json:"chatRoomId"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
	Pending    *bool     `json:"pending,omitempty"`
	Delivered  *bool     `json:"delivered,omitempty"`
	Read       *bool     `json:"read,omitempty"`
}

func viewOf(m *model.Message, to string, withStatus bool) MessageView {
	v := MessageView{
		ID:         m.ID,
		ChatRoomID: m.ChatRoomID,
		From:       m.Sender,
		To:         to,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
	}
	if withStatus {
		pending, delivered, read := m.Pending, m.Delivered, m.Read
		v.Pending, v.Delivered, v.Read = &pending, &delivered, &read
	}
	return v
}

type MessageFrame struct {
	Type    string      `json:"type"`
	Message MessageView `json:"message"`
}

func newMessageFrame(v MessageView) MessageFrame {
	return MessageFrame{Type: FrameMessage, Message: v}
}

type StatusFrame struct {
	Type      string    `json:"type"`
	MessageID string    `json:"messageId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func newStatusFrame(id string, status model.Status, at time.Time) StatusFrame {
	return StatusFrame{Type: FrameMessageStatus, MessageID: id, Status: string(status), Timestamp: at}
}

type ConnectionStatusFrame struct {
	Type       string `json:"type"`
	Status     string `json:"status"`
	UserID     string `json:"userId"`
	ChatRoomID string `json:"chatRoomId"`
}

type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func newErrorFrame(msg string) ErrorFrame {
	return ErrorFrame{Type: FrameError, Message: msg}
}

// ReplayStatusFrame tells the client its catch-up stream stopped early.
type ReplayStatusFrame struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	Delivered int    `json:"delivered"`
}
