package model

import (
	"sort"
	"strings"
	"time"
)

// ChatRoom 两人会话，participants 恰好两个且按无序对唯一（PairKey）。
type ChatRoom struct {
	ID           string    `bson:"_id" json:"_id"`
	Participants []string  `bson:"participants" json:"participants"`
	PairKey      string    `bson:"pair_key" json:"-"`
	CreatedAt    time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updatedAt"`
}

func (*ChatRoom) TableName() string { return ChatRoomTableName }

// PairKey 对两个用户 id 排序后拼接，{a,b} 与 {b,a} 得到同一个 key。
func PairKey(a, b string) string {
	p := []string{a, b}
	sort.Strings(p)
	return strings.Join(p, ":")
}

func (r *ChatRoom) HasParticipant(user string) bool {
	for _, p := range r.Participants {
		if p == user {
			return true
		}
	}
	return false
}

// Peer returns the other participant, or "" when user is not a member.
func (r *ChatRoom) Peer(user string) string {
	if !r.HasParticipant(user) {
		return ""
	}
	for _, p := range r.Participants {
		if p != user {
			return p
		}
	}
	return ""
}
