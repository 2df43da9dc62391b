package chat

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	midsec "PPRelay/middleware/security"
	"PPRelay/module/chat/model"
	"PPRelay/tools/errs"
)

//go:generate mockgen -destination=../../mocks/identity_verifier.go -package=mocks PPRelay/service/chat IdentityVerifier

// IdentityVerifier turns a bearer credential into a user id.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// RoomFinder is the part of the store the handshake needs.
type RoomFinder interface {
	FindRoom(ctx context.Context, id string) (*model.ChatRoom, error)
}

// Identity is what a successful handshake binds to a connection.
type Identity struct {
	UserID string
	RoomID string
	Peer   string
}

type Handshake struct {
	verifier          IdentityVerifier
	rooms             RoomFinder
	enforceMembership bool
	timeout           time.Duration
}

func NewHandshake(verifier IdentityVerifier, rooms RoomFinder, enforceMembership bool, timeout time.Duration) *Handshake {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Handshake{
		verifier:          verifier,
		rooms:             rooms,
		enforceMembership: enforceMembership && rooms != nil,
		timeout:           timeout,
	}
}

// ParseRoomPath accepts exactly /ws/chatroom/{roomId}.
func ParseRoomPath(path string) (string, error) {
	parts := strings.Split(path, "/")
	if len(parts) != 4 || parts[0] != "" || parts[1] != "ws" || parts[2] != "chatroom" || parts[3] == "" {
		return "", errs.ErrMalformedPath.WrapMsg("", "path", path)
	}
	return parts[3], nil
}

// Authorize validates path, credential and membership, in that order.
func (h *Handshake) Authorize(ctx context.Context, r *http.Request) (*Identity, error) {
	roomID, err := ParseRoomPath(r.URL.Path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	userID, err := h.Identify(ctx, r.Header)
	if err != nil {
		return nil, err
	}

	id := &Identity{UserID: userID, RoomID: roomID}
	if !h.enforceMembership {
		return id, nil
	}

	room, err := h.rooms.FindRoom(ctx, roomID)
	if errors.Is(err, errs.ErrRecordNotFound) {
		return nil, errs.ErrNotRoomMember.WrapMsg("room not found", "room", roomID)
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "load chat room", "room", roomID)
	}
	if !room.HasParticipant(userID) {
		return nil, errs.ErrNotRoomMember.WrapMsg("", "room", roomID, "user", userID)
	}
	id.Peer = room.Peer(userID)
	return id, nil
}

// Identify resolves the bearer credential in header into a user id.
func (h *Handshake) Identify(ctx context.Context, header http.Header) (string, error) {
	token, ok := midsec.BearerToken(header)
	if !ok {
		return "", errs.ErrUnauthenticated.WrapMsg("missing or malformed bearer credential")
	}
	userID, err := h.verifier.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, errs.ErrTokenInvalid) {
			return "", err
		}
		return "", errs.ErrTokenInvalid.WrapMsg(err.Error())
	}
	if userID == "" {
		return "", errs.ErrTokenInvalid.WrapMsg("empty identity")
	}
	return userID, nil
}

// rejection maps a handshake error to its transport outcome: a hard reset, or
// an HTTP status without a body.
func rejection(err error) (status int, reset bool) {
	switch {
	case errors.Is(err, errs.ErrMalformedPath):
		return 0, true
	case errors.Is(err, errs.ErrUnauthenticated):
		return http.StatusUnauthorized, false
	case errors.Is(err, errs.ErrTokenInvalid), errors.Is(err, errs.ErrNotRoomMember):
		return http.StatusForbidden, false
	default:
		return http.StatusServiceUnavailable, false
	}
}
