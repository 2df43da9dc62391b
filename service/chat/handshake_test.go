package chat

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"PPRelay/mocks"
	"PPRelay/module/chat/model"
	"PPRelay/module/chat/store"
	"PPRelay/tools/errs"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestParseRoomPath(t *testing.T) {
	cases := []struct {
		path string
		room string
		ok   bool
	}{
		{"/ws/chatroom/abc", "abc", true},
		{"/ws/chatroom/65f1c0ffee", "65f1c0ffee", true},
		{"/ws/chatroom/", "", false},
		{"/ws/chatroom", "", false},
		{"/ws/chatroom/abc/extra", "", false},
		{"/ws/room/abc", "", false},
		{"/api/chatroom/abc", "", false},
		{"ws/chatroom/abc", "", false},
		{"/", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		room, err := ParseRoomPath(tc.path)
		if !tc.ok {
			require.ErrorIs(t, err, errs.ErrMalformedPath, tc.path)
			continue
		}
		require.NoError(t, err, tc.path)
		require.Equal(t, tc.room, room)
	}
}

type brokenRooms struct{}

func (brokenRooms) FindRoom(context.Context, string) (*model.ChatRoom, error) {
	return nil, errors.New("server selection timeout")
}

func upgradeRequest(path, auth string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, path, nil)
	if auth != "" {
		r.Header.Set("Authorization", auth)
	}
	return r
}

func TestHandshake_Authorize(t *testing.T) {
	st := store.NewMemory()
	room, err := st.FindOrCreateRoom(context.Background(), "alice", "bob")
	require.NoError(t, err)
	roomPath := "/ws/chatroom/" + room.ID

	t.Run("member", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		v := mocks.NewMockIdentityVerifier(ctrl)
		v.EXPECT().Verify(gomock.Any(), "good").Return("alice", nil)

		id, err := NewHandshake(v, st, true, 0).Authorize(context.Background(), upgradeRequest(roomPath, "Bearer good"))
		require.NoError(t, err)
		require.Equal(t, Identity{UserID: "alice", RoomID: room.ID, Peer: "bob"}, *id)
	})

	t.Run("malformed path checked first", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		v := mocks.NewMockIdentityVerifier(ctrl)

		_, err := NewHandshake(v, st, true, 0).Authorize(context.Background(), upgradeRequest("/ws/chatroom", "Bearer good"))
		require.ErrorIs(t, err, errs.ErrMalformedPath)
	})

	t.Run("missing credential", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		v := mocks.NewMockIdentityVerifier(ctrl)

		for _, auth := range []string{"", "Basic abc", "Bearer", "Bearer a b"} {
			_, err := NewHandshake(v, st, true, 0).Authorize(context.Background(), upgradeRequest(roomPath, auth))
			require.ErrorIs(t, err, errs.ErrUnauthenticated, auth)
		}
	})

	t.Run("rejected token", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		v := mocks.NewMockIdentityVerifier(ctrl)
		v.EXPECT().Verify(gomock.Any(), "forged").Return("", errors.New("signature is invalid"))

		_, err := NewHandshake(v, st, true, 0).Authorize(context.Background(), upgradeRequest(roomPath, "Bearer forged"))
		require.ErrorIs(t, err, errs.ErrTokenInvalid)
	})

	t.Run("non member", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		v := mocks.NewMockIdentityVerifier(ctrl)
		v.EXPECT().Verify(gomock.Any(), "good").Return("mallory", nil)

		_, err := NewHandshake(v, st, true, 0).Authorize(context.Background(), upgradeRequest(roomPath, "Bearer good"))
		require.ErrorIs(t, err, errs.ErrNotRoomMember)
	})

	t.Run("unknown room", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		v := mocks.NewMockIdentityVerifier(ctrl)
		v.EXPECT().Verify(gomock.Any(), "good").Return("alice", nil)

		_, err := NewHandshake(v, st, true, 0).Authorize(context.Background(), upgradeRequest("/ws/chatroom/missing", "Bearer good"))
		require.ErrorIs(t, err, errs.ErrNotRoomMember)
	})

	t.Run("membership not enforced", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		v := mocks.NewMockIdentityVerifier(ctrl)
		v.EXPECT().Verify(gomock.Any(), "good").Return("mallory", nil)

		id, err := NewHandshake(v, st, false, 0).Authorize(context.Background(), upgradeRequest("/ws/chatroom/anything", "Bearer good"))
		require.NoError(t, err)
		require.Equal(t, "mallory", id.UserID)
		require.Empty(t, id.Peer)
	})

	t.Run("store unavailable", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		v := mocks.NewMockIdentityVerifier(ctrl)
		v.EXPECT().Verify(gomock.Any(), "good").Return("alice", nil)

		_, err := NewHandshake(v, brokenRooms{}, true, 0).Authorize(context.Background(), upgradeRequest(roomPath, "Bearer good"))
		require.Error(t, err)
		status, reset := rejection(err)
		require.False(t, reset)
		require.Equal(t, http.StatusServiceUnavailable, status)
	})
}

func TestRejection(t *testing.T) {
	cases := []struct {
		err    error
		status int
		reset  bool
	}{
		{errs.ErrMalformedPath.WrapMsg("", "path", "/x"), 0, true},
		{errs.ErrUnauthenticated.WrapMsg("no header"), http.StatusUnauthorized, false},
		{errs.ErrTokenInvalid.WrapMsg("expired"), http.StatusForbidden, false},
		{errs.ErrNotRoomMember.WrapMsg(""), http.StatusForbidden, false},
		{errs.WrapMsg(errors.New("dial tcp"), "load chat room"), http.StatusServiceUnavailable, false},
	}
	for _, tc := range cases {
		status, reset := rejection(tc.err)
		require.Equal(t, tc.status, status, tc.err.Error())
		require.Equal(t, tc.reset, reset)
	}
}
