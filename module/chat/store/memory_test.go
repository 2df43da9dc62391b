package store

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"PPRelay/module/chat/model"
	"PPRelay/tools/errs"
	"PPRelay/tools/ids"

	"github.com/stretchr/testify/require"
)

func TestMemory_CreateAndFind(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := NewMemory()

	m := model.NewMessage("r1", "alice", "hi", false, time.Now())
	req.NoError(s.CreateMessage(ctx, m))
	req.NotEmpty(m.ID)

	got, err := s.FindMessage(ctx, m.ID)
	req.NoError(err)
	req.Equal("hi", got.Content)
	req.True(got.Pending)

	got.Content = "mutated"
	again, err := s.FindMessage(ctx, m.ID)
	req.NoError(err)
	req.Equal("hi", again.Content, "callers get copies")

	_, err = s.FindMessage(ctx, "nope")
	req.True(errors.Is(err, errs.ErrRecordNotFound))

	req.True(errors.Is(s.CreateMessage(ctx, &model.Message{Content: "x"}), errs.ErrArgs))
}

func TestMemory_FindUndeliveredOrderAndFilter(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := NewMemory()
	base := time.Now()

	mk := func(room, sender string, offset time.Duration, online bool) *model.Message {
		m := model.NewMessage(room, sender, sender+"@"+offset.String(), online, base.Add(offset))
		req.NoError(s.CreateMessage(ctx, m))
		return m
	}
	late := mk("r1", "alice", 3*time.Second, false)
	early := mk("r1", "alice", time.Second, false)
	mk("r1", "bob", 2*time.Second, false)   // own message
	mk("r1", "alice", 4*time.Second, true)  // already delivered
	mk("r2", "alice", 5*time.Second, false) // other room

	out, err := s.FindUndelivered(ctx, "r1", "bob")
	req.NoError(err)
	req.Len(out, 2)
	req.Equal(early.ID, out[0].ID)
	req.Equal(late.ID, out[1].ID)
}

func TestMemory_MarkDeliveredAndRead(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := NewMemory()

	m := model.NewMessage("r1", "alice", "hi", false, time.Now())
	req.NoError(s.CreateMessage(ctx, m))

	_, changed, err := s.MarkRead(ctx, m.ID, time.Now())
	req.NoError(err)
	req.False(changed, "pending message cannot be read")

	t1 := time.Now()
	got, changed, err := s.MarkDelivered(ctx, m.ID, t1)
	req.NoError(err)
	req.True(changed)
	req.Equal(model.StatusDelivered, got.Status())

	got, changed, err = s.MarkDelivered(ctx, m.ID, t1.Add(time.Minute))
	req.NoError(err)
	req.False(changed)
	req.True(got.DeliveredAt.Equal(t1))

	got, changed, err = s.MarkRead(ctx, m.ID, time.Now())
	req.NoError(err)
	req.True(changed)
	req.Equal(model.StatusRead, got.Status())

	_, _, err = s.MarkDelivered(ctx, "missing", time.Now())
	req.True(errors.Is(err, errs.ErrRecordNotFound))
}

func TestMemory_MarkDeliveredOnceUnderRace(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	m := model.NewMessage("r1", "alice", "hi", false, time.Now())
	require.NoError(t, s.CreateMessage(ctx, m))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, changed, err := s.MarkDelivered(ctx, m.ID, time.Now())
			if err != nil {
				t.Error(err)
				return
			}
			if changed {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, winners)
}

func TestMemory_FindOrCreateRoom(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := NewMemory()

	r1, err := s.FindOrCreateRoom(ctx, "alice", "bob")
	req.NoError(err)
	r2, err := s.FindOrCreateRoom(ctx, "bob", "alice")
	req.NoError(err)
	req.Equal(r1.ID, r2.ID)
	req.ElementsMatch([]string{"alice", "bob"}, r2.Participants)

	found, err := s.FindRoom(ctx, r1.ID)
	req.NoError(err)
	req.Equal("bob", found.Peer("alice"))

	_, err = s.FindOrCreateRoom(ctx, "alice", "alice")
	req.True(errors.Is(err, errs.ErrArgs))

	_, err = s.FindRoom(ctx, "missing")
	req.True(errors.Is(err, errs.ErrRecordNotFound))
}

func TestMemory_IDsCarryProcessNode(t *testing.T) {
	ids.SetNodeID(7)
	t.Cleanup(func() { ids.SetNodeID(1) })

	st := NewMemory()
	m := model.NewMessage("room", "alice", "hi", false, time.Now())
	require.NoError(t, st.CreateMessage(context.Background(), m))
	id, err := strconv.ParseInt(m.ID, 10, 64)
	require.NoError(t, err)
	require.Equal(t, int64(7), (id>>12)&0x3FF)

	room, err := st.FindOrCreateRoom(context.Background(), "alice", "bob")
	require.NoError(t, err)
	id, err = strconv.ParseInt(room.ID, 10, 64)
	require.NoError(t, err)
	require.Equal(t, int64(7), (id>>12)&0x3FF)
}
