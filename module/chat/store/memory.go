package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"PPRelay/module/chat/model"
	"PPRelay/tools/errs"
	"PPRelay/tools/ids"

	"github.com/samber/lo"
)

// memStore 内存版实现，用于测试和本地开发；所有读写都做拷贝。
type memStore struct {
	mu     sync.RWMutex
	msgs   map[string]*model.Message
	order  []string // 插入顺序，createdAt 相同时保证稳定
	rooms  map[string]*model.ChatRoom
	byPair map[string]string // pairKey -> roomID
	now    func() time.Time
}

func NewMemory() Store {
	return &memStore{
		msgs:   make(map[string]*model.Message),
		rooms:  make(map[string]*model.ChatRoom),
		byPair: make(map[string]string),
		now:    time.Now,
	}
}

func (s *memStore) CreateMessage(ctx context.Context, m *model.Message) error {
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err)
	}
	if m.ChatRoomID == "" || m.Sender == "" {
		return errs.ErrArgs.WrapMsg("message requires room and sender")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = ids.GenerateString()
	s.msgs[m.ID] = m.Clone()
	s.order = append(s.order, m.ID)
	return nil
}

func (s *memStore) FindMessage(ctx context.Context, id string) (*model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.msgs[id]
	if !ok {
		return nil, errs.ErrRecordNotFound.WrapMsg("message", "id", id)
	}
	return m.Clone(), nil
}

func (s *memStore) FindUndelivered(ctx context.Context, roomID, excludeSender string) ([]*model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	picked := lo.Filter(s.order, func(id string, _ int) bool {
		m := s.msgs[id]
		return m.ChatRoomID == roomID && m.Sender != excludeSender && !m.Delivered && !m.Failed
	})
	out := lo.Map(picked, func(id string, _ int) *model.Message { return s.msgs[id].Clone() })
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) MarkDelivered(ctx context.Context, id string, at time.Time) (*model.Message, bool, error) {
	return s.update(ctx, id, func(m *model.Message) bool { return m.MarkDelivered(at) })
}

func (s *memStore) MarkRead(ctx context.Context, id string, at time.Time) (*model.Message, bool, error) {
	return s.update(ctx, id, func(m *model.Message) bool { return m.MarkRead(at) })
}

func (s *memStore) update(ctx context.Context, id string, apply func(*model.Message) bool) (*model.Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, errs.Wrap(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[id]
	if !ok {
		return nil, false, errs.ErrRecordNotFound.WrapMsg("message", "id", id)
	}
	changed := apply(m)
	return m.Clone(), changed, nil
}

func (s *memStore) FindRoom(ctx context.Context, id string) (*model.ChatRoom, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, errs.ErrRecordNotFound.WrapMsg("chat room", "id", id)
	}
	cp := *r
	cp.Participants = append([]string(nil), r.Participants...)
	return &cp, nil
}

func (s *memStore) FindOrCreateRoom(ctx context.Context, a, b string) (*model.ChatRoom, error) {
	if a == "" || b == "" || a == b {
		return nil, errs.ErrArgs.WrapMsg("chat room needs two distinct participants", "a", a, "b", b)
	}
	key := model.PairKey(a, b)
	s.mu.Lock()
	if id, ok := s.byPair[key]; ok {
		s.mu.Unlock()
		return s.FindRoom(ctx, id)
	}
	now := s.now()
	r := &model.ChatRoom{
		ID:           ids.GenerateString(),
		Participants: []string{a, b},
		PairKey:      key,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.rooms[r.ID] = r
	s.byPair[key] = r.ID
	s.mu.Unlock()
	return s.FindRoom(ctx, r.ID)
}

func (s *memStore) Close(context.Context) error { return nil }
