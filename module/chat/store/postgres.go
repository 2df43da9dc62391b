package store

import (
	"context"
	"errors"
	"time"

	"PPRelay/module/chat/model"
	"PPRelay/tools/errs"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS chatrooms (
	id           TEXT PRIMARY KEY,
	participants TEXT[] NOT NULL,
	pair_key     TEXT NOT NULL UNIQUE,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id           TEXT PRIMARY KEY,
	chat_room_id TEXT NOT NULL,
	sender       TEXT NOT NULL,
	content      TEXT NOT NULL,
	pending      BOOLEAN NOT NULL DEFAULT FALSE,
	delivered    BOOLEAN NOT NULL DEFAULT FALSE,
	read         BOOLEAN NOT NULL DEFAULT FALSE,
	failed       BOOLEAN NOT NULL DEFAULT FALSE,
	delivered_at TIMESTAMPTZ,
	read_at      TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages (chat_room_id, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_undelivered ON messages (chat_room_id, created_at) WHERE NOT delivered AND NOT failed;
`

const msgColumns = `id, chat_room_id, sender, content, pending, delivered, read, failed, delivered_at, read_at, created_at`

type pgStore struct {
	pool *pgxpool.Pool
}

// NewPostgres connects a pgx pool to dsn and creates the schema when missing.
func NewPostgres(ctx context.Context, dsn string) (Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errs.WrapMsg(err, "unable to connect to database")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errs.WrapMsg(err, "ping database")
	}
	s := &pgStore{pool: pool}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *pgStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, pgSchema); err != nil {
		return errs.WrapMsg(err, "create schema")
	}
	return nil
}

func scanMessage(row pgx.Row) (*model.Message, error) {
	var m model.Message
	err := row.Scan(&m.ID, &m.ChatRoomID, &m.Sender, &m.Content,
		&m.Pending, &m.Delivered, &m.Read, &m.Failed,
		&m.DeliveredAt, &m.ReadAt, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *pgStore) CreateMessage(ctx context.Context, m *model.Message) error {
	if m.ChatRoomID == "" || m.Sender == "" {
		return errs.ErrArgs.WrapMsg("message requires room and sender")
	}
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (`+msgColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		id, m.ChatRoomID, m.Sender, m.Content, m.Pending, m.Delivered, m.Read, m.Failed,
		m.DeliveredAt, m.ReadAt, m.CreatedAt)
	if err != nil {
		return errs.WrapMsg(err, "insert message")
	}
	m.ID = id
	return nil
}

func (s *pgStore) FindMessage(ctx context.Context, id string) (*model.Message, error) {
	m, err := scanMessage(s.pool.QueryRow(ctx, `SELECT `+msgColumns+` FROM messages WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrRecordNotFound.WrapMsg("message", "id", id)
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "find message", "id", id)
	}
	return m, nil
}

func (s *pgStore) FindUndelivered(ctx context.Context, roomID, excludeSender string) ([]*model.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+msgColumns+` FROM messages
		 WHERE chat_room_id = $1 AND sender <> $2 AND NOT delivered AND NOT failed
		 ORDER BY created_at ASC, id ASC`, roomID, excludeSender)
	if err != nil {
		return nil, errs.WrapMsg(err, "find undelivered", "room", roomID)
	}
	defer rows.Close()

	var out []*model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, errs.WrapMsg(err, "scan message")
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.WrapMsg(err, "iterate undelivered", "room", roomID)
	}
	return out, nil
}

func (s *pgStore) MarkDelivered(ctx context.Context, id string, at time.Time) (*model.Message, bool, error) {
	return s.conditionalUpdate(ctx, id,
		`UPDATE messages SET pending = FALSE, delivered = TRUE, delivered_at = $2
		 WHERE id = $1 AND NOT delivered AND NOT failed
		 RETURNING `+msgColumns, at)
}

func (s *pgStore) MarkRead(ctx context.Context, id string, at time.Time) (*model.Message, bool, error) {
	return s.conditionalUpdate(ctx, id,
		`UPDATE messages SET read = TRUE, read_at = $2
		 WHERE id = $1 AND delivered AND NOT read AND NOT failed
		 RETURNING `+msgColumns, at)
}

func (s *pgStore) conditionalUpdate(ctx context.Context, id, sql string, at time.Time) (*model.Message, bool, error) {
	m, err := scanMessage(s.pool.QueryRow(ctx, sql, id, at))
	if err == nil {
		return m, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, errs.WrapMsg(err, "update message status", "id", id)
	}
	cur, err := s.FindMessage(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return cur, false, nil
}

func (s *pgStore) FindRoom(ctx context.Context, id string) (*model.ChatRoom, error) {
	var r model.ChatRoom
	err := s.pool.QueryRow(ctx,
		`SELECT id, participants, pair_key, created_at, updated_at FROM chatrooms WHERE id = $1`, id).
		Scan(&r.ID, &r.Participants, &r.PairKey, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrRecordNotFound.WrapMsg("chat room", "id", id)
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "find chat room", "id", id)
	}
	return &r, nil
}

func (s *pgStore) FindOrCreateRoom(ctx context.Context, a, b string) (*model.ChatRoom, error) {
	if a == "" || b == "" || a == b {
		return nil, errs.ErrArgs.WrapMsg("chat room needs two distinct participants", "a", a, "b", b)
	}
	key := model.PairKey(a, b)
	now := time.Now()
	var r model.ChatRoom
	// the no-op update makes RETURNING yield the existing row on conflict
	err := s.pool.QueryRow(ctx,
		`INSERT INTO chatrooms (id, participants, pair_key, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (pair_key) DO UPDATE SET pair_key = EXCLUDED.pair_key
		 RETURNING id, participants, pair_key, created_at, updated_at`,
		uuid.NewString(), []string{a, b}, key, now).
		Scan(&r.ID, &r.Participants, &r.PairKey, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, errs.WrapMsg(err, "find or create chat room", "pair", key)
	}
	return &r, nil
}

func (s *pgStore) Close(context.Context) error {
	s.pool.Close()
	return nil
}
