package store

import (
	"context"
	"time"

	"PPRelay/data/database/mgo/mongoutil"
	"PPRelay/module/chat/model"
	"PPRelay/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoStore struct {
	client *mongoutil.Client
	msgs   *mongo.Collection
	rooms  *mongo.Collection
}

// NewMongo wraps a connected client and makes sure the indexes exist.
func NewMongo(ctx context.Context, client *mongoutil.Client) (Store, error) {
	db := client.GetDB()
	s := &mongoStore{
		client: client,
		msgs:   db.Collection((*model.Message)(nil).TableName()),
		rooms:  db.Collection((*model.ChatRoom)(nil).TableName()),
	}
	if err := s.EnsureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *mongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.msgs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "chat_room_id", Value: 1}, {Key: "created_at", Value: -1}}},
		// replay: room + undelivered, ordered by created_at
		{Keys: bson.D{{Key: "chat_room_id", Value: 1}, {Key: "delivered", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "pending", Value: 1}}},
	})
	if err != nil {
		return errs.WrapMsg(err, "create message indexes")
	}
	_, err = s.rooms.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "pair_key", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "participants", Value: 1}}},
	})
	if err != nil {
		return errs.WrapMsg(err, "create chat room indexes")
	}
	return nil
}

func (s *mongoStore) CreateMessage(ctx context.Context, m *model.Message) error {
	if m.ChatRoomID == "" || m.Sender == "" {
		return errs.ErrArgs.WrapMsg("message requires room and sender")
	}
	m.ID = primitive.NewObjectID().Hex()
	if _, err := s.msgs.InsertOne(ctx, m); err != nil {
		m.ID = ""
		return errs.WrapMsg(err, "insert message")
	}
	return nil
}

func (s *mongoStore) FindMessage(ctx context.Context, id string) (*model.Message, error) {
	var m model.Message
	err := s.msgs.FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrRecordNotFound.WrapMsg("message", "id", id)
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "find message", "id", id)
	}
	return &m, nil
}

func (s *mongoStore) FindUndelivered(ctx context.Context, roomID, excludeSender string) ([]*model.Message, error) {
	filter := bson.M{
		"chat_room_id": roomID,
		"sender":       bson.M{"$ne": excludeSender},
		"delivered":    false,
		"failed":       false,
	}
	cur, err := s.msgs.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, errs.WrapMsg(err, "find undelivered", "room", roomID)
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []*model.Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.WrapMsg(err, "decode undelivered", "room", roomID)
	}
	return out, nil
}

func (s *mongoStore) MarkDelivered(ctx context.Context, id string, at time.Time) (*model.Message, bool, error) {
	filter := bson.M{"_id": id, "delivered": false, "failed": false}
	update := bson.M{"$set": bson.M{"pending": false, "delivered": true, "delivered_at": at}}
	return s.conditionalUpdate(ctx, id, filter, update)
}

func (s *mongoStore) MarkRead(ctx context.Context, id string, at time.Time) (*model.Message, bool, error) {
	// 只有 delivered 且未读的消息才能变为已读
	filter := bson.M{"_id": id, "delivered": true, "read": false, "failed": false}
	update := bson.M{"$set": bson.M{"read": true, "read_at": at}}
	return s.conditionalUpdate(ctx, id, filter, update)
}

func (s *mongoStore) conditionalUpdate(ctx context.Context, id string, filter, update bson.M) (*model.Message, bool, error) {
	var m model.Message
	err := s.msgs.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&m)
	switch {
	case err == nil:
		return &m, true, nil
	case err == mongo.ErrNoDocuments:
		// either unknown id or the guard did not hold
		cur, ferr := s.FindMessage(ctx, id)
		if ferr != nil {
			return nil, false, ferr
		}
		return cur, false, nil
	default:
		return nil, false, errs.WrapMsg(err, "update message status", "id", id)
	}
}

func (s *mongoStore) FindRoom(ctx context.Context, id string) (*model.ChatRoom, error) {
	var r model.ChatRoom
	err := s.rooms.FindOne(ctx, bson.M{"_id": id}).Decode(&r)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrRecordNotFound.WrapMsg("chat room", "id", id)
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "find chat room", "id", id)
	}
	return &r, nil
}

func (s *mongoStore) FindOrCreateRoom(ctx context.Context, a, b string) (*model.ChatRoom, error) {
	if a == "" || b == "" || a == b {
		return nil, errs.ErrArgs.WrapMsg("chat room needs two distinct participants", "a", a, "b", b)
	}
	key := model.PairKey(a, b)
	now := time.Now()
	update := bson.M{"$setOnInsert": bson.M{
		"_id":          primitive.NewObjectID().Hex(),
		"participants": []string{a, b},
		"created_at":   now,
		"updated_at":   now,
	}}
	// pair_key comes from the equality filter on insert
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var r model.ChatRoom
	err := s.rooms.FindOneAndUpdate(ctx, bson.M{"pair_key": key}, update, opts).Decode(&r)
	if mongo.IsDuplicateKeyError(err) {
		// concurrent upsert on the same pair, the other writer won
		err = s.rooms.FindOne(ctx, bson.M{"pair_key": key}).Decode(&r)
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "find or create chat room", "pair", key)
	}
	return &r, nil
}

func (s *mongoStore) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}
