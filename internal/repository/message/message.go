package message

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"epochchat/internal/model"
	"epochchat/internal/repository/counter"
)

type (
	MessageRepo struct {
		collection *mongo.Collection
		counters   *counter.CounterRepo
	}
)

func NewMessageRepo(db *mongo.Database, counters *counter.CounterRepo) *MessageRepo {
	return &MessageRepo{
		collection: db.Collection("messages"),
		counters:   counters,
	}
}

// Create assigns the chat's next strictly increasing message id and a UTC
// stamp, inserts, and returns the stored message.
func (r *MessageRepo) Create(ctx context.Context, msg *model.Message) (*model.Message, error) {
	id, err := r.counters.Next(ctx, "message:"+msg.ChatID)
	if err != nil {
		return nil, fmt.Errorf("next message id: %w", err)
	}
	msg.ID = id
	msg.CreatedAt = time.Now().UTC().Format(time.RFC3339Nano)

	if _, err := r.collection.InsertOne(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// ListAfter returns messages with id > after, ascending, up to limit.
func (r *MessageRepo) ListAfter(ctx context.Context, chatID string, after int64, limit int) ([]*model.Message, error) {
	filter := bson.M{"chat_id": chatID, "id": bson.M{"$gt": after}}
	opts := options.Find().SetSort(bson.M{"id": 1}).SetLimit(int64(limit))
	return r.list(ctx, filter, opts)
}

// ListBefore returns messages with id < before, the newest `limit` of them,
// ascending. before == 0 means "from the newest".
func (r *MessageRepo) ListBefore(ctx context.Context, chatID string, before int64, limit int) ([]*model.Message, error) {
	filter := bson.M{"chat_id": chatID}
	if before > 0 {
		filter["id"] = bson.M{"$lt": before}
	}
	opts := options.Find().SetSort(bson.M{"id": -1}).SetLimit(int64(limit))
	msgs, err := r.list(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	// restore ascending order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (r *MessageRepo) list(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*model.Message, error) {
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []*model.Message
	for cursor.Next(ctx) {
		var msg model.Message
		if err := cursor.Decode(&msg); err != nil {
			return nil, err
		}
		out = append(out, &msg)
	}
	return out, cursor.Err()
}
