package epoch

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"epochchat/internal/model"
	"epochchat/internal/repository/counter"
)

type (
	// epochDoc stores both wrapped-key fields as received. The create
	// handler enforces that they carry the same blob, so reads can serve
	// either; WrappedA is the canonical copy.
	epochDoc struct {
		ID       primitive.ObjectID `bson:"_id,omitempty"`
		ChatID   string             `bson:"chat_id"`
		Index    int64              `bson:"index"`
		WrappedA string             `bson:"wrapped_key_a"`
		WrappedB string             `bson:"wrapped_key_b"`
	}

	EpochRepo struct {
		collection *mongo.Collection
		counters   *counter.CounterRepo
	}
)

func NewEpochRepo(db *mongo.Database, counters *counter.CounterRepo) *EpochRepo {
	return &EpochRepo{
		collection: db.Collection("epochs"),
		counters:   counters,
	}
}

// Create assigns the chat's next epoch index and inserts.
func (r *EpochRepo) Create(ctx context.Context, chatID, wrappedA, wrappedB string) (id string, index int64, err error) {
	index, err = r.counters.Next(ctx, "epoch:"+chatID)
	if err != nil {
		return "", 0, fmt.Errorf("next epoch index: %w", err)
	}
	res, err := r.collection.InsertOne(ctx, &epochDoc{
		ChatID:   chatID,
		Index:    index,
		WrappedA: wrappedA,
		WrappedB: wrappedB,
	})
	if err != nil {
		return "", 0, err
	}
	return res.InsertedID.(primitive.ObjectID).Hex(), index, nil
}

func (r *EpochRepo) Get(ctx context.Context, epochID string) (*model.Epoch, error) {
	oid, err := primitive.ObjectIDFromHex(epochID)
	if err != nil {
		return nil, nil
	}
	var doc epochDoc
	err = r.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &model.Epoch{
		ID:         doc.ID.Hex(),
		ChatID:     doc.ChatID,
		Index:      int(doc.Index),
		WrappedKey: doc.WrappedA,
	}, nil
}
