package chat

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"epochchat/internal/model"
)

type (
	// chatDoc is the stored shape: a chat is the unordered pair of member
	// names, exposed to each member with the other as Peer.
	chatDoc struct {
		ID      primitive.ObjectID `bson:"_id,omitempty"`
		Members []string           `bson:"members"`
	}

	ChatRepo struct {
		collection *mongo.Collection
	}
)

func NewChatRepo(db *mongo.Database) *ChatRepo {
	return &ChatRepo{
		collection: db.Collection("chats"),
	}
}

// GetOrCreate returns the chat between the two users, creating it when
// absent. Member order is normalized so both directions find the same doc.
func (r *ChatRepo) GetOrCreate(ctx context.Context, a, b string) (string, error) {
	members := []string{a, b}
	if b < a {
		members = []string{b, a}
	}
	filter := bson.M{"members": members}

	var doc chatDoc
	err := r.collection.FindOne(ctx, filter).Decode(&doc)
	if err == nil {
		return doc.ID.Hex(), nil
	}
	if err != mongo.ErrNoDocuments {
		return "", err
	}

	res, err := r.collection.InsertOne(ctx, &chatDoc{Members: members})
	if err != nil {
		return "", err
	}
	return res.InsertedID.(primitive.ObjectID).Hex(), nil
}

// ListFor returns the user's chats with the other member as Peer.
func (r *ChatRepo) ListFor(ctx context.Context, username string) ([]*model.Chat, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"members": username})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []*model.Chat
	for cursor.Next(ctx) {
		var doc chatDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		peer := doc.Members[0]
		if peer == username && len(doc.Members) > 1 {
			peer = doc.Members[1]
		}
		out = append(out, &model.Chat{ID: doc.ID.Hex(), Peer: peer})
	}
	return out, cursor.Err()
}

// IsMember reports whether the user belongs to the chat.
func (r *ChatRepo) IsMember(ctx context.Context, chatID, username string) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(chatID)
	if err != nil {
		return false, nil
	}
	count, err := r.collection.CountDocuments(ctx, bson.M{"_id": oid, "members": username})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
