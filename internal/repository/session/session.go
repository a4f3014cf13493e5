package session

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"epochchat/internal/model"
)

type (
	// sessionDoc is one bearer token's record. Token is the indexed lookup
	// key; revocation deletes the doc, which turns the token into a 401.
	sessionDoc struct {
		ID        string `bson:"id"`
		Token     string `bson:"token"`
		UserName  string `bson:"user_name"`
		DeviceID  string `bson:"device_id"`
		CreatedAt string `bson:"created_at"`
		LastSeen  string `bson:"last_seen"`
	}

	SessionRepo struct {
		collection *mongo.Collection
	}
)

func NewSessionRepo(db *mongo.Database) *SessionRepo {
	return &SessionRepo{
		collection: db.Collection("sessions"),
	}
}

func (r *SessionRepo) Create(ctx context.Context, id, token, userName, deviceID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.collection.InsertOne(ctx, &sessionDoc{
		ID:        id,
		Token:     token,
		UserName:  userName,
		DeviceID:  deviceID,
		CreatedAt: now,
		LastSeen:  now,
	})
	return err
}

// Resolve maps a bearer token to its owner, touching last-seen. Returns
// empty strings for an unknown (or revoked) token.
func (r *SessionRepo) Resolve(ctx context.Context, token string) (userName, sessionID string, err error) {
	var doc sessionDoc
	ferr := r.collection.FindOne(ctx, bson.M{"token": token}).Decode(&doc)
	if ferr == mongo.ErrNoDocuments {
		return "", "", nil
	}
	if ferr != nil {
		return "", "", ferr
	}
	_, _ = r.collection.UpdateOne(ctx,
		bson.M{"id": doc.ID},
		bson.M{"$set": bson.M{"last_seen": time.Now().UTC().Format(time.RFC3339)}})
	return doc.UserName, doc.ID, nil
}

func (r *SessionRepo) ListFor(ctx context.Context, userName string) ([]*model.Session, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"user_name": userName})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []*model.Session
	for cursor.Next(ctx) {
		var doc sessionDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, &model.Session{
			ID:        doc.ID,
			UserName:  doc.UserName,
			DeviceID:  doc.DeviceID,
			CreatedAt: doc.CreatedAt,
			LastSeen:  doc.LastSeen,
		})
	}
	return out, cursor.Err()
}

// Revoke deletes a session owned by the user. Revoking an unknown id is a
// no-op.
func (r *SessionRepo) Revoke(ctx context.Context, userName, sessionID string) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"id": sessionID, "user_name": userName})
	return err
}
