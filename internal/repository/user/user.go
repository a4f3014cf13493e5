package user

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"epochchat/internal/model"
)

// UserRepo stores account records: credentials, the public identity key
// and the password-encrypted private key blob.
type UserRepo struct {
	collection *mongo.Collection
}

func NewUserRepo(db *mongo.Database) *UserRepo {
	return &UserRepo{
		collection: db.Collection("users"),
	}
}

// GetByName returns the account with that username, or (nil, nil) when
// no such account exists.
func (r *UserRepo) GetByName(ctx context.Context, name string) (*model.User, error) {
	var user model.User
	err := r.collection.FindOne(ctx, bson.M{"name": name}).Decode(&user)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Create inserts the account and backfills its assigned id.
func (r *UserRepo) Create(ctx context.Context, user *model.User) (primitive.ObjectID, error) {
	res, err := r.collection.InsertOne(ctx, user)
	if err != nil {
		return primitive.NilObjectID, err
	}
	user.ID = res.InsertedID.(primitive.ObjectID)
	return user.ID, nil
}
