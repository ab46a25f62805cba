package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mail_worker/core/port/out"
)

const collectionUsers = "users"

// UserRegistryAdapter implements out.UserRegistry using the extension-scoped
// users collection.
type UserRegistryAdapter struct {
	collection *mongo.Collection
}

var _ out.UserRegistry = (*UserRegistryAdapter)(nil)

// NewUserRegistryAdapter creates a new MongoDB user registry adapter.
func NewUserRegistryAdapter(db *mongo.Database) *UserRegistryAdapter {
	return &UserRegistryAdapter{collection: db.Collection(collectionUsers)}
}

type userDocument struct {
	UserID       string `bson:"_id"`
	RegisteredAt string `bson:"registered_at"`
}

// Register upserts the user id; repeated registration is a no-op.
func (a *UserRegistryAdapter) Register(ctx context.Context, userID string) error {
	update := bson.M{"$setOnInsert": userDocument{
		UserID:       userID,
		RegisteredAt: encodeTime(time.Now().UTC()),
	}}
	opts := options.Update().SetUpsert(true)
	if _, err := a.collection.UpdateOne(ctx, bson.M{"_id": userID}, update, opts); err != nil {
		return fmt.Errorf("failed to register user: %w", err)
	}
	return nil
}

// Unregister removes the user id.
func (a *UserRegistryAdapter) Unregister(ctx context.Context, userID string) error {
	if _, err := a.collection.DeleteOne(ctx, bson.M{"_id": userID}); err != nil {
		return fmt.Errorf("failed to unregister user: %w", err)
	}
	return nil
}

// List returns every registered user id.
func (a *UserRegistryAdapter) List(ctx context.Context) ([]string, error) {
	cursor, err := a.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer cursor.Close(ctx)

	var users []string
	for cursor.Next(ctx) {
		var doc userDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode user: %w", err)
		}
		users = append(users, doc.UserID)
	}
	return users, cursor.Err()
}
