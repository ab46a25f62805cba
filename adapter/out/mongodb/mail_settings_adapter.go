package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mail_worker/core/domain"
	"mail_worker/core/port/out"
)

const collectionSettings = "settings"

// SettingsAdapter implements out.SettingsRepository using MongoDB.
type SettingsAdapter struct {
	collection *mongo.Collection
}

var _ out.SettingsRepository = (*SettingsAdapter)(nil)

// NewSettingsAdapter creates a new MongoDB settings adapter.
func NewSettingsAdapter(db *mongo.Database) *SettingsAdapter {
	return &SettingsAdapter{collection: db.Collection(collectionSettings)}
}

type settingsDocument struct {
	UserID      string `bson:"_id"`
	Instruction string `bson:"instruction"`
	UpdatedAt   string `bson:"updated_at"`
}

// Get loads the user's settings, creating the row lazily with an empty
// instruction on first read.
func (a *SettingsAdapter) Get(ctx context.Context, userID string) (*domain.Settings, error) {
	var doc settingsDocument
	err := a.collection.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		settings := domain.DefaultSettings(userID)
		if err := a.Update(ctx, settings); err != nil {
			return nil, err
		}
		return settings, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return &domain.Settings{
		UserID:      doc.UserID,
		Instruction: doc.Instruction,
		UpdatedAt:   decodeTime(doc.UpdatedAt),
	}, nil
}

// Update upserts the settings row.
func (a *SettingsAdapter) Update(ctx context.Context, settings *domain.Settings) error {
	doc := settingsDocument{
		UserID:      settings.UserID,
		Instruction: settings.Instruction,
		UpdatedAt:   encodeTime(time.Now().UTC()),
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := a.collection.ReplaceOne(ctx, bson.M{"_id": settings.UserID}, doc, opts); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}
