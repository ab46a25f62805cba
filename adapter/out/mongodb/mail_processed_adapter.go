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

const collectionProcessed = "processed"

// ProcessedAdapter implements out.ProcessedRepository using MongoDB. Claim
// atomicity comes from inserting against the deterministic _id: exactly one
// concurrent InsertOne succeeds, every other caller sees a duplicate key.
type ProcessedAdapter struct {
	collection *mongo.Collection
}

var _ out.ProcessedRepository = (*ProcessedAdapter)(nil)

// NewProcessedAdapter creates a new MongoDB processed-record adapter.
func NewProcessedAdapter(db *mongo.Database) *ProcessedAdapter {
	return &ProcessedAdapter{collection: db.Collection(collectionProcessed)}
}

// EnsureIndexes creates necessary indexes for the collection.
func (a *ProcessedAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "account_id", Value: 1},
				{Key: "uid", Value: -1},
			},
		},
	}
	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// processedDocument represents the MongoDB document structure.
type processedDocument struct {
	ID          string `bson:"_id"` // prc_<account>_<hash(message-id)>
	AccountID   string `bson:"account_id"`
	MessageID   string `bson:"message_id"`
	UID         int64  `bson:"uid"`
	ProcessedAt string `bson:"processed_at"`
}

func newProcessedDocument(accountID, messageID string, uid uint32) *processedDocument {
	return &processedDocument{
		ID:          domain.ProcessedID(accountID, messageID),
		AccountID:   accountID,
		MessageID:   messageID,
		UID:         int64(uid),
		ProcessedAt: encodeTime(time.Now().UTC()),
	}
}

// Watermark returns max(uid) for the account, 0 when no rows exist.
func (a *ProcessedAdapter) Watermark(ctx context.Context, accountID string) (uint32, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "uid", Value: -1}})
	var doc processedDocument
	err := a.collection.FindOne(ctx, bson.M{"account_id": accountID}, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read watermark: %w", err)
	}
	return uint32(doc.UID), nil
}

// IsProcessed reports whether a row exists for (account, message-id).
func (a *ProcessedAdapter) IsProcessed(ctx context.Context, accountID, messageID string) (bool, error) {
	id := domain.ProcessedID(accountID, messageID)
	count, err := a.collection.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return false, fmt.Errorf("failed to check processed: %w", err)
	}
	return count > 0, nil
}

// MarkProcessed is an idempotent insert.
func (a *ProcessedAdapter) MarkProcessed(ctx context.Context, accountID, messageID string, uid uint32) error {
	_, err := a.collection.InsertOne(ctx, newProcessedDocument(accountID, messageID, uid))
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("failed to mark processed: %w", err)
	}
	return nil
}

// TryClaim inserts iff no row exists and reports whether this caller won.
func (a *ProcessedAdapter) TryClaim(ctx context.Context, accountID, messageID string, uid uint32) (bool, error) {
	_, err := a.collection.InsertOne(ctx, newProcessedDocument(accountID, messageID, uid))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil // another claimer won
		}
		return false, fmt.Errorf("failed to claim message: %w", err)
	}
	return true, nil
}

// DeleteByAccount removes all rows on account deletion.
func (a *ProcessedAdapter) DeleteByAccount(ctx context.Context, accountID string) error {
	if _, err := a.collection.DeleteMany(ctx, bson.M{"account_id": accountID}); err != nil {
		return fmt.Errorf("failed to delete processed rows: %w", err)
	}
	return nil
}
