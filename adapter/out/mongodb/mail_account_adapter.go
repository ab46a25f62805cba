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
	"mail_worker/pkg/apperr"
)

const collectionAccounts = "accounts"

// AccountAdapter implements out.AccountRepository using MongoDB.
type AccountAdapter struct {
	collection *mongo.Collection
}

var _ out.AccountRepository = (*AccountAdapter)(nil)

// NewAccountAdapter creates a new MongoDB account adapter.
func NewAccountAdapter(db *mongo.Database) *AccountAdapter {
	return &AccountAdapter{collection: db.Collection(collectionAccounts)}
}

// EnsureIndexes creates necessary indexes for the collection.
func (a *AccountAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "user_id", Value: 1}},
		},
		{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "enabled", Value: 1},
			},
		},
	}
	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// accountDocument represents the MongoDB document structure. Credentials are
// never stored here; they live in the secret vault.
type accountDocument struct {
	ID        string `bson:"_id"`
	UserID    string `bson:"user_id"`
	Provider  string `bson:"provider"`
	Name      string `bson:"name"`
	Email     string `bson:"email"`
	IMAPHost  string `bson:"imap_host,omitempty"`
	IMAPPort  int    `bson:"imap_port,omitempty"`
	Security  string `bson:"security,omitempty"`
	AuthType  string `bson:"auth_type"`
	Enabled   bool   `bson:"enabled"`
	LastSync  string `bson:"last_sync,omitempty"`
	LastError string `bson:"last_error,omitempty"`
	CreatedAt string `bson:"created_at"`
	UpdatedAt string `bson:"updated_at"`
}

func toAccountDocument(account *domain.Account) *accountDocument {
	return &accountDocument{
		ID:        account.ID,
		UserID:    account.UserID,
		Provider:  string(account.Provider),
		Name:      account.Name,
		Email:     account.Email,
		IMAPHost:  account.IMAPHost,
		IMAPPort:  account.IMAPPort,
		Security:  string(account.Security),
		AuthType:  string(account.AuthType),
		Enabled:   account.Enabled,
		LastSync:  encodeTime(account.LastSync),
		LastError: account.LastError,
		CreatedAt: encodeTime(account.CreatedAt),
		UpdatedAt: encodeTime(account.UpdatedAt),
	}
}

func (d *accountDocument) toDomain() *domain.Account {
	return &domain.Account{
		ID:        d.ID,
		UserID:    d.UserID,
		Provider:  domain.Provider(d.Provider),
		Name:      d.Name,
		Email:     d.Email,
		IMAPHost:  d.IMAPHost,
		IMAPPort:  d.IMAPPort,
		Security:  domain.Security(d.Security),
		AuthType:  domain.AuthType(d.AuthType),
		Enabled:   d.Enabled,
		LastSync:  decodeTime(d.LastSync),
		LastError: d.LastError,
		CreatedAt: decodeTime(d.CreatedAt),
		UpdatedAt: decodeTime(d.UpdatedAt),
	}
}

// Create inserts a new account.
func (a *AccountAdapter) Create(ctx context.Context, account *domain.Account) error {
	if _, err := a.collection.InsertOne(ctx, toAccountDocument(account)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperr.AlreadyExists("account")
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

// Update replaces an existing account document.
func (a *AccountAdapter) Update(ctx context.Context, account *domain.Account) error {
	filter := bson.M{"_id": account.ID, "user_id": account.UserID}
	result, err := a.collection.ReplaceOne(ctx, filter, toAccountDocument(account))
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if result.MatchedCount == 0 {
		return apperr.NotFound("account")
	}
	return nil
}

// Delete removes the account document. Cascades (credentials, processed
// rows) are the service's responsibility.
func (a *AccountAdapter) Delete(ctx context.Context, userID, accountID string) error {
	result, err := a.collection.DeleteOne(ctx, bson.M{"_id": accountID, "user_id": userID})
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if result.DeletedCount == 0 {
		return apperr.NotFound("account")
	}
	return nil
}

// GetByID loads one account scoped to its owner.
func (a *AccountAdapter) GetByID(ctx context.Context, userID, accountID string) (*domain.Account, error) {
	var doc accountDocument
	err := a.collection.FindOne(ctx, bson.M{"_id": accountID, "user_id": userID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, apperr.NotFound("account")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return doc.toDomain(), nil
}

// ListByUser returns all accounts of a user, oldest first.
func (a *AccountAdapter) ListByUser(ctx context.Context, userID string) ([]*domain.Account, error) {
	return a.list(ctx, bson.M{"user_id": userID})
}

// ListEnabledByUser returns the accounts the ingestion worker should serve.
func (a *AccountAdapter) ListEnabledByUser(ctx context.Context, userID string) ([]*domain.Account, error) {
	return a.list(ctx, bson.M{"user_id": userID, "enabled": true})
}

func (a *AccountAdapter) list(ctx context.Context, filter bson.M) ([]*domain.Account, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := a.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer cursor.Close(ctx)

	var accounts []*domain.Account
	for cursor.Next(ctx) {
		var doc accountDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode account: %w", err)
		}
		accounts = append(accounts, doc.toDomain())
	}
	return accounts, cursor.Err()
}

// SetLastSync stamps a successful ingestion round and clears last_error.
func (a *AccountAdapter) SetLastSync(ctx context.Context, accountID string, at time.Time) error {
	update := bson.M{"$set": bson.M{
		"last_sync":  encodeTime(at),
		"last_error": "",
		"updated_at": encodeTime(time.Now().UTC()),
	}}
	_, err := a.collection.UpdateOne(ctx, bson.M{"_id": accountID}, update)
	if err != nil {
		return fmt.Errorf("failed to set last sync: %w", err)
	}
	return nil
}

// SetLastError records a failure on the account without disabling it.
func (a *AccountAdapter) SetLastError(ctx context.Context, accountID, message string) error {
	update := bson.M{"$set": bson.M{
		"last_error": message,
		"updated_at": encodeTime(time.Now().UTC()),
	}}
	_, err := a.collection.UpdateOne(ctx, bson.M{"_id": accountID}, update)
	if err != nil {
		return fmt.Errorf("failed to set last error: %w", err)
	}
	return nil
}
