// Package out defines outbound ports (driven ports) for the application.
// These interfaces represent dependencies that the application needs.
package out

import (
	"context"
	"time"

	"mail_worker/core/domain"
)

// AccountRepository persists mail accounts. Credentials never pass through
// here; they live in the SecretVault.
type AccountRepository interface {
	Create(ctx context.Context, account *domain.Account) error
	Update(ctx context.Context, account *domain.Account) error
	Delete(ctx context.Context, userID, accountID string) error
	GetByID(ctx context.Context, userID, accountID string) (*domain.Account, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.Account, error)
	ListEnabledByUser(ctx context.Context, userID string) ([]*domain.Account, error)

	// Status updates written by the ingestion path.
	SetLastSync(ctx context.Context, accountID string, at time.Time) error
	SetLastError(ctx context.Context, accountID, message string) error
}

// ProcessedRepository is the dedup and watermark store. TryClaim must be
// atomic across concurrent callers within a user scope.
type ProcessedRepository interface {
	// Watermark returns max(uid) for the account, 0 when no rows exist.
	Watermark(ctx context.Context, accountID string) (uint32, error)
	IsProcessed(ctx context.Context, accountID, messageID string) (bool, error)
	// MarkProcessed is an idempotent insert.
	MarkProcessed(ctx context.Context, accountID, messageID string, uid uint32) error
	// TryClaim inserts iff no row exists and reports whether this caller won.
	TryClaim(ctx context.Context, accountID, messageID string, uid uint32) (bool, error)
	// DeleteByAccount removes all rows on account deletion.
	DeleteByAccount(ctx context.Context, accountID string) error
}

// SettingsRepository stores the per-user instruction row. Get creates the
// row lazily with an empty instruction.
type SettingsRepository interface {
	Get(ctx context.Context, userID string) (*domain.Settings, error)
	Update(ctx context.Context, settings *domain.Settings) error
}

// UserRegistry is the extension-scoped set of users with at least one
// enabled account. List drives boot-time worker launch.
type UserRegistry interface {
	Register(ctx context.Context, userID string) error
	Unregister(ctx context.Context, userID string) error
	List(ctx context.Context) ([]string, error)
}

// SecretVault stores credential payloads keyed per account. Values are
// sealed at rest by the adapter.
type SecretVault interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
