package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"mail_worker/core/port/out"
	"mail_worker/pkg/apperr"
	"mail_worker/pkg/crypto"
)

// VaultAdapter implements out.SecretVault on Postgres. Values are sealed
// with AES-256-GCM before they touch the table; the row stores only
// base64 ciphertext.
type VaultAdapter struct {
	db  *sqlx.DB
	enc *crypto.Encryptor
}

var _ out.SecretVault = (*VaultAdapter)(nil)

// NewVaultAdapter creates a new Postgres vault adapter.
func NewVaultAdapter(db *sqlx.DB, enc *crypto.Encryptor) *VaultAdapter {
	return &VaultAdapter{db: db, enc: enc}
}

// EnsureSchema creates the vault table when missing.
func (a *VaultAdapter) EnsureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS mail_secrets (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`
	if _, err := a.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to ensure vault schema: %w", err)
	}
	return nil
}

type secretRow struct {
	Key       string    `db:"key"`
	Value     string    `db:"value"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Get returns the unsealed secret for key.
func (a *VaultAdapter) Get(ctx context.Context, key string) (string, error) {
	var row secretRow
	err := a.db.GetContext(ctx, &row, `SELECT key, value, updated_at FROM mail_secrets WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperr.NotFound("secret")
	}
	if err != nil {
		return "", apperr.VaultError("get", err)
	}

	plaintext, err := a.enc.Decrypt(row.Value)
	if err != nil {
		return "", apperr.VaultError("decrypt", err)
	}
	return plaintext, nil
}

// Set seals and upserts the secret. The upsert is the serialisation point
// for concurrent credential writers.
func (a *VaultAdapter) Set(ctx context.Context, key, value string) error {
	sealed, err := a.enc.Encrypt(value)
	if err != nil {
		return apperr.VaultError("encrypt", err)
	}

	const query = `
		INSERT INTO mail_secrets (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	if _, err := a.db.ExecContext(ctx, query, key, sealed, time.Now().UTC()); err != nil {
		return apperr.VaultError("set", err)
	}
	return nil
}

// Delete removes the secret; deleting a missing key is a no-op.
func (a *VaultAdapter) Delete(ctx context.Context, key string) error {
	if _, err := a.db.ExecContext(ctx, `DELETE FROM mail_secrets WHERE key = $1`, key); err != nil {
		return apperr.VaultError("delete", err)
	}
	return nil
}
