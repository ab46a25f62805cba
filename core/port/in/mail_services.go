// Package in defines inbound ports (driving ports) exposed to the HTTP and
// worker adapters.
package in

import (
	"context"

	"mail_worker/core/domain"
)

// AccountInput carries the mutable account fields from the tool surface.
type AccountInput struct {
	Provider domain.Provider `json:"provider"`
	Name     string          `json:"name"`
	Email    string          `json:"email"`
	IMAPHost string          `json:"imap_host,omitempty"`
	IMAPPort int             `json:"imap_port,omitempty"`
	Security domain.Security `json:"security,omitempty"`
	Enabled  *bool           `json:"enabled,omitempty"`

	// Password-auth providers only.
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

type AccountService interface {
	List(ctx context.Context, userID string) ([]*domain.Account, error)
	Get(ctx context.Context, userID, accountID string) (*domain.Account, error)
	Add(ctx context.Context, userID string, input *AccountInput) (*domain.Account, error)
	Update(ctx context.Context, userID, accountID string, input *AccountInput) (*domain.Account, error)
	// Delete cascades to credentials and processed rows and unregisters the
	// user when no accounts remain.
	Delete(ctx context.Context, userID, accountID string) error
	// TestConnection dials the mailbox and selects INBOX. Failures carry
	// server details; auth failures also land in the account's last_error.
	TestConnection(ctx context.Context, userID, accountID string) error
}

type SettingsService interface {
	Get(ctx context.Context, userID string) (*domain.Settings, error)
	Update(ctx context.Context, userID, instruction string) (*domain.Settings, error)
}

// MailboxService serves live reads against the IMAP server for the tool
// surface (mail_list_recent, mail_get).
type MailboxService interface {
	ListRecent(ctx context.Context, userID, accountID string, limit int) ([]*domain.Email, error)
	Get(ctx context.Context, userID, accountID string, uid uint32) (*domain.Email, error)
}

// DeviceAuthorization is what the UI shows while the user approves access
// on a second device.
type DeviceAuthorization struct {
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
}

type OAuthService interface {
	// StartDeviceFlow initiates the device grant and spawns the background
	// poll. Progress is reflected in the user's edit state.
	StartDeviceFlow(ctx context.Context, userID string, provider domain.Provider, email string) (*DeviceAuthorization, error)
}

type EditStateService interface {
	Get(userID string) *domain.EditState
	ShowAddForm(userID string) *domain.EditState
	EditAccount(ctx context.Context, userID, accountID string) (*domain.EditState, error)
	UpdateField(userID, field, value string) (*domain.EditState, error)
	CloseModal(userID string) *domain.EditState
}

// IngestionService drives the new-mail path shared by IDLE events and poll
// ticks.
type IngestionService interface {
	// IngestAccount runs one fetch-claim-deliver round for the account.
	IngestAccount(ctx context.Context, userID, accountID string) error
	// IngestUser runs IngestAccount for every enabled account of the user.
	IngestUser(ctx context.Context, userID string) error
}
