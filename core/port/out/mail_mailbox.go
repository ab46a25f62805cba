package out

import (
	"context"

	"mail_worker/core/domain"
)

// AuthMethod selects how the connector authenticates the IMAP session.
type AuthMethod string

const (
	AuthMethodLogin   AuthMethod = "login"
	AuthMethodXOAuth2 AuthMethod = "xoauth2"
)

// ConnectionParams is everything needed to dial one mailbox.
type ConnectionParams struct {
	Host     string
	Port     int
	Security domain.Security

	AuthMethod  AuthMethod
	Username    string
	Password    string // login only
	AccessToken string // xoauth2 only
}

// MailProvider is the per-provider capability: connection parameters,
// token-refresh need detection, and the refresh exchange itself.
type MailProvider interface {
	// ConnectionParams fails when the credential variant mismatches the
	// provider's auth style, or a generic account lacks a host.
	ConnectionParams(account *domain.Account, creds *domain.Credentials) (*ConnectionParams, error)
	// NeedsRefresh is false for password credentials and true for oauth2
	// credentials inside the 5 minute expiry buffer.
	NeedsRefresh(creds *domain.Credentials) bool
	// Refresh exchanges the refresh token for new credentials. Only defined
	// for oauth2 providers; preserves the refresh token when the server
	// omits a new one.
	Refresh(ctx context.Context, creds *domain.Credentials) (*domain.Credentials, error)
}

// ProviderRegistry resolves the capability for a provider tag.
type ProviderRegistry interface {
	For(provider domain.Provider) (MailProvider, error)
}

// MailConnection is one live IMAP session. A connection is owned exclusively
// by its IDLE session or by a single short-lived operation.
type MailConnection interface {
	// Test selects INBOX to verify the mailbox is reachable and readable.
	Test(ctx context.Context) error
	// FetchSince returns parsed emails with UID > sinceUID in ascending UID
	// order, capped at limit. Messages that fail to parse are skipped.
	FetchSince(ctx context.Context, sinceUID uint32, limit int) ([]*domain.Email, error)
	// FetchByUID returns one message, or an error when it does not exist.
	FetchByUID(ctx context.Context, uid uint32) (*domain.Email, error)
	// IdleListen blocks in IMAP IDLE, invoking onExists for server-pushed
	// EXISTS events, until ctx is cancelled or the socket errors.
	IdleListen(ctx context.Context, onExists func()) error
	// Logout ends the session and closes the socket.
	Logout() error
}

// MailConnector dials mailboxes.
type MailConnector interface {
	Dial(ctx context.Context, params *ConnectionParams) (MailConnection, error)
}

// MailParser turns a raw RFC-822 message into a parsed email. The connector
// consumes it as an injected dependency so cleanup rules stay swappable.
type MailParser func(raw []byte, uid uint32) (*domain.Email, error)
