package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Provider identifies the mailbox provider variant.
type Provider string

const (
	ProviderICloud  Provider = "icloud"
	ProviderGmail   Provider = "gmail"
	ProviderOutlook Provider = "outlook"
	ProviderIMAP    Provider = "imap" // generic IMAP server
)

// Valid reports whether p is a known provider tag.
func (p Provider) Valid() bool {
	switch p {
	case ProviderICloud, ProviderGmail, ProviderOutlook, ProviderIMAP:
		return true
	}
	return false
}

// AuthType discriminates how an account authenticates.
type AuthType string

const (
	AuthPassword AuthType = "password"
	AuthOAuth2   AuthType = "oauth2"
)

// Security is the transport security mode for generic IMAP accounts.
type Security string

const (
	SecuritySSL      Security = "ssl"
	SecurityStartTLS Security = "starttls"
	SecurityNone     Security = "none"
)

// Account is one mailbox owned by a user. Credentials live in the secret
// vault, never on this struct.
type Account struct {
	ID       string   `json:"id"`
	UserID   string   `json:"user_id"`
	Provider Provider `json:"provider"`
	Name     string   `json:"name"`
	Email    string   `json:"email"`

	// Generic IMAP only.
	IMAPHost string   `json:"imap_host,omitempty"`
	IMAPPort int      `json:"imap_port,omitempty"`
	Security Security `json:"security,omitempty"`

	AuthType  AuthType  `json:"auth_type"`
	Enabled   bool      `json:"enabled"`
	LastSync  time.Time `json:"last_sync,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewAccount creates an account with a fresh id and provider-implied
// defaults applied.
func NewAccount(userID string, provider Provider, name, email string) *Account {
	now := time.Now().UTC()
	a := &Account{
		ID:        uuid.New().String(),
		UserID:    userID,
		Provider:  provider,
		Name:      name,
		Email:     email,
		AuthType:  provider.DefaultAuthType(),
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if provider == ProviderIMAP {
		a.IMAPPort = 993
		a.Security = SecuritySSL
	}
	return a
}

// DefaultAuthType returns the auth style the provider mandates. Gmail and
// Outlook are OAuth2 only; iCloud takes app-specific passwords.
func (p Provider) DefaultAuthType() AuthType {
	switch p {
	case ProviderGmail, ProviderOutlook:
		return AuthOAuth2
	default:
		return AuthPassword
	}
}

// Validate checks the account invariants. It returns a descriptive error
// for the first violation found.
func (a *Account) Validate() error {
	if a.UserID == "" {
		return fmt.Errorf("account %s: user id is required", a.ID)
	}
	if !a.Provider.Valid() {
		return fmt.Errorf("account %s: unknown provider %q", a.ID, a.Provider)
	}
	if strings.TrimSpace(a.Email) == "" {
		return fmt.Errorf("account %s: email address is required", a.ID)
	}

	switch a.Provider {
	case ProviderGmail, ProviderOutlook:
		if a.AuthType != AuthOAuth2 {
			return fmt.Errorf("account %s: %s requires oauth2 auth", a.ID, a.Provider)
		}
	case ProviderICloud:
		if a.AuthType != AuthPassword {
			return fmt.Errorf("account %s: icloud requires an app-specific password", a.ID)
		}
	case ProviderIMAP:
		if a.IMAPHost == "" {
			return fmt.Errorf("account %s: generic imap requires a host", a.ID)
		}
		if a.IMAPPort <= 0 || a.IMAPPort > 65535 {
			return fmt.Errorf("account %s: invalid imap port %d", a.ID, a.IMAPPort)
		}
		switch a.Security {
		case SecuritySSL, SecurityStartTLS, SecurityNone:
		default:
			return fmt.Errorf("account %s: unknown security mode %q", a.ID, a.Security)
		}
	}
	return nil
}

// CredentialsKey is the secret-vault key holding this account's credentials.
func (a *Account) CredentialsKey() string {
	return CredentialsKey(a.ID)
}

// CredentialsKey builds the vault key for an account id.
func CredentialsKey(accountID string) string {
	return fmt.Sprintf("account-%s-credentials", accountID)
}
