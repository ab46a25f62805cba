package domain

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// CredentialType discriminates the credentials sum type.
type CredentialType string

const (
	CredentialPassword CredentialType = "password"
	CredentialOAuth2   CredentialType = "oauth2"
)

// Credentials is the JSON-encoded sum stored in the secret vault under
// account-<id>-credentials. Exactly the fields of the active variant are set.
type Credentials struct {
	Type CredentialType `json:"type"`

	// password variant
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	// oauth2 variant
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// NewPasswordCredentials builds the password variant.
func NewPasswordCredentials(username, password string) *Credentials {
	return &Credentials{
		Type:     CredentialPassword,
		Username: username,
		Password: password,
	}
}

// NewOAuth2Credentials builds the oauth2 variant with an absolute expiry.
func NewOAuth2Credentials(accessToken, refreshToken string, expiresAt time.Time) *Credentials {
	return &Credentials{
		Type:         CredentialOAuth2,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
	}
}

// Matches reports whether the credential variant agrees with the account's
// auth discriminator.
func (c *Credentials) Matches(auth AuthType) bool {
	switch auth {
	case AuthPassword:
		return c.Type == CredentialPassword
	case AuthOAuth2:
		return c.Type == CredentialOAuth2
	}
	return false
}

// ExpiresWithin reports whether an oauth2 credential expires inside the
// buffer window. Password credentials never expire.
func (c *Credentials) ExpiresWithin(buffer time.Duration) bool {
	if c.Type != CredentialOAuth2 {
		return false
	}
	return !time.Now().Before(c.ExpiresAt.Add(-buffer))
}

// Encode serializes the credentials for vault storage.
func (c *Credentials) Encode() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to encode credentials: %w", err)
	}
	return string(data), nil
}

// DecodeCredentials parses a vault payload back into the sum type.
func DecodeCredentials(raw string) (*Credentials, error) {
	var c Credentials
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("failed to decode credentials: %w", err)
	}
	switch c.Type {
	case CredentialPassword, CredentialOAuth2:
	default:
		return nil, fmt.Errorf("unknown credential type %q", c.Type)
	}
	return &c, nil
}
