package domain

import "time"

// OAuthStatus tracks the in-flight device-code exchange shown in the UI.
type OAuthStatus string

const (
	OAuthIdle      OAuthStatus = "idle"
	OAuthPending   OAuthStatus = "pending"
	OAuthConnected OAuthStatus = "connected"
	OAuthFailed    OAuthStatus = "failed"
)

// EditState is the per-user in-flight account form. It lives in memory only;
// the edit-state service evicts the oldest entry at capacity.
type EditState struct {
	UserID    string `json:"user_id"`
	AccountID string `json:"account_id,omitempty"` // empty while adding
	Open      bool   `json:"open"`

	// form fields
	Provider Provider `json:"provider,omitempty"`
	Name     string   `json:"name,omitempty"`
	Email    string   `json:"email,omitempty"`
	IMAPHost string   `json:"imap_host,omitempty"`
	IMAPPort int      `json:"imap_port,omitempty"`
	Security Security `json:"security,omitempty"`
	Username string   `json:"username,omitempty"`
	Password string   `json:"password,omitempty"`

	// device-code exchange
	OAuthStatus     OAuthStatus `json:"oauth_status"`
	UserCode        string      `json:"user_code,omitempty"`
	VerificationURI string      `json:"verification_uri,omitempty"`
	OAuthError      string      `json:"oauth_error,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewEditState returns a closed, empty form for the user.
func NewEditState(userID string) *EditState {
	return &EditState{
		UserID:      userID,
		OAuthStatus: OAuthIdle,
		UpdatedAt:   time.Now().UTC(),
	}
}

// Touch bumps the modification timestamp used for eviction ordering.
func (s *EditState) Touch() {
	s.UpdatedAt = time.Now().UTC()
}
