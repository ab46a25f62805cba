package domain

import "time"

// Settings is the per-user configuration row. Created lazily with an empty
// instruction on first read.
type Settings struct {
	UserID      string    `json:"user_id"`
	Instruction string    `json:"instruction"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DefaultSettings returns the lazily-created row for a user.
func DefaultSettings(userID string) *Settings {
	return &Settings{
		UserID:    userID,
		UpdatedAt: time.Now().UTC(),
	}
}
