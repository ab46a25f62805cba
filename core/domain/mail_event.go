package domain

import "time"

// State-change event types emitted to the host after mutations.
const (
	EventAccountChanged  = "mail.account.changed"
	EventSettingsChanged = "mail.settings.changed"
	EventEditChanged     = "mail.edit.changed"
)

// Event is a state-change notification scoped to one user.
type Event struct {
	Type   string    `json:"type"`
	UserID string    `json:"user_id"`
	At     time.Time `json:"at"`
}

// NewEvent stamps an event with the current time.
func NewEvent(eventType, userID string) *Event {
	return &Event{
		Type:   eventType,
		UserID: userID,
		At:     time.Now().UTC(),
	}
}
