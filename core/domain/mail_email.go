package domain

import "time"

// Email is a parsed message as returned by the mailbox fetch path. Body is
// already sanitised plain text; the connector skips messages that fail to
// parse instead of surfacing them here.
type Email struct {
	UID       uint32    `json:"uid"`
	MessageID string    `json:"message_id"`
	FromName  string    `json:"from_name,omitempty"`
	FromAddr  string    `json:"from_addr"`
	To        []string  `json:"to,omitempty"`
	Subject   string    `json:"subject"`
	Date      time.Time `json:"date"`
	Body      string    `json:"body"`
}

// From renders the sender as "Name <addr>" or the bare address.
func (e *Email) From() string {
	if e.FromName != "" {
		return e.FromName + " <" + e.FromAddr + ">"
	}
	return e.FromAddr
}
