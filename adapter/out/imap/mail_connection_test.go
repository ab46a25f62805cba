package imap

import (
	"testing"

	"github.com/emersion/go-imap/client"
)

func TestDetachUpdates(t *testing.T) {
	c := &client.Client{}
	updates := make(chan client.Update, 16)
	c.Updates = updates
	for i := 0; i < 3; i++ {
		updates <- &client.MailboxUpdate{}
	}

	detachUpdates(c, updates)

	if c.Updates != nil {
		t.Error("update channel must be unhooked before the socket is reused")
	}
	if got := len(updates); got != 0 {
		t.Errorf("buffered updates = %d, want drained", got)
	}
}
