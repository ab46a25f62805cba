package imap

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	goimap "github.com/emersion/go-imap"
	idle "github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap/client"

	"mail_worker/core/domain"
	"mail_worker/core/port/out"
	"mail_worker/pkg/retry"
)

// connection is one authenticated IMAP session. It is owned exclusively by
// its IDLE session or by a single short-lived operation; nothing else may
// touch the socket.
type connection struct {
	c           *client.Client
	parser      out.MailParser
	timeout     time.Duration
	idleRefresh time.Duration
}

var _ out.MailConnection = (*connection)(nil)

func (cc *connection) selectInbox() error {
	_, err := cc.c.Select("INBOX", true)
	return wrapErr("select", err, false)
}

// Test verifies the mailbox is reachable and readable.
func (cc *connection) Test(ctx context.Context) error {
	return retry.Do(ctx, retryConfig(), cc.selectInbox)
}

// FetchSince returns parsed emails with UID > sinceUID, ascending, capped at
// limit. A message that fails to parse is skipped; one bad message never
// fails the batch.
func (cc *connection) FetchSince(ctx context.Context, sinceUID uint32, limit int) ([]*domain.Email, error) {
	var emails []*domain.Email
	err := retry.Do(ctx, retryConfig(), func() error {
		var opErr error
		emails, opErr = cc.fetchSinceOnce(sinceUID, limit)
		return opErr
	})
	return emails, err
}

func (cc *connection) fetchSinceOnce(sinceUID uint32, limit int) ([]*domain.Email, error) {
	if err := cc.selectInbox(); err != nil {
		return nil, err
	}

	criteria := goimap.NewSearchCriteria()
	criteria.Uid = new(goimap.SeqSet)
	criteria.Uid.AddRange(sinceUID+1, 0) // 0 means "*"; sinceUID=0 searches ALL
	uids, err := cc.c.UidSearch(criteria)
	if err != nil {
		return nil, wrapErr("search", err, false)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	if limit > 0 && len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}

	return cc.fetchUIDs(uids)
}

// FetchByUID returns one message by UID.
func (cc *connection) FetchByUID(ctx context.Context, uid uint32) (*domain.Email, error) {
	var email *domain.Email
	err := retry.Do(ctx, retryConfig(), func() error {
		if err := cc.selectInbox(); err != nil {
			return err
		}
		emails, err := cc.fetchUIDs([]uint32{uid})
		if err != nil {
			return err
		}
		if len(emails) == 0 {
			return &Error{Op: "fetch", Text: fmt.Sprintf("message %d not found", uid)}
		}
		email = emails[0]
		return nil
	})
	return email, err
}

func (cc *connection) fetchUIDs(uids []uint32) ([]*domain.Email, error) {
	seqset := new(goimap.SeqSet)
	seqset.AddNum(uids...)

	section := &goimap.BodySectionName{Peek: true}
	items := []goimap.FetchItem{goimap.FetchUid, section.FetchItem()}

	messages := make(chan *goimap.Message, len(uids))
	fetchErr := make(chan error, 1)
	go func() {
		fetchErr <- cc.c.UidFetch(seqset, items, messages)
	}()

	emails := make([]*domain.Email, 0, len(uids))
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		raw, err := io.ReadAll(body)
		if err != nil {
			continue
		}
		email, err := cc.parser(raw, msg.Uid)
		if err != nil {
			continue // skip unparseable messages
		}
		emails = append(emails, email)
	}
	if err := <-fetchErr; err != nil {
		return nil, wrapErr("fetch", err, false)
	}

	sort.Slice(emails, func(i, j int) bool { return emails[i].UID < emails[j].UID })
	return emails, nil
}

// IdleListen blocks in IMAP IDLE until ctx is cancelled or the socket
// errors. onExists fires for server-pushed EXISTS updates and must return
// quickly; sessions hand the event to a channel.
func (cc *connection) IdleListen(ctx context.Context, onExists func()) error {
	if err := cc.selectInbox(); err != nil {
		return err
	}

	updates := make(chan client.Update, 16)
	cc.c.Updates = updates
	// The serve loop reuses this socket for fetches; a still-hooked update
	// channel that nobody drains would block the reader mid-fetch.
	defer detachUpdates(cc.c, updates)

	idleClient := idle.NewClient(cc.c)
	idleClient.LogoutTimeout = cc.idleRefresh

	// Command timeouts would kill the long IDLE wait.
	cc.c.Timeout = 0
	defer func() { cc.c.Timeout = cc.timeout }()

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- idleClient.IdleWithFallback(stop, 0)
	}()

	for {
		select {
		case <-ctx.Done():
			close(stop)
			<-done
			return ctx.Err()
		case update := <-updates:
			if _, ok := update.(*client.MailboxUpdate); ok {
				onExists()
			}
		case err := <-done:
			return wrapErr("idle", err, false)
		}
	}
}

// detachUpdates unhooks the unilateral update channel and drains whatever is
// buffered.
func detachUpdates(c *client.Client, updates chan client.Update) {
	c.Updates = nil
	for {
		select {
		case <-updates:
		default:
			return
		}
	}
}

// Logout ends the session and closes the socket.
func (cc *connection) Logout() error {
	if err := cc.c.Logout(); err != nil {
		cc.c.Close()
		return wrapErr("logout", err, false)
	}
	return nil
}
