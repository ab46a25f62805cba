package account

import (
	"context"

	"mail_worker/core/domain"
	"mail_worker/core/port/in"
	"mail_worker/core/port/out"
)

// defaultListLimit caps mail_list_recent when the caller passes no limit.
const defaultListLimit = 20

// MailboxService serves live IMAP reads for the tool surface. Every call
// opens a short-lived connection; nothing here touches the IDLE sessions.
type MailboxService struct {
	accounts out.AccountRepository
	dialer   Dialer
}

var _ in.MailboxService = (*MailboxService)(nil)

func NewMailboxService(accounts out.AccountRepository, dialer Dialer) *MailboxService {
	return &MailboxService{accounts: accounts, dialer: dialer}
}

func (s *MailboxService) ListRecent(ctx context.Context, userID, accountID string, limit int) ([]*domain.Email, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	account, err := s.accounts.GetByID(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}

	conn, err := s.dialer.Connect(ctx, account)
	if err != nil {
		return nil, err
	}
	defer conn.Logout()

	return conn.FetchSince(ctx, 0, limit)
}

func (s *MailboxService) Get(ctx context.Context, userID, accountID string, uid uint32) (*domain.Email, error) {
	account, err := s.accounts.GetByID(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}

	conn, err := s.dialer.Connect(ctx, account)
	if err != nil {
		return nil, err
	}
	defer conn.Logout()

	return conn.FetchByUID(ctx, uid)
}
