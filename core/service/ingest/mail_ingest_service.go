// Package ingest implements the new-mail path shared by IDLE events and
// fallback polls: watermark read, fetch, claim, format, deliver.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mail_worker/core/domain"
	"mail_worker/core/port/in"
	"mail_worker/core/port/out"
	"mail_worker/pkg/apperr"
	"mail_worker/pkg/logger"
)

// Service runs ingestion rounds. It is safe for concurrent use; the
// exactly-once contract rides on TryClaim, not on serialisation here.
type Service struct {
	accounts  out.AccountRepository
	processed out.ProcessedRepository
	settings  out.SettingsRepository
	vault     out.SecretVault
	providers out.ProviderRegistry
	connector out.MailConnector
	sink      out.ChatSink

	fetchLimit int

	// initialized tracks accounts that already saw their first event this
	// process lifetime. The first event per account is a baseline resync.
	mu          sync.Mutex
	initialized map[string]struct{}
}

var _ in.IngestionService = (*Service)(nil)

// NewService wires the ingestion service.
func NewService(
	accounts out.AccountRepository,
	processed out.ProcessedRepository,
	settings out.SettingsRepository,
	vault out.SecretVault,
	providers out.ProviderRegistry,
	connector out.MailConnector,
	sink out.ChatSink,
	fetchLimit int,
) *Service {
	if fetchLimit <= 0 {
		fetchLimit = 50
	}
	return &Service{
		accounts:    accounts,
		processed:   processed,
		settings:    settings,
		vault:       vault,
		providers:   providers,
		connector:   connector,
		sink:        sink,
		fetchLimit:  fetchLimit,
		initialized: make(map[string]struct{}),
	}
}

// initializedThisProcess reports whether the account already completed a
// round this process lifetime.
func (s *Service) initializedThisProcess(accountID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.initialized[accountID]
	return ok
}

// setInitialized records a completed round. Only successful rounds count; a
// resync that fails must baseline again on the next attempt or the downtime
// backlog would be replayed as instructions.
func (s *Service) setInitialized(accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized[accountID] = struct{}{}
}

// LoadCredentials reads and decodes the account's credentials from the
// vault, checking the variant against the account's auth discriminator.
func (s *Service) LoadCredentials(ctx context.Context, account *domain.Account) (*domain.Credentials, error) {
	raw, err := s.vault.Get(ctx, account.CredentialsKey())
	if err != nil {
		return nil, err
	}
	creds, err := domain.DecodeCredentials(raw)
	if err != nil {
		return nil, err
	}
	if !creds.Matches(account.AuthType) {
		return nil, fmt.Errorf("account %s: credential type %s does not match auth %s",
			account.ID, creds.Type, account.AuthType)
	}
	return creds, nil
}

// EnsureFresh returns usable credentials, refreshing and persisting them
// when they are inside the expiry buffer. The bool reports whether a
// refresh happened; fresh credentials cause no vault write.
func (s *Service) EnsureFresh(ctx context.Context, account *domain.Account, creds *domain.Credentials) (*domain.Credentials, bool, error) {
	provider, err := s.providers.For(account.Provider)
	if err != nil {
		return nil, false, err
	}
	if !provider.NeedsRefresh(creds) {
		return creds, false, nil
	}

	refreshed, err := provider.Refresh(ctx, creds)
	if err != nil {
		return nil, false, err
	}
	encoded, err := refreshed.Encode()
	if err != nil {
		return nil, false, err
	}
	if err := s.vault.Set(ctx, account.CredentialsKey(), encoded); err != nil {
		return nil, false, err
	}
	return refreshed, true, nil
}

// Connect loads credentials, refreshes them when needed and dials the
// mailbox. Callers own the returned connection.
func (s *Service) Connect(ctx context.Context, account *domain.Account) (out.MailConnection, error) {
	creds, err := s.LoadCredentials(ctx, account)
	if err != nil {
		return nil, err
	}
	creds, _, err = s.EnsureFresh(ctx, account, creds)
	if err != nil {
		return nil, err
	}

	provider, err := s.providers.For(account.Provider)
	if err != nil {
		return nil, err
	}
	params, err := provider.ConnectionParams(account, creds)
	if err != nil {
		return nil, err
	}
	return s.connector.Dial(ctx, params)
}

// IngestUser runs one ingestion round for every enabled account. Per-account
// failures are logged and the next account is always attempted.
func (s *Service) IngestUser(ctx context.Context, userID string) error {
	accounts, err := s.accounts.ListEnabledByUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, account := range accounts {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.IngestAccount(ctx, userID, account.ID); err != nil {
			logger.WithUser(userID).WithAccount(account.ID).WithError(err).
				Warn("[Service.IngestUser] account ingestion failed")
		}
	}
	return nil
}

// IngestAccount runs one fetch-claim-deliver round for the account.
func (s *Service) IngestAccount(ctx context.Context, userID, accountID string) error {
	account, err := s.accounts.GetByID(ctx, userID, accountID)
	if err != nil {
		if appErr := apperr.AsAppError(err); appErr.Code == apperr.CodeNotFound {
			return nil // deleted under us; nothing to do
		}
		return err
	}
	if !account.Enabled {
		return nil
	}

	conn, err := s.Connect(ctx, account)
	if err != nil {
		s.recordFailure(ctx, account, err)
		return err
	}
	defer conn.Logout()

	return s.IngestConnected(ctx, account, conn)
}

// IngestConnected runs the round against an already-open connection. The
// IDLE session path reuses its live connection through here.
func (s *Service) IngestConnected(ctx context.Context, account *domain.Account, conn out.MailConnection) error {
	since, err := s.processed.Watermark(ctx, account.ID)
	if err != nil {
		return err
	}
	firstThisProcess := !s.initializedThisProcess(account.ID)

	log := logger.WithUser(account.UserID).WithAccount(account.ID)

	if since == 0 || firstThisProcess {
		// Baseline (fresh account) or session-restart resync: advance the
		// watermark without notifying, so history and downtime backlog are
		// not replayed.
		if err := s.baseline(ctx, account, conn, since); err != nil {
			s.recordFailure(ctx, account, err)
			return err
		}
		s.setInitialized(account.ID)
		return s.accounts.SetLastSync(ctx, account.ID, time.Now().UTC())
	}

	emails, err := conn.FetchSince(ctx, since, s.fetchLimit)
	if err != nil {
		s.recordFailure(ctx, account, err)
		return err
	}

	instruction := ""
	if settings, err := s.settings.Get(ctx, account.UserID); err == nil {
		instruction = settings.Instruction
	} else {
		log.WithError(err).Warn("[Service.IngestAccount] settings read failed, delivering without instruction")
	}

	delivered := 0
	for _, email := range emails { // ascending UID order
		won, err := s.processed.TryClaim(ctx, account.ID, email.MessageID, email.UID)
		if err != nil {
			return err
		}
		if !won {
			continue // another claimer won; skip silently
		}

		text := FormatInstruction(email, account, instruction)
		if err := s.sink.AppendInstruction(ctx, account.UserID, text); err != nil {
			// Fire-and-forget: the claim stands, the delivery is lost.
			log.WithError(err).Warn("[Service.IngestAccount] instruction delivery failed for %s", email.MessageID)
			continue
		}
		delivered++
	}

	if delivered > 0 {
		log.Info("[Service.IngestAccount] delivered %d message(s)", delivered)
	}
	return s.accounts.SetLastSync(ctx, account.ID, time.Now().UTC())
}

// baseline marks the single highest UID as processed without delivering.
func (s *Service) baseline(ctx context.Context, account *domain.Account, conn out.MailConnection, since uint32) error {
	emails, err := conn.FetchSince(ctx, since, s.fetchLimit)
	if err != nil {
		return err
	}
	if len(emails) == 0 {
		return nil
	}
	highest := emails[len(emails)-1]
	return s.processed.MarkProcessed(ctx, account.ID, highest.MessageID, highest.UID)
}

// recordFailure writes last_error on the account. Auth rejections keep the
// server's text so the tool surface can show it.
func (s *Service) recordFailure(ctx context.Context, account *domain.Account, err error) {
	message := err.Error()
	if appErr := apperr.AsAppError(err); appErr.Code == apperr.CodeAuthFailed {
		message = appErr.Message // "Authentication failed: <server text>"
	}
	if setErr := s.accounts.SetLastError(ctx, account.ID, message); setErr != nil {
		logger.WithAccount(account.ID).WithError(setErr).Warn("[Service.recordFailure] could not record last error")
	}
}
