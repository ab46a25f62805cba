// Package account implements the account CRUD and connection-test operations
// behind the tool surface.
package account

import (
	"context"
	"strings"
	"time"

	"mail_worker/core/domain"
	"mail_worker/core/port/in"
	"mail_worker/core/port/out"
	"mail_worker/pkg/apperr"
	"mail_worker/pkg/logger"
)

// Dialer opens an authenticated mailbox connection for an account.
type Dialer interface {
	Connect(ctx context.Context, account *domain.Account) (out.MailConnection, error)
}

type Service struct {
	accounts   out.AccountRepository
	processed  out.ProcessedRepository
	vault      out.SecretVault
	registry   out.UserRegistry
	events     out.EventPublisher
	supervisor out.SupervisorNotifier
	dialer     Dialer
}

var _ in.AccountService = (*Service)(nil)

func NewService(
	accounts out.AccountRepository,
	processed out.ProcessedRepository,
	vault out.SecretVault,
	registry out.UserRegistry,
	events out.EventPublisher,
	supervisor out.SupervisorNotifier,
	dialer Dialer,
) *Service {
	return &Service{
		accounts:   accounts,
		processed:  processed,
		vault:      vault,
		registry:   registry,
		events:     events,
		supervisor: supervisor,
		dialer:     dialer,
	}
}

func (s *Service) List(ctx context.Context, userID string) ([]*domain.Account, error) {
	return s.accounts.ListByUser(ctx, userID)
}

func (s *Service) Get(ctx context.Context, userID, accountID string) (*domain.Account, error) {
	return s.accounts.GetByID(ctx, userID, accountID)
}

// Add creates a password-auth account. OAuth accounts land through the
// device flow instead.
func (s *Service) Add(ctx context.Context, userID string, input *in.AccountInput) (*domain.Account, error) {
	if input.Provider.DefaultAuthType() == domain.AuthOAuth2 {
		return nil, apperr.BadRequest("oauth accounts are added through the device authorization flow")
	}
	if strings.TrimSpace(input.Password) == "" {
		return nil, apperr.MissingField("password")
	}

	account := domain.NewAccount(userID, input.Provider, input.Name, input.Email)
	applyInput(account, input)
	if err := account.Validate(); err != nil {
		return nil, apperr.ValidationFailed(err.Error())
	}

	username := input.Username
	if username == "" {
		username = account.Email
	}
	creds := domain.NewPasswordCredentials(username, input.Password)
	encoded, err := creds.Encode()
	if err != nil {
		return nil, err
	}
	if err := s.vault.Set(ctx, account.CredentialsKey(), encoded); err != nil {
		return nil, err
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		// Do not leave an orphaned secret behind.
		if delErr := s.vault.Delete(ctx, account.CredentialsKey()); delErr != nil {
			logger.WithAccount(account.ID).WithError(delErr).Warn("[Service.Add] orphaned secret cleanup failed")
		}
		return nil, err
	}
	if err := s.registry.Register(ctx, userID); err != nil {
		return nil, err
	}

	s.notifyChanged(ctx, userID)
	return account, nil
}

// Update applies the mutable fields and, when a new password is supplied,
// rotates the stored credentials.
func (s *Service) Update(ctx context.Context, userID, accountID string, input *in.AccountInput) (*domain.Account, error) {
	account, err := s.accounts.GetByID(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}

	if input.Name != "" {
		account.Name = input.Name
	}
	if input.Email != "" {
		account.Email = input.Email
	}
	applyInput(account, input)
	account.UpdatedAt = time.Now().UTC()
	if err := account.Validate(); err != nil {
		return nil, apperr.ValidationFailed(err.Error())
	}

	if input.Password != "" {
		if account.AuthType != domain.AuthPassword {
			return nil, apperr.BadRequest("cannot set a password on an oauth account")
		}
		username := input.Username
		if username == "" {
			username = account.Email
		}
		encoded, err := domain.NewPasswordCredentials(username, input.Password).Encode()
		if err != nil {
			return nil, err
		}
		if err := s.vault.Set(ctx, account.CredentialsKey(), encoded); err != nil {
			return nil, err
		}
	}

	if err := s.accounts.Update(ctx, account); err != nil {
		return nil, err
	}

	s.notifyChanged(ctx, userID)
	return account, nil
}

// Delete removes the account and cascades to its credentials and processed
// rows. The last account of a user also unregisters the user.
func (s *Service) Delete(ctx context.Context, userID, accountID string) error {
	account, err := s.accounts.GetByID(ctx, userID, accountID)
	if err != nil {
		return err
	}

	if err := s.accounts.Delete(ctx, userID, accountID); err != nil {
		return err
	}
	if err := s.vault.Delete(ctx, account.CredentialsKey()); err != nil {
		logger.WithAccount(accountID).WithError(err).Warn("[Service.Delete] credential cleanup failed")
	}
	if err := s.processed.DeleteByAccount(ctx, accountID); err != nil {
		logger.WithAccount(accountID).WithError(err).Warn("[Service.Delete] processed cleanup failed")
	}

	remaining, err := s.accounts.ListByUser(ctx, userID)
	if err == nil && len(remaining) == 0 {
		if err := s.registry.Unregister(ctx, userID); err != nil {
			logger.WithUser(userID).WithError(err).Warn("[Service.Delete] unregister failed")
		}
		s.publish(ctx, userID)
		s.supervisor.UserRemoved(userID)
		return nil
	}

	s.notifyChanged(ctx, userID)
	return nil
}

// TestConnection dials the mailbox and selects INBOX. An authentication
// rejection lands in the account's last_error with the server's text.
func (s *Service) TestConnection(ctx context.Context, userID, accountID string) error {
	account, err := s.accounts.GetByID(ctx, userID, accountID)
	if err != nil {
		return err
	}

	conn, err := s.dialer.Connect(ctx, account)
	if err != nil {
		s.recordTestFailure(ctx, account, err)
		return err
	}
	defer conn.Logout()

	if err := conn.Test(ctx); err != nil {
		s.recordTestFailure(ctx, account, err)
		return err
	}

	if account.LastError != "" {
		if err := s.accounts.SetLastError(ctx, accountID, ""); err != nil {
			logger.WithAccount(accountID).WithError(err).Warn("[Service.TestConnection] could not clear last error")
		}
	}
	return nil
}

func (s *Service) recordTestFailure(ctx context.Context, account *domain.Account, err error) {
	message := err.Error()
	if appErr := apperr.AsAppError(err); appErr.Code == apperr.CodeAuthFailed {
		message = appErr.Message
	}
	if setErr := s.accounts.SetLastError(ctx, account.ID, message); setErr != nil {
		logger.WithAccount(account.ID).WithError(setErr).Warn("[Service.TestConnection] could not record last error")
	}
}

func (s *Service) notifyChanged(ctx context.Context, userID string) {
	s.publish(ctx, userID)
	s.supervisor.UserChanged(userID)
}

func (s *Service) publish(ctx context.Context, userID string) {
	if err := s.events.Publish(ctx, domain.NewEvent(domain.EventAccountChanged, userID)); err != nil {
		logger.WithUser(userID).WithError(err).Warn("[Service.publish] event publish failed")
	}
}

func applyInput(account *domain.Account, input *in.AccountInput) {
	if input.IMAPHost != "" {
		account.IMAPHost = input.IMAPHost
	}
	if input.IMAPPort != 0 {
		account.IMAPPort = input.IMAPPort
	}
	if input.Security != "" {
		account.Security = input.Security
	}
	if input.Enabled != nil {
		account.Enabled = *input.Enabled
	}
}
