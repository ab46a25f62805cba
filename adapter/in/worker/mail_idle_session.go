package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mail_worker/core/domain"
	"mail_worker/core/port/out"
	"mail_worker/pkg/apperr"
)

// Engine is the slice of the ingestion service the IDLE machinery drives.
type Engine interface {
	Connect(ctx context.Context, account *domain.Account) (out.MailConnection, error)
	IngestConnected(ctx context.Context, account *domain.Account, conn out.MailConnection) error
	LoadCredentials(ctx context.Context, account *domain.Account) (*domain.Credentials, error)
	EnsureFresh(ctx context.Context, account *domain.Account, creds *domain.Credentials) (*domain.Credentials, bool, error)
}

// SessionConfig bounds the reconnect behaviour of one IDLE session.
type SessionConfig struct {
	ReconnectDelay time.Duration
	MaxReconnects  int
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = 5
	}
	return c
}

// IdleSession holds one mailbox open in IMAP IDLE and runs an ingestion
// round on every EXISTS push. On socket errors it reconnects with a fixed
// delay; after MaxReconnects consecutive failures, or on an authentication
// rejection, it goes dead and stays down until its owner restarts it.
type IdleSession struct {
	account *domain.Account
	engine  Engine
	cfg     SessionConfig
	log     zerolog.Logger

	// onDead fires at most once, from the session goroutine.
	onDead func(accountID string)

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewIdleSession builds a session for one account. Call Start to run it.
func NewIdleSession(account *domain.Account, engine Engine, cfg SessionConfig, log zerolog.Logger, onDead func(accountID string)) *IdleSession {
	return &IdleSession{
		account: account,
		engine:  engine,
		cfg:     cfg.withDefaults(),
		log: log.With().
			Str("component", "idle_session").
			Str("account_id", account.ID).
			Str("user_id", account.UserID).
			Logger(),
		onDead: onDead,
		done:   make(chan struct{}),
	}
}

// Start launches the session goroutine.
func (s *IdleSession) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go func() {
		defer close(s.done)
		s.run(ctx)
	}()
}

// Stop cancels the session and waits for the connection to be released.
func (s *IdleSession) Stop() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
	<-s.done
}

// Done is closed when the session goroutine has exited, whether stopped or
// dead.
func (s *IdleSession) Done() <-chan struct{} {
	return s.done
}

func (s *IdleSession) run(ctx context.Context) {
	attempts := 0
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := s.engine.Connect(ctx, s.account)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if appErr := apperr.AsAppError(err); appErr.Code == apperr.CodeAuthFailed {
				// Rejected credentials do not heal with retries.
				s.log.Error().Err(err).Msg("authentication rejected, session going dead")
				s.die()
				return
			}
			attempts++
			s.log.Warn().Err(err).Int("attempt", attempts).Msg("connect failed")
			if attempts >= s.cfg.MaxReconnects {
				s.log.Error().Int("attempts", attempts).Msg("reconnect budget exhausted, session going dead")
				s.die()
				return
			}
			if !sleep(ctx, s.cfg.ReconnectDelay) {
				return
			}
			continue
		}

		err = s.serve(ctx, conn, &attempts)
		conn.Logout()
		if ctx.Err() != nil {
			return
		}
		attempts++
		s.log.Warn().Err(err).Int("attempt", attempts).Msg("idle session dropped, reconnecting")
		if attempts >= s.cfg.MaxReconnects {
			s.log.Error().Int("attempts", attempts).Msg("reconnect budget exhausted, session going dead")
			s.die()
			return
		}
		if !sleep(ctx, s.cfg.ReconnectDelay) {
			return
		}
	}
}

// serve runs the connected phase: an initial resync round, then alternating
// IDLE waits and ingestion rounds. It returns when the socket errors or the
// context is cancelled. attempts is reset once a full round has succeeded.
func (s *IdleSession) serve(ctx context.Context, conn out.MailConnection, attempts *int) error {
	if err := s.engine.IngestConnected(ctx, s.account, conn); err != nil {
		return err
	}
	*attempts = 0
	s.log.Info().Msg("idle session established")

	for {
		// IDLE owns the socket; the listener is interrupted before fetching.
		idleCtx, stopIdle := context.WithCancel(ctx)
		gotMail := make(chan struct{}, 1)
		err := conn.IdleListen(idleCtx, func() {
			select {
			case gotMail <- struct{}{}:
			default:
			}
			stopIdle()
		})
		stopIdle()

		if ctx.Err() != nil {
			return ctx.Err()
		}

		select {
		case <-gotMail:
			if err := s.engine.IngestConnected(ctx, s.account, conn); err != nil {
				return err
			}
		default:
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			// Server ended IDLE without news; loop re-enters it.
		}
	}
}

func (s *IdleSession) die() {
	if s.onDead != nil {
		s.onDead(s.account.ID)
	}
}

// sleep waits d or until ctx is cancelled, reporting whether the full wait
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
