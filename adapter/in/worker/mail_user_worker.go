package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mail_worker/core/domain"
	"mail_worker/core/port/out"
)

// WorkerConfig tunes one user's session fleet.
type WorkerConfig struct {
	Session              SessionConfig
	TokenRefreshInterval time.Duration
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	c.Session = c.Session.withDefaults()
	if c.TokenRefreshInterval <= 0 {
		c.TokenRefreshInterval = 30 * time.Minute
	}
	return c
}

// UserWorker runs one IDLE session per enabled account of a user and keeps
// OAuth tokens fresh. Dead sessions stay down until the worker is restarted,
// which the supervisor does on any account change.
type UserWorker struct {
	userID   string
	accounts out.AccountRepository
	engine   Engine
	cfg      WorkerConfig
	log      zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*IdleSession

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewUserWorker builds a worker. Call Start to launch the sessions.
func NewUserWorker(userID string, accounts out.AccountRepository, engine Engine, cfg WorkerConfig, log zerolog.Logger) *UserWorker {
	return &UserWorker{
		userID:   userID,
		accounts: accounts,
		engine:   engine,
		cfg:      cfg.withDefaults(),
		log: log.With().
			Str("component", "user_worker").
			Str("user_id", userID).
			Logger(),
		sessions: make(map[string]*IdleSession),
	}
}

// Start launches one IDLE session per enabled account and the token refresh
// loop.
func (w *UserWorker) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)

	accounts, err := w.accounts.ListEnabledByUser(ctx, w.userID)
	if err != nil {
		w.cancel()
		return err
	}

	w.mu.Lock()
	for _, account := range accounts {
		w.startSessionLocked(ctx, account)
	}
	n := len(w.sessions)
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.refreshLoop(ctx)
	}()

	w.log.Info().Int("sessions", n).Msg("user worker started")
	return nil
}

// Stop tears down every session and waits for all goroutines to exit.
func (w *UserWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}

	w.mu.Lock()
	sessions := make([]*IdleSession, 0, len(w.sessions))
	for _, s := range w.sessions {
		sessions = append(sessions, s)
	}
	w.sessions = make(map[string]*IdleSession)
	w.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
	w.wg.Wait()
	w.log.Info().Msg("user worker stopped")
}

func (w *UserWorker) startSessionLocked(ctx context.Context, account *domain.Account) {
	session := NewIdleSession(account, w.engine, w.cfg.Session, w.log, w.sessionDied)
	w.sessions[account.ID] = session
	session.Start(ctx)
}

// sessionDied removes a dead session from the fleet. The fallback poller
// still covers the account; the session comes back on the next restart.
func (w *UserWorker) sessionDied(accountID string) {
	w.mu.Lock()
	delete(w.sessions, accountID)
	remaining := len(w.sessions)
	w.mu.Unlock()
	w.log.Error().
		Str("account_id", accountID).
		Int("remaining", remaining).
		Msg("idle session dead, account now on fallback polling only")
}

// refreshLoop proactively refreshes OAuth tokens so sessions never present an
// expired bearer. A refreshed token requires a new AUTHENTICATE, so the
// session is bounced.
func (w *UserWorker) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.TokenRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.refreshAll(ctx)
		}
	}
}

func (w *UserWorker) refreshAll(ctx context.Context) {
	w.mu.Lock()
	ids := make([]string, 0, len(w.sessions))
	for id := range w.sessions {
		ids = append(ids, id)
	}
	w.mu.Unlock()

	for _, accountID := range ids {
		if ctx.Err() != nil {
			return
		}
		w.refreshAccount(ctx, accountID)
	}
}

func (w *UserWorker) refreshAccount(ctx context.Context, accountID string) {
	log := w.log.With().Str("account_id", accountID).Logger()

	account, err := w.accounts.GetByID(ctx, w.userID, accountID)
	if err != nil {
		log.Warn().Err(err).Msg("token refresh skipped, account lookup failed")
		return
	}
	if account.AuthType != domain.AuthOAuth2 {
		return
	}

	creds, err := w.engine.LoadCredentials(ctx, account)
	if err != nil {
		log.Warn().Err(err).Msg("token refresh skipped, credential load failed")
		return
	}
	_, refreshed, err := w.engine.EnsureFresh(ctx, account, creds)
	if err != nil {
		log.Warn().Err(err).Msg("token refresh failed")
		return
	}
	if !refreshed {
		return
	}

	log.Info().Msg("token refreshed, bouncing idle session")
	w.mu.Lock()
	session, ok := w.sessions[accountID]
	if ok {
		delete(w.sessions, accountID)
	}
	w.mu.Unlock()
	if !ok {
		return
	}
	session.Stop()

	w.mu.Lock()
	defer w.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	w.startSessionLocked(ctx, account)
}
