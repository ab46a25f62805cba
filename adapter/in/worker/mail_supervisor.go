package worker

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"mail_worker/core/domain"
	"mail_worker/core/port/out"
)

// Supervisor owns the per-user workers and poll schedules. It boots the
// fleet from the user registry and reshapes it as accounts come and go.
type Supervisor struct {
	registry  out.UserRegistry
	accounts  out.AccountRepository
	engine    Engine
	scheduler *Scheduler
	cfg       WorkerConfig
	log       zerolog.Logger

	mu      sync.Mutex
	workers map[string]*UserWorker
	ctx     context.Context
	cancel  context.CancelFunc
}

var _ out.SupervisorNotifier = (*Supervisor)(nil)

func NewSupervisor(
	registry out.UserRegistry,
	accounts out.AccountRepository,
	engine Engine,
	scheduler *Scheduler,
	cfg WorkerConfig,
	log zerolog.Logger,
) *Supervisor {
	return &Supervisor{
		registry:  registry,
		accounts:  accounts,
		engine:    engine,
		scheduler: scheduler,
		cfg:       cfg.withDefaults(),
		log:       log.With().Str("component", "supervisor").Logger(),
		workers:   make(map[string]*UserWorker),
	}
}

// Start boots a worker and a poll schedule for every registered user. A user
// whose worker fails to boot is logged and skipped; the rest still start.
func (s *Supervisor) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	users, err := s.registry.List(s.ctx)
	if err != nil {
		return err
	}
	for _, userID := range users {
		s.startUser(userID)
	}
	s.log.Info().Int("users", len(users)).Msg("supervisor started")
	return nil
}

// Shutdown drains every worker and ticker and blocks until all connections
// are released.
func (s *Supervisor) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
	s.scheduler.Stop()

	s.mu.Lock()
	workers := make([]*UserWorker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	s.workers = make(map[string]*UserWorker)
	s.mu.Unlock()

	for _, w := range workers {
		w.Stop()
	}
	s.log.Info().Msg("supervisor stopped")
}

// UserChanged restarts the user's worker so sessions match the stored
// accounts. A user seen for the first time gets a fresh worker and schedule.
func (s *Supervisor) UserChanged(userID string) {
	s.stopUser(userID)
	s.startUser(userID)
}

// UserRemoved tears the user's worker and schedule down.
func (s *Supervisor) UserRemoved(userID string) {
	s.stopUser(userID)
	s.scheduler.Unschedule(userID)
	s.log.Info().Str("user_id", userID).Msg("user removed from fleet")
}

// HandleEvent reshapes the fleet from a change notification. The worker
// process consumes these off the event stream when the API runs elsewhere.
func (s *Supervisor) HandleEvent(event *domain.Event) {
	switch event.Type {
	case domain.EventAccountChanged:
		s.UserChanged(event.UserID)
	case domain.EventSettingsChanged, domain.EventEditChanged:
		// Settings and edit state never affect session topology.
	}
}

func (s *Supervisor) startUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil || s.ctx.Err() != nil {
		return
	}
	if _, ok := s.workers[userID]; ok {
		return
	}

	w := NewUserWorker(userID, s.accounts, s.engine, s.cfg, s.log)
	if err := w.Start(s.ctx); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("user worker failed to start")
		return
	}
	s.workers[userID] = w
	s.scheduler.Schedule(s.ctx, userID)
}

func (s *Supervisor) stopUser(userID string) {
	s.mu.Lock()
	w, ok := s.workers[userID]
	if ok {
		delete(s.workers, userID)
	}
	s.mu.Unlock()
	if ok {
		w.Stop()
	}
}
