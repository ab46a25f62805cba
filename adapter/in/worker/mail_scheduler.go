package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mail_worker/core/port/out"
)

// Scheduler emits a poll job per user on a fixed interval. The poll path is
// the safety net behind IDLE: it catches pushes lost to flaky sockets and
// covers accounts whose sessions have gone dead.
type Scheduler struct {
	producer out.MessageProducer
	interval time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewScheduler(producer out.MessageProducer, interval time.Duration, log zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scheduler{
		producer: producer,
		interval: interval,
		log:      log.With().Str("component", "scheduler").Logger(),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Schedule starts the poll ticker for a user. Scheduling an already
// scheduled user is a no-op.
func (s *Scheduler) Schedule(ctx context.Context, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cancels[userID]; ok {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancels[userID] = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tickLoop(ctx, userID)
	}()
	s.log.Info().Str("user_id", userID).Dur("interval", s.interval).Msg("poll schedule started")
}

// Unschedule stops the user's ticker.
func (s *Scheduler) Unschedule(userID string) {
	s.mu.Lock()
	cancel, ok := s.cancels[userID]
	if ok {
		delete(s.cancels, userID)
	}
	s.mu.Unlock()
	if ok {
		cancel()
		s.log.Info().Str("user_id", userID).Msg("poll schedule stopped")
	}
}

// Stop cancels every ticker and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for userID, cancel := range s.cancels {
		cancel()
		delete(s.cancels, userID)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) tickLoop(ctx context.Context, userID string) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job := &out.PollJob{JobID: uuid.New().String(), UserID: userID}
			if err := s.producer.PublishPoll(ctx, job); err != nil {
				s.log.Warn().Err(err).Str("user_id", userID).Msg("poll publish failed")
			}
		}
	}
}
