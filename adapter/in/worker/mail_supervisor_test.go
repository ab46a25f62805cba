package worker

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mail_worker/core/domain"
)

type stubRegistry struct{ users []string }

func (r *stubRegistry) Register(_ context.Context, _ string) error   { return nil }
func (r *stubRegistry) Unregister(_ context.Context, _ string) error { return nil }
func (r *stubRegistry) List(_ context.Context) ([]string, error)     { return r.users, nil }

type stubAccounts struct {
	mu       sync.Mutex
	accounts []*domain.Account
}

func (s *stubAccounts) Create(_ context.Context, a *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = append(s.accounts, a)
	return nil
}
func (s *stubAccounts) Update(_ context.Context, _ *domain.Account) error { return nil }
func (s *stubAccounts) Delete(_ context.Context, _, _ string) error       { return nil }
func (s *stubAccounts) GetByID(_ context.Context, userID, accountID string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.UserID == userID && a.ID == accountID {
			return a, nil
		}
	}
	return nil, fmt.Errorf("account not found")
}
func (s *stubAccounts) ListByUser(_ context.Context, userID string) ([]*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*domain.Account
	for _, a := range s.accounts {
		if a.UserID == userID {
			result = append(result, a)
		}
	}
	return result, nil
}
func (s *stubAccounts) ListEnabledByUser(ctx context.Context, userID string) ([]*domain.Account, error) {
	return s.ListByUser(ctx, userID)
}
func (s *stubAccounts) SetLastSync(_ context.Context, _ string, _ time.Time) error { return nil }
func (s *stubAccounts) SetLastError(_ context.Context, _, _ string) error          { return nil }

func newFleetFixture(users ...string) (*Supervisor, *stubEngine, *stubProducer) {
	registry := &stubRegistry{users: users}
	accounts := &stubAccounts{}
	for _, userID := range users {
		accounts.accounts = append(accounts.accounts,
			domain.NewAccount(userID, domain.ProviderICloud, "Personal", userID+"@me.com"))
	}
	engine := &stubEngine{}
	producer := &stubProducer{}
	scheduler := NewScheduler(producer, 10*time.Millisecond, zerolog.New(io.Discard))
	supervisor := NewSupervisor(registry, accounts, engine, scheduler,
		WorkerConfig{Session: testSessionConfig()}, zerolog.New(io.Discard))
	return supervisor, engine, producer
}

func TestSupervisor_BootStartsFleetFromRegistry(t *testing.T) {
	supervisor, engine, producer := newFleetFixture("user-1", "user-2")

	if err := supervisor.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer supervisor.Shutdown()

	// One session per user's account comes up.
	waitFor(t, time.Second, func() bool {
		connects, _ := engine.counts()
		return connects >= 2
	})
	supervisor.mu.Lock()
	workers := len(supervisor.workers)
	supervisor.mu.Unlock()
	if workers != 2 {
		t.Errorf("workers = %d, want one per registered user", workers)
	}

	// And every user has a live poll schedule.
	waitFor(t, time.Second, func() bool {
		return producer.count("user-1") >= 1 && producer.count("user-2") >= 1
	})
}

func TestSupervisor_ShutdownDrainsWorkersAndSchedules(t *testing.T) {
	supervisor, engine, producer := newFleetFixture("user-1", "user-2")

	if err := supervisor.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool {
		connects, _ := engine.counts()
		return connects >= 2 && producer.count("user-1") >= 1
	})

	supervisor.Shutdown()

	supervisor.mu.Lock()
	workers := len(supervisor.workers)
	supervisor.mu.Unlock()
	if workers != 0 {
		t.Errorf("workers after shutdown = %d, want 0", workers)
	}
	supervisor.scheduler.mu.Lock()
	tickers := len(supervisor.scheduler.cancels)
	supervisor.scheduler.mu.Unlock()
	if tickers != 0 {
		t.Errorf("poll schedules after shutdown = %d, want 0", tickers)
	}

	// No tick fires once Shutdown has returned.
	settled := producer.count("user-1") + producer.count("user-2")
	time.Sleep(50 * time.Millisecond)
	if got := producer.count("user-1") + producer.count("user-2"); got != settled {
		t.Errorf("poll ticks after shutdown: %d -> %d", settled, got)
	}
}

func TestSupervisor_UserRemovedStopsWorkerAndSchedule(t *testing.T) {
	supervisor, engine, _ := newFleetFixture("user-1")

	if err := supervisor.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer supervisor.Shutdown()
	waitFor(t, time.Second, func() bool {
		connects, _ := engine.counts()
		return connects >= 1
	})

	supervisor.UserRemoved("user-1")

	supervisor.mu.Lock()
	_, running := supervisor.workers["user-1"]
	supervisor.mu.Unlock()
	if running {
		t.Error("removed user's worker must be stopped")
	}
	supervisor.scheduler.mu.Lock()
	_, scheduled := supervisor.scheduler.cancels["user-1"]
	supervisor.scheduler.mu.Unlock()
	if scheduled {
		t.Error("removed user's poll schedule must be stopped")
	}
}
