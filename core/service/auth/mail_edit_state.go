package auth

import (
	"context"
	"strconv"
	"sync"

	"mail_worker/core/domain"
	"mail_worker/core/port/in"
	"mail_worker/core/port/out"
	"mail_worker/pkg/apperr"
	"mail_worker/pkg/logger"
)

// maxEditStates bounds the in-memory form store. At capacity the entry with
// the oldest modification time is evicted.
const maxEditStates = 100

// EditStateService keeps the per-user account form in memory. Each user's
// state has a single writer at a time; the UI serialises its actions.
type EditStateService struct {
	accounts out.AccountRepository
	events   out.EventPublisher

	mu     sync.Mutex
	states map[string]*domain.EditState
}

var _ in.EditStateService = (*EditStateService)(nil)

func NewEditStateService(accounts out.AccountRepository, events out.EventPublisher) *EditStateService {
	return &EditStateService{
		accounts: accounts,
		events:   events,
		states:   make(map[string]*domain.EditState),
	}
}

// Get returns the user's form, creating a closed empty one on first access.
func (s *EditStateService) Get(userID string) *domain.EditState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(userID)
}

func (s *EditStateService) getLocked(userID string) *domain.EditState {
	if state, ok := s.states[userID]; ok {
		return state
	}
	if len(s.states) >= maxEditStates {
		s.evictOldestLocked()
	}
	state := domain.NewEditState(userID)
	s.states[userID] = state
	return state
}

func (s *EditStateService) evictOldestLocked() {
	var oldestID string
	for id, state := range s.states {
		if oldestID == "" || state.UpdatedAt.Before(s.states[oldestID].UpdatedAt) {
			oldestID = id
		}
	}
	if oldestID != "" {
		delete(s.states, oldestID)
	}
}

// ShowAddForm opens a blank add form, discarding any previous state.
func (s *EditStateService) ShowAddForm(userID string) *domain.EditState {
	s.mu.Lock()
	state := domain.NewEditState(userID)
	state.Open = true
	state.Provider = domain.ProviderICloud
	s.states[userID] = state
	s.mu.Unlock()

	s.notify(userID)
	return state
}

// EditAccount opens the form prefilled from a stored account. Credentials
// never flow back into the form.
func (s *EditStateService) EditAccount(ctx context.Context, userID, accountID string) (*domain.EditState, error) {
	account, err := s.accounts.GetByID(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	state := domain.NewEditState(userID)
	state.Open = true
	state.AccountID = account.ID
	state.Provider = account.Provider
	state.Name = account.Name
	state.Email = account.Email
	state.IMAPHost = account.IMAPHost
	state.IMAPPort = account.IMAPPort
	state.Security = account.Security
	s.states[userID] = state
	s.mu.Unlock()

	s.notify(userID)
	return state, nil
}

// UpdateField writes one form field. Unknown fields are rejected.
func (s *EditStateService) UpdateField(userID, field, value string) (*domain.EditState, error) {
	s.mu.Lock()
	state := s.getLocked(userID)

	switch field {
	case "provider":
		p := domain.Provider(value)
		if !p.Valid() {
			s.mu.Unlock()
			return nil, apperr.BadRequest("unknown provider " + value)
		}
		state.Provider = p
	case "name":
		state.Name = value
	case "email":
		state.Email = value
	case "imap_host":
		state.IMAPHost = value
	case "imap_port":
		port, err := strconv.Atoi(value)
		if err != nil || port <= 0 || port > 65535 {
			s.mu.Unlock()
			return nil, apperr.BadRequest("invalid imap port " + value)
		}
		state.IMAPPort = port
	case "security":
		state.Security = domain.Security(value)
	case "username":
		state.Username = value
	case "password":
		state.Password = value
	default:
		s.mu.Unlock()
		return nil, apperr.BadRequest("unknown form field " + field)
	}
	state.Touch()
	s.mu.Unlock()

	s.notify(userID)
	return state, nil
}

// CloseModal discards the form, including any in-flight device-code display.
func (s *EditStateService) CloseModal(userID string) *domain.EditState {
	s.mu.Lock()
	state := domain.NewEditState(userID)
	s.states[userID] = state
	s.mu.Unlock()

	s.notify(userID)
	return state
}

// setOAuth updates the device-flow fields of the form. Used by the OAuth
// engine's background poll.
func (s *EditStateService) setOAuth(userID string, apply func(state *domain.EditState)) {
	s.mu.Lock()
	state := s.getLocked(userID)
	apply(state)
	state.Touch()
	s.mu.Unlock()

	s.notify(userID)
}

func (s *EditStateService) notify(userID string) {
	event := domain.NewEvent(domain.EventEditChanged, userID)
	if err := s.events.Publish(context.Background(), event); err != nil {
		logger.WithUser(userID).WithError(err).Warn("[EditStateService.notify] event publish failed")
	}
}
