package account

import (
	"context"
	"time"

	"mail_worker/core/domain"
	"mail_worker/core/port/in"
	"mail_worker/core/port/out"
	"mail_worker/pkg/logger"
)

// SettingsService serves the per-user instruction template. The row is
// created lazily with an empty instruction on first read.
type SettingsService struct {
	settings out.SettingsRepository
	events   out.EventPublisher
}

var _ in.SettingsService = (*SettingsService)(nil)

func NewSettingsService(settings out.SettingsRepository, events out.EventPublisher) *SettingsService {
	return &SettingsService{settings: settings, events: events}
}

func (s *SettingsService) Get(ctx context.Context, userID string) (*domain.Settings, error) {
	return s.settings.Get(ctx, userID)
}

func (s *SettingsService) Update(ctx context.Context, userID, instruction string) (*domain.Settings, error) {
	settings, err := s.settings.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	settings.Instruction = instruction
	settings.UpdatedAt = time.Now().UTC()
	if err := s.settings.Update(ctx, settings); err != nil {
		return nil, err
	}

	if err := s.events.Publish(ctx, domain.NewEvent(domain.EventSettingsChanged, userID)); err != nil {
		logger.WithUser(userID).WithError(err).Warn("[SettingsService.Update] event publish failed")
	}
	return settings, nil
}
