package messaging

import (
	"context"

	"mail_worker/core/domain"
	"mail_worker/core/port/out"
	"mail_worker/internal/stream"
)

// EventPublisherAdapter emits mail.account.changed / mail.settings.changed /
// mail.edit.changed notifications on the event stream.
type EventPublisherAdapter struct {
	stream *stream.RedisStream
}

var _ out.EventPublisher = (*EventPublisherAdapter)(nil)

func NewEventPublisherAdapter(s *stream.RedisStream) *EventPublisherAdapter {
	return &EventPublisherAdapter{stream: s}
}

func (a *EventPublisherAdapter) Publish(ctx context.Context, event *domain.Event) error {
	_, err := a.stream.Publish(ctx, stream.StreamEvents, event)
	return err
}
