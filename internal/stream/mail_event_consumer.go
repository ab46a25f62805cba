package stream

import (
	"context"
	"log"

	"github.com/goccy/go-json"

	"mail_worker/core/domain"
)

// EventConsumer feeds state-change events to the worker fleet. A worker
// process deployed apart from the API learns about account changes this way.
type EventConsumer struct {
	stream *RedisStream
	name   string
	handle func(event *domain.Event)
}

func NewEventConsumer(stream *RedisStream, name string, handle func(event *domain.Event)) *EventConsumer {
	return &EventConsumer{
		stream: stream,
		name:   name,
		handle: handle,
	}
}

func (c *EventConsumer) Start(ctx context.Context) {
	if err := c.stream.CreateGroup(ctx, StreamEvents); err != nil {
		log.Printf("Failed to create group for %s: %v", StreamEvents, err)
	}

	go c.stream.Consume(ctx, StreamEvents, c.name, func(id string, data []byte) error {
		var event domain.Event
		if err := json.Unmarshal(data, &event); err != nil {
			log.Printf("Failed to unmarshal event: %v", err)
			return err
		}
		c.handle(&event)
		return nil
	})
}
