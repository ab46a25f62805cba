package stream

import (
	"context"
	"log"

	"github.com/goccy/go-json"

	"mail_worker/adapter/in/worker"
)

type Consumer struct {
	stream  *RedisStream
	handler *worker.Handler
	name    string
}

func NewConsumer(stream *RedisStream, handler *worker.Handler, name string) *Consumer {
	return &Consumer{
		stream:  stream,
		handler: handler,
		name:    name,
	}
}

func (c *Consumer) Start(ctx context.Context) {
	if err := c.stream.CreateGroup(ctx, StreamPoll); err != nil {
		log.Printf("Failed to create group for %s: %v", StreamPoll, err)
	}

	go c.consume(ctx, StreamPoll)
}

func (c *Consumer) consume(ctx context.Context, stream string) {
	c.stream.Consume(ctx, stream, c.name, func(id string, data []byte) error {
		var job Job
		if err := json.Unmarshal(data, &job); err != nil {
			log.Printf("Failed to unmarshal job: %v", err)
			return err
		}

		msg := &worker.Message{
			ID:        job.ID,
			Type:      job.Type,
			Payload:   job.Payload,
			CreatedAt: job.CreatedAt,
		}

		return c.handler.Process(ctx, msg)
	})
}
