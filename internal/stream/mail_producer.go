package stream

import (
	"context"
	"time"

	"github.com/google/uuid"

	"mail_worker/core/port/out"
)

type Producer struct {
	stream *RedisStream
}

var _ out.MessageProducer = (*Producer)(nil)

func NewProducer(stream *RedisStream) *Producer {
	return &Producer{stream: stream}
}

type Job struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// PublishPoll queues one fallback-poll job for a user.
func (p *Producer) PublishPoll(ctx context.Context, pollJob *out.PollJob) error {
	if pollJob.JobID == "" {
		pollJob.JobID = uuid.New().String()
	}
	job := &Job{
		ID:   pollJob.JobID,
		Type: "mail.poll",
		Payload: map[string]any{
			"job_id":  pollJob.JobID,
			"user_id": pollJob.UserID,
		},
		CreatedAt: time.Now(),
	}
	_, err := p.stream.Publish(ctx, StreamPoll, job)
	return err
}
