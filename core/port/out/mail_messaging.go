package out

import (
	"context"

	"mail_worker/core/domain"
)

// PollJob is the fallback-poll payload published by the scheduler.
type PollJob struct {
	JobID  string `json:"job_id"`
	UserID string `json:"user_id"`
}

// MessageProducer publishes jobs to the stream backbone.
type MessageProducer interface {
	PublishPoll(ctx context.Context, job *PollJob) error
}

// ChatSink posts one instruction to the user's conversational agent.
// Fire-and-forget: callers log failures and never roll back claims.
type ChatSink interface {
	AppendInstruction(ctx context.Context, userID, text string) error
}

// EventPublisher emits state-change events back to the host.
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.Event) error
}
