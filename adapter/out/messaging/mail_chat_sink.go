// Package messaging implements the outbound stream adapters: the chat
// instruction sink and the state-change event publisher.
package messaging

import (
	"context"
	"time"

	"mail_worker/core/port/out"
	"mail_worker/internal/stream"
	"mail_worker/pkg/logger"
	"mail_worker/pkg/resilience"
)

// ChatSinkAdapter posts instructions to the conversational agent through
// the chat stream. A circuit breaker keeps a dead sink from stalling
// ingestion; delivery stays fire-and-forget.
type ChatSinkAdapter struct {
	stream  *stream.RedisStream
	breaker *resilience.Breaker
}

var _ out.ChatSink = (*ChatSinkAdapter)(nil)

type instructionMessage struct {
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// NewChatSinkAdapter creates the sink with its breaker.
func NewChatSinkAdapter(s *stream.RedisStream) *ChatSinkAdapter {
	breaker := resilience.NewBreaker(
		resilience.DefaultBreakerConfig("chat-sink"),
		func(name, from, to string) {
			logger.Warn("[ChatSinkAdapter] circuit breaker %s: %s -> %s", name, from, to)
		},
	)
	return &ChatSinkAdapter{stream: s, breaker: breaker}
}

// AppendInstruction publishes one instruction scoped to the user.
func (a *ChatSinkAdapter) AppendInstruction(ctx context.Context, userID, text string) error {
	return a.breaker.Execute(func() error {
		_, err := a.stream.Publish(ctx, stream.StreamChat, &instructionMessage{
			UserID:    userID,
			Text:      text,
			CreatedAt: time.Now().UTC(),
		})
		return err
	})
}
