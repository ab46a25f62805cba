package worker

import (
	"context"

	"github.com/goccy/go-json"

	"mail_worker/pkg/logger"
)

type Handler struct {
	pollProcessor *PollProcessor
}

func NewHandler(pollProcessor *PollProcessor) *Handler {
	return &Handler{pollProcessor: pollProcessor}
}

func (h *Handler) Process(ctx context.Context, msg *Message) error {
	logger.Debug("[Handler.Process] processing message: %s", msg.Type)

	switch msg.Type {
	case JobMailPoll:
		return h.pollProcessor.ProcessPoll(ctx, msg)
	default:
		logger.Warn("[Handler.Process] unknown job type: %s", msg.Type)
		return nil
	}
}

func ParsePayload[T any](msg *Message) (*T, error) {
	var payload T
	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
