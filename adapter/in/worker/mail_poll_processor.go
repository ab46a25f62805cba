package worker

import (
	"context"
	"fmt"

	"mail_worker/core/port/in"
	"mail_worker/pkg/logger"
)

// PollProcessor drives the fallback ingestion path for poll jobs. It shares
// the new-mail handler with IDLE; the claim protocol makes the race benign.
type PollProcessor struct {
	ingest in.IngestionService
}

func NewPollProcessor(ingest in.IngestionService) *PollProcessor {
	return &PollProcessor{ingest: ingest}
}

func (p *PollProcessor) ProcessPoll(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[PollPayload](msg)
	if err != nil {
		return fmt.Errorf("invalid poll payload: %w", err)
	}
	if payload.UserID == "" {
		return fmt.Errorf("poll job %s: user_id is required", payload.JobID)
	}

	log := logger.WithUser(payload.UserID)
	log.Debug("[PollProcessor.ProcessPoll] polling accounts for job %s", payload.JobID)

	if err := p.ingest.IngestUser(ctx, payload.UserID); err != nil {
		log.WithError(err).Warn("[PollProcessor.ProcessPoll] poll ingestion failed")
		return err
	}
	return nil
}
