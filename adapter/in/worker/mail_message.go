package worker

import (
	"time"

	"github.com/google/uuid"
)

// JobType represents the type of a job.
type JobType = string

const (
	// JobMailPoll is the fallback poll backing up IDLE push.
	JobMailPoll JobType = "mail.poll"
)

type Message struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
	Retries   int            `json:"retries"`
}

func NewMessage(jobType string, payload map[string]any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   payload,
		CreatedAt: time.Now(),
		Retries:   0,
	}
}

// PollPayload is the fallback-poll job payload.
type PollPayload struct {
	JobID  string `json:"job_id"`
	UserID string `json:"user_id"`
}
