package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ProcessedRecord marks one delivered (or baselined) message. The set of
// records per account is the exactly-once guard; a row exists iff delivery
// for that message-id has been claimed.
type ProcessedRecord struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"account_id"`
	MessageID   string    `json:"message_id"`
	UID         uint32    `json:"uid"`
	ProcessedAt time.Time `json:"processed_at"`
}

// NewProcessedRecord builds a record with its deterministic id.
func NewProcessedRecord(accountID, messageID string, uid uint32) *ProcessedRecord {
	return &ProcessedRecord{
		ID:          ProcessedID(accountID, messageID),
		AccountID:   accountID,
		MessageID:   messageID,
		UID:         uid,
		ProcessedAt: time.Now().UTC(),
	}
}

// ProcessedID derives the deterministic document id for (account, message-id).
// Message-IDs can carry characters unfit for a document key, so the id uses a
// truncated digest. Claim atomicity rides on inserts against this id.
func ProcessedID(accountID, messageID string) string {
	sum := sha256.Sum256([]byte(messageID))
	return fmt.Sprintf("prc_%s_%s", accountID, hex.EncodeToString(sum[:12]))
}
