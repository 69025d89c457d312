package thumbnail

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/queue"
)

// DeadLetterReason classifies why a job was dead-lettered.
type DeadLetterReason string

const (
	ReasonParseFailure        DeadLetterReason = "PARSE_FAILURE"
	ReasonValidationFailure   DeadLetterReason = "VALIDATION_FAILURE"
	ReasonNonRetryableFailure DeadLetterReason = "NON_RETRYABLE_FAILURE"
	ReasonAttemptsExceeded    DeadLetterReason = "ATTEMPTS_EXCEEDED"
)

// DeadLetter is the record stored in the dead-letter queue.
type DeadLetter struct {
	Reason DeadLetterReason `json:"reason"`
	Error  string           `json:"error"`

	// Payload is the original message body, byte for byte.
	Payload []byte `json:"payload"`

	// Set when the payload parsed.
	TenantID string `json:"tenantId,omitempty"`
	SpaceID  string `json:"spaceId,omitempty"`
	FileID   string `json:"fileId,omitempty"`
	Attempt  int    `json:"attempt,omitempty"`

	FailedAt time.Time `json:"failedAt"`
}

func newDeadLetter(reason DeadLetterReason, cause error, payload []byte, job *Job, now time.Time) *DeadLetter {
	dl := &DeadLetter{
		Reason:   reason,
		Error:    cause.Error(),
		Payload:  payload,
		FailedAt: now.UTC(),
	}
	if job != nil {
		dl.TenantID = job.TenantID
		dl.SpaceID = job.SpaceID
		dl.FileID = job.FileID
		dl.Attempt = job.Attempt
	}
	return dl
}

// ListDeadLetters returns up to max dead letters without removing them.
// Entries that do not decode are logged and skipped.
func ListDeadLetters(ctx context.Context, q queue.Queue, max int) ([]*DeadLetter, error) {
	msgs, err := q.ReceiveDeadLetters(ctx, max)
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letters: %w", err)
	}

	out := make([]*DeadLetter, 0, len(msgs))
	for _, msg := range msgs {
		var dl DeadLetter
		if err := json.Unmarshal(msg.Body, &dl); err != nil {
			logger.Warn("thumbnail: undecodable dead letter %s: %v", msg.ID, err)
			continue
		}
		out = append(out, &dl)
	}
	return out, nil
}
