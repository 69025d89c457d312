package thumbnail

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/dittodrive/pkg/metadata"
)

// JobVersion is the payload version written by this package.
const JobVersion = 1

// Job is the queue payload asking for the thumbnail of one file version.
type Job struct {
	Version     int       `json:"version" validate:"eq=1"`
	TenantID    string    `json:"tenantId" validate:"required"`
	SpaceID     string    `json:"spaceId" validate:"required"`
	FileID      string    `json:"fileId" validate:"required"`
	StorageKey  string    `json:"storageKey" validate:"required"`
	ContentType string    `json:"contentType"`
	ETag        string    `json:"etag" validate:"required"`
	Attempt     int       `json:"attempt" validate:"min=1"`
	RequestedAt time.Time `json:"requestedAt" validate:"required"`
}

var jobValidator = validator.New()

// NewJob builds the first-attempt job for file's current content.
func NewJob(space metadata.Space, file *metadata.FileNode, now time.Time) *Job {
	return &Job{
		Version:     JobVersion,
		TenantID:    space.TenantID,
		SpaceID:     space.SpaceID,
		FileID:      file.ID,
		StorageKey:  file.StorageKey,
		ContentType: file.ContentType,
		ETag:        file.ETag,
		Attempt:     1,
		RequestedAt: now.UTC(),
	}
}

// Space returns the space the job belongs to.
func (j *Job) Space() metadata.Space {
	return metadata.Space{TenantID: j.TenantID, SpaceID: j.SpaceID}
}

// Encode serializes the job.
func (j *Job) Encode() ([]byte, error) {
	body, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail job: %w", err)
	}
	return body, nil
}

// Next returns the job for the following attempt.
func (j *Job) Next() *Job {
	next := *j
	next.Attempt++
	return &next
}

// ParseJob decodes and validates a payload. On failure the returned reason
// tells a malformed payload apart from a well-formed but invalid one.
func ParseJob(body []byte) (*Job, DeadLetterReason, error) {
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, ReasonParseFailure, fmt.Errorf("failed to decode thumbnail job: %w", err)
	}
	if err := jobValidator.Struct(&job); err != nil {
		return nil, ReasonValidationFailure, fmt.Errorf("invalid thumbnail job: %w", err)
	}
	if err := job.Space().Validate(); err != nil {
		return nil, ReasonValidationFailure, fmt.Errorf("invalid thumbnail job: %w", err)
	}
	return &job, "", nil
}
