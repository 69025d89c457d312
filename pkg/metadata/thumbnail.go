package metadata

import "time"

// ThumbnailStatus is the state of a file's derived thumbnail.
type ThumbnailStatus string

const (
	ThumbnailPending     ThumbnailStatus = "PENDING"
	ThumbnailReady       ThumbnailStatus = "READY"
	ThumbnailFailed      ThumbnailStatus = "FAILED"
	ThumbnailUnsupported ThumbnailStatus = "UNSUPPORTED"
)

// ThumbnailMetadata records the thumbnail of one file.
//
// A READY row is valid only while SourceETag equals the file's current etag;
// a content change invalidates it logically without touching the row.
type ThumbnailMetadata struct {
	FileID            string          `json:"file_id"`
	Status            ThumbnailStatus `json:"status"`
	SourceETag        string          `json:"source_etag"`
	SourceContentType string          `json:"source_content_type"`
	Attempts          int             `json:"attempts"`
	ThumbnailKey      string          `json:"thumbnail_key,omitempty"`
	Width             int             `json:"width,omitempty"`
	Height            int             `json:"height,omitempty"`
	Size              int64           `json:"size,omitempty"`
	LastError         string          `json:"last_error,omitempty"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// ReadyFor reports whether the row is a valid thumbnail for etag.
func (m *ThumbnailMetadata) ReadyFor(etag string) bool {
	return m != nil && m.Status == ThumbnailReady && m.SourceETag == etag
}
