package thumbnail

import (
	"errors"

	"github.com/marmos91/dittodrive/pkg/blob"
)

// Non-retryable failure conditions. A job failing with one of these is
// marked FAILED and dead-lettered on the first attempt.
var (
	// ErrCorruptSource indicates the source bytes cannot be decoded.
	ErrCorruptSource = errors.New("thumbnail: corrupt or unreadable source")

	// ErrUnsupportedCodec indicates a well-formed source in a format the
	// renderer cannot decode.
	ErrUnsupportedCodec = errors.New("thumbnail: unsupported codec")

	// ErrSourceMissing indicates the source object has no current version.
	ErrSourceMissing = errors.New("thumbnail: source object missing")
)

// Outcomes of a conditional metadata write that end a job without error.
var (
	errStale        = errors.New("thumbnail: file changed during processing")
	errAlreadyReady = errors.New("thumbnail: already ready for this etag")
)

// IsNonRetryable reports whether err is one of the terminal failure
// conditions. Sources over the size bound count as terminal too.
func IsNonRetryable(err error) bool {
	return errors.Is(err, ErrCorruptSource) ||
		errors.Is(err, ErrUnsupportedCodec) ||
		errors.Is(err, ErrSourceMissing) ||
		errors.Is(err, blob.ErrTooLarge)
}
