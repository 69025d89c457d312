package thumbnail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// FrameExtractor pulls one representative still frame out of a video.
type FrameExtractor interface {
	// ExtractFrame reads the video at source (a URL or local path) and
	// returns the frame encoded as PNG.
	ExtractFrame(ctx context.Context, source string) ([]byte, error)
}

// FFmpeg extracts frames with the ffmpeg binary.
type FFmpeg struct {
	// Path is the ffmpeg executable (default: "ffmpeg" from PATH).
	Path string
}

// ExtractFrame runs ffmpeg and captures the first video frame as PNG on
// stdout. ffmpeg reads the source itself, so presigned URLs avoid
// downloading whole videos.
func (f *FFmpeg) ExtractFrame(ctx context.Context, source string) ([]byte, error) {
	path := f.Path
	if path == "" {
		path = "ffmpeg"
	}

	cmd := exec.CommandContext(ctx, path,
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-i", source,
		"-frames:v", "1",
		"-f", "image2pipe", "-vcodec", "png",
		"pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil && stdout.Len() > 0 {
		return stdout.Bytes(), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	return nil, classifyFFmpegFailure(stderr.String(), err)
}

// classifyFFmpegFailure maps ffmpeg diagnostics onto the pipeline's
// failure classes. Anything unrecognized is retryable.
func classifyFFmpegFailure(stderr string, runErr error) error {
	if errors.Is(runErr, exec.ErrNotFound) {
		return fmt.Errorf("ffmpeg not available: %w", runErr)
	}

	msg := strings.TrimSpace(stderr)
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "decoder") && strings.Contains(lower, "not found"),
		strings.Contains(lower, "unsupported codec"),
		strings.Contains(lower, "could not find codec parameters"),
		strings.Contains(lower, "does not contain any stream"),
		strings.Contains(lower, "output file is empty"):
		return fmt.Errorf("%w: %s", ErrUnsupportedCodec, firstLine(msg))
	case strings.Contains(lower, "invalid data found when processing input"),
		strings.Contains(lower, "moov atom not found"),
		strings.Contains(lower, "end of file"):
		return fmt.Errorf("%w: %s", ErrCorruptSource, firstLine(msg))
	case strings.Contains(lower, "404 not found"):
		return fmt.Errorf("%w: %s", ErrSourceMissing, firstLine(msg))
	case runErr == nil:
		return fmt.Errorf("%w: ffmpeg produced no frame", ErrUnsupportedCodec)
	default:
		return fmt.Errorf("ffmpeg failed: %v: %s", runErr, firstLine(msg))
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
