package thumbnail

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"strings"

	// Registered decoders.
	_ "image/gif"
	_ "image/png"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	// DefaultMaxDimension bounds the long edge of a thumbnail.
	DefaultMaxDimension = 512

	// DefaultJPEGQuality is the encoder quality of thumbnails.
	DefaultJPEGQuality = 80

	// maxSourcePixels rejects images whose header claims an absurd size
	// before the decoder allocates for it.
	maxSourcePixels = 100_000_000
)

// ThumbnailContentType is the content type of every derived object.
const ThumbnailContentType = "image/jpeg"

// Renderer turns source image bytes into a bounded JPEG preview.
type Renderer struct {
	MaxDimension int
	Quality      int
}

// Rendered is one encoded thumbnail.
type Rendered struct {
	Data   []byte
	Width  int
	Height int
}

// NewRenderer returns a Renderer, substituting defaults for zero values.
func NewRenderer(maxDimension, quality int) *Renderer {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return &Renderer{MaxDimension: maxDimension, Quality: quality}
}

// Render decodes data, scales it to fit MaxDimension on the long edge
// (never upscaling), flattens transparency onto white and encodes JPEG.
//
// Bytes that do not sniff as an image, or that fail to decode, yield
// ErrCorruptSource. Well-formed images in formats without a registered
// decoder (HEIC, SVG, ...) yield ErrUnsupportedCodec.
func (r *Renderer) Render(data []byte) (*Rendered, error) {
	sniffed := mimetype.Detect(data)
	if !strings.HasPrefix(sniffed.String(), "image/") {
		return nil, fmt.Errorf("%w: content sniffed as %s", ErrCorruptSource, sniffed.String())
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if errors.Is(err, image.ErrFormat) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, sniffed.String())
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSource, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > maxSourcePixels {
		return nil, fmt.Errorf("%w: implausible dimensions %dx%d", ErrCorruptSource, cfg.Width, cfg.Height)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSource, err)
	}

	bounds := src.Bounds()
	width, height := fit(bounds.Dx(), bounds.Dy(), r.MaxDimension)

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: r.Quality}); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return &Rendered{Data: buf.Bytes(), Width: width, Height: height}, nil
}

// fit scales width x height down so the long edge is at most limit,
// preserving aspect ratio.
func fit(width, height, limit int) (int, int) {
	if width <= limit && height <= limit {
		return width, height
	}
	if width >= height {
		return limit, max(1, (height*limit+width/2)/width)
	}
	return max(1, (width*limit+height/2)/height), limit
}
