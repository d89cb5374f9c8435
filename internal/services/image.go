package services

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

const (
	defaultImageMaxWidth = 1600
	defaultImageQuality  = 80
)

// ImagePreprocessor normalizes uploaded photos before they reach the vision
// provider: EXIF orientation applied, downscaled to MaxWidth, re-encoded as
// JPEG.
type ImagePreprocessor struct {
	MaxWidth int
	Quality  int
	// MaxBytes rejects a single input larger than this; zero disables it.
	MaxBytes int64
}

// NewImagePreprocessor returns a preprocessor with the given limits, using
// defaults for non-positive values.
func NewImagePreprocessor(maxWidth, quality int, maxBytes int64) *ImagePreprocessor {
	if maxWidth <= 0 {
		maxWidth = defaultImageMaxWidth
	}
	if quality <= 0 || quality > 100 {
		quality = defaultImageQuality
	}
	return &ImagePreprocessor{MaxWidth: maxWidth, Quality: quality, MaxBytes: maxBytes}
}

// Compress returns one JPEG per input, in input order. Any unreadable input
// fails the whole batch.
func (p *ImagePreprocessor) Compress(images [][]byte) ([][]byte, error) {
	if len(images) == 0 {
		return nil, Wrap(ErrValidation, "preprocess images", "no images", nil)
	}
	out := make([][]byte, 0, len(images))
	for i, data := range images {
		compressed, err := p.compressOne(data)
		if err != nil {
			return nil, Wrap(ErrPreprocess, "preprocess images", fmt.Sprintf("image %d", i+1), err)
		}
		out = append(out, compressed)
	}
	return out, nil
}

func (p *ImagePreprocessor) compressOne(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image")
	}
	if p.MaxBytes > 0 && int64(len(data)) > p.MaxBytes {
		return nil, fmt.Errorf("image is %d bytes, limit is %d", len(data), p.MaxBytes)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if img.Bounds().Dx() > p.MaxWidth {
		img = imaging.Resize(img, p.MaxWidth, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(p.Quality)); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return buf.Bytes(), nil
}
