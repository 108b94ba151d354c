package snapshot

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"

	"github.com/nfnt/resize"
)

// DefaultMaxWidth keeps CI artifacts small
const DefaultMaxWidth = 800

// Options configures snapshot output
type Options struct {
	MaxWidth uint
}

// Write decodes a PNG screenshot, shrinks it to fit MaxWidth (keeping the
// aspect ratio) and writes it to outputPath. Returns the written file size.
func Write(data []byte, outputPath string, opts Options) (int64, error) {
	src, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("decode screenshot: %w", err)
	}

	img := Shrink(src, opts.MaxWidth)

	f, err := os.Create(outputPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return 0, fmt.Errorf("encode snapshot: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}

	return info.Size(), nil
}

// Shrink scales img down to maxWidth. Images already narrow enough are
// returned unchanged.
func Shrink(img image.Image, maxWidth uint) image.Image {
	if maxWidth == 0 {
		maxWidth = DefaultMaxWidth
	}

	bounds := img.Bounds()
	if uint(bounds.Dx()) <= maxWidth {
		return img
	}

	aspectRatio := float64(bounds.Dy()) / float64(bounds.Dx())
	height := uint(float64(maxWidth) * aspectRatio)

	return resize.Resize(maxWidth, height, img, resize.Lanczos3)
}
