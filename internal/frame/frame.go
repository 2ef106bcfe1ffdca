// Package frame holds the image helpers shared by the capture, detection and
// transport layers.
package frame

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// DefaultQuality is the JPEG quality used when frames leave the process.
const DefaultQuality = 85

var (
	ErrEmpty    = errors.New("frame: empty image data")
	ErrTooLarge = errors.New("frame: image dimensions over limit")
)

// Decode parses a JPEG, PNG or WebP encoded frame.
func Decode(data []byte) (image.Image, string, error) {
	return DecodeLimited(data, 0)
}

// DecodeLimited is Decode for untrusted input: the header is read first and
// frames declaring more than maxPixels pixels are rejected with ErrTooLarge
// before any pixel memory is allocated. maxPixels <= 0 disables the check.
func DecodeLimited(data []byte, maxPixels int) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmpty
	}
	if maxPixels > 0 {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil, "", fmt.Errorf("decode frame header: %w", err)
		}
		if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
			return nil, "", fmt.Errorf("%w: %dx%d, limit %d pixels", ErrTooLarge, cfg.Width, cfg.Height, maxPixels)
		}
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode frame: %w", err)
	}
	return img, format, nil
}

// EncodeJPEG encodes img as JPEG with the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Clone returns a deep RGBA copy of img with the same bounds.
func Clone(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, img, b.Min, draw.Src)
	return dst
}
