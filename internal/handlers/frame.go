package handlers

import (
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"strings"

	"drivepaddy/internal/frame"
)

var errBadFrame = errors.New("invalid frame data")

// decodeFrame accepts raw base64 or a data URL ("data:image/jpeg;base64,...").
// Frames larger than maxPixels are rejected before their pixels are decoded.
func decodeFrame(encoded string, maxPixels int) (image.Image, error) {
	if i := strings.Index(encoded, ","); i >= 0 && strings.HasPrefix(encoded, "data:") {
		encoded = encoded[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadFrame, err)
	}
	return decodeBytes(data, maxPixels)
}

func decodeBytes(data []byte, maxPixels int) (image.Image, error) {
	img, _, err := frame.DecodeLimited(data, maxPixels)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadFrame, err)
	}
	return img, nil
}

// bearer strips an optional "Bearer " prefix.
func bearer(v string) string {
	if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		return v[7:]
	}
	return v
}
