package vision

import (
	"errors"
	"fmt"
	"image"
	"strconv"

	"gocv.io/x/gocv"
)

var ErrNoFrame = errors.New("vision: no frame available")

// Camera reads frames from a webcam index or a video file/stream URL.
type Camera struct {
	capture *gocv.VideoCapture
	mat     gocv.Mat
}

// OpenCamera opens source, which is a device index ("0") or a path or URL.
func OpenCamera(source string, width, height int) (*Camera, error) {
	var dev interface{} = source
	if id, err := strconv.Atoi(source); err == nil {
		dev = id
	}
	capture, err := gocv.OpenVideoCapture(dev)
	if err != nil {
		return nil, fmt.Errorf("open capture %s: %w", source, err)
	}
	if width > 0 && height > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(width))
		capture.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}
	capture.Set(gocv.VideoCaptureBufferSize, 1)
	return &Camera{capture: capture, mat: gocv.NewMat()}, nil
}

// Read grabs the next frame. It is not safe for concurrent use.
func (c *Camera) Read() (image.Image, error) {
	if ok := c.capture.Read(&c.mat); !ok || c.mat.Empty() {
		return nil, ErrNoFrame
	}
	img, err := c.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	return img, nil
}

func (c *Camera) Close() error {
	c.mat.Close()
	return c.capture.Close()
}
