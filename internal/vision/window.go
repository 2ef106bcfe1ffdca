package vision

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Window displays frames in a desktop window.
type Window struct {
	w *gocv.Window
}

func NewWindow(title string) *Window {
	return &Window{w: gocv.NewWindow(title)}
}

// Show draws img and pumps window events. It reports false once the window
// was closed by the user.
func (w *Window) Show(img image.Image) (bool, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return false, fmt.Errorf("convert frame: %w", err)
	}
	defer mat.Close()
	w.w.IMShow(mat)
	if w.w.WaitKey(1) == 27 {
		return false, nil
	}
	return w.w.IsOpen(), nil
}

func (w *Window) Close() error {
	return w.w.Close()
}
