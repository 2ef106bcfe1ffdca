package render

import (
	"image"
	"image/color"
	"testing"

	"drivepaddy/internal/detection"
)

func countColor(img *image.RGBA, r image.Rectangle, c color.RGBA) int {
	n := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if img.RGBAAt(x, y) == c {
				n++
			}
		}
	}
	return n
}

func TestAnnotateAlert(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 320, 240))
	res := detection.Result{
		Score:          0.9,
		AlertTriggered: true,
		Contributions: detection.Contributions{
			"Eyes Closed": {Number: 0.12},
			"Model Alert": {Active: true},
		},
	}

	out := Annotate(src, res)
	if out.RGBAAt(0, 0) != BorderColor || out.RGBAAt(319, 239) != BorderColor {
		t.Error("expected red border")
	}
	if countColor(out, image.Rect(10, 15, 200, 60), LabelColor) == 0 {
		t.Error("no label text drawn")
	}
	if countColor(out, image.Rect(200, 15, 315, 35), ScoreColor) == 0 {
		t.Error("no score drawn")
	}
	if src.RGBAAt(0, 0) != (color.RGBA{}) {
		t.Error("source frame was modified")
	}
}

func TestAnnotateNoAlert(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 320, 240))
	out := Annotate(src, detection.Result{})
	if out.RGBAAt(0, 0) == BorderColor {
		t.Error("border drawn without alert")
	}
	if countColor(out, image.Rect(10, 15, 200, 60), LabelColor) != 0 {
		t.Error("labels drawn without contributions")
	}
}
