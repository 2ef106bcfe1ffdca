// Package render draws detection diagnostics onto frames.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"drivepaddy/internal/detection"
	"drivepaddy/internal/frame"
)

var (
	LabelColor  = color.RGBA{R: 255, G: 255, A: 255}
	ScoreColor  = color.RGBA{G: 255, A: 255}
	BorderColor = color.RGBA{R: 255, A: 255}
)

const (
	borderWidth = 5
	lineHeight  = 25
	margin      = 10
)

// Annotate returns a copy of img with the contributing indicators listed top
// left, the score top right and a red border when the alert triggered.
func Annotate(img image.Image, r detection.Result) *image.RGBA {
	dst := frame.Clone(img)
	b := dst.Bounds()

	y := b.Min.Y + 30
	for _, ind := range detection.Indicators {
		v, ok := r.Contributions[ind.Label()]
		if !ok {
			continue
		}
		text := ind.Label()
		if !v.Active {
			text = fmt.Sprintf("%s: %s", ind.Label(), v)
		}
		drawText(dst, b.Min.X+margin, y, text, LabelColor)
		y += lineHeight
	}

	score := fmt.Sprintf("Score: %.2f", r.Score)
	drawText(dst, b.Max.X-textWidth(score)-margin, b.Min.Y+30, score, ScoreColor)

	if r.AlertTriggered {
		drawBorder(dst, BorderColor, borderWidth)
	}
	return dst
}

func drawText(dst draw.Image, x, y int, text string, c color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

func textWidth(text string) int {
	return font.MeasureString(basicfont.Face7x13, text).Ceil()
}

func drawBorder(dst draw.Image, c color.Color, w int) {
	b := dst.Bounds()
	src := image.NewUniform(c)
	for _, r := range []image.Rectangle{
		image.Rect(b.Min.X, b.Min.Y, b.Max.X, b.Min.Y+w),
		image.Rect(b.Min.X, b.Max.Y-w, b.Max.X, b.Max.Y),
		image.Rect(b.Min.X, b.Min.Y, b.Min.X+w, b.Max.Y),
		image.Rect(b.Max.X-w, b.Min.Y, b.Max.X, b.Max.Y),
	} {
		draw.Draw(dst, r.Intersect(b), src, image.Point{}, draw.Src)
	}
}
