package landmarks

import (
	"context"
	"errors"
	"image"
	"testing"
)

func TestSelect(t *testing.T) {
	face := &Face{Points: []Point{{0.1, 0.1}, {0.2, 0.2}, {0.3, 0.3}}}

	got := face.Select([]int{2, 0})
	if len(got) != 2 || got[0] != (Point{0.3, 0.3}) || got[1] != (Point{0.1, 0.1}) {
		t.Fatalf("Select = %v", got)
	}
	if face.Select([]int{0, 3}) != nil {
		t.Fatal("out of range index should return nil")
	}
	var none *Face
	if none.Select([]int{0}) != nil {
		t.Fatal("nil face should return nil")
	}
}

func TestBounds(t *testing.T) {
	face := &Face{Points: []Point{{0.25, 0.25}, {0.75, 0.5}}}

	tests := []struct {
		name   string
		margin float64
		want   image.Rectangle
	}{
		{"no margin", 0, image.Rect(25, 50, 75, 100)},
		{"ten percent", 0.1, image.Rect(20, 45, 80, 105)},
		{"clipped", 1, image.Rect(0, 0, 100, 150)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := face.Bounds(100, 200, tt.margin); got != tt.want {
				t.Errorf("Bounds = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProviderLocator(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	face := &Face{Points: []Point{{0.2, 0.2}, {0.6, 0.8}}}

	r, ok, err := ProviderLocator{Provider: Static{Face: face}}.Locate(context.Background(), img)
	if err != nil || !ok {
		t.Fatalf("Locate ok=%v err=%v", ok, err)
	}
	if r != image.Rect(20, 20, 60, 80) {
		t.Errorf("rect = %v", r)
	}

	_, ok, err = ProviderLocator{Provider: Static{}}.Locate(context.Background(), img)
	if ok || err != nil {
		t.Errorf("no face: ok=%v err=%v", ok, err)
	}

	boom := errors.New("boom")
	_, ok, err = ProviderLocator{Provider: Static{Err: boom}}.Locate(context.Background(), img)
	if ok || !errors.Is(err, boom) {
		t.Errorf("provider error: ok=%v err=%v", ok, err)
	}
}

func TestStaticReturnsCopy(t *testing.T) {
	src := &Face{Points: []Point{{0.5, 0.5}}}
	s := Static{Face: src}

	got, _ := s.Detect(context.Background(), nil)
	got.Points[0].X = 0

	if src.Points[0].X != 0.5 {
		t.Fatal("Static leaked its face")
	}
}
