package ai

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"potholecam/internal/model"
)

const (
	// BoxThickness is the stroke width of detection rectangles.
	BoxThickness = 2
	// labelOffset is how far above the box the label baseline sits.
	labelOffset = 10
)

// BoxColor is the overlay color for boxes and labels.
var BoxColor = color.RGBA{R: 0, G: 255, B: 0, A: 255}

// DrawDetection draws the rectangle and label of d onto frame. Coordinates
// must already be in the frame's resolution; the box is clipped to the
// frame and skipped when nothing of it is visible.
func DrawDetection(frame *model.Frame, d model.Detection) {
	b := frame.Bounds()
	x1, x2, okX := clipSpan(d.XMin, d.XMax, b.Min.X, b.Max.X)
	y1, y2, okY := clipSpan(d.YMin, d.YMax, b.Min.Y, b.Max.Y)
	if !okX || !okY {
		return
	}

	drawRect(frame.RGBA, x1, y1, x2, y2, BoxColor)
	drawLabel(frame.RGBA, x1, y1, d.Label(), BoxColor)
}

// clipSpan orders a and b and clips them to the pixel range [from, to).
func clipSpan(a, b float64, from, to int) (int, int, bool) {
	if math.IsNaN(a) || math.IsNaN(b) || to <= from {
		return 0, 0, false
	}
	lo := math.Max(math.Min(a, b), float64(from))
	hi := math.Min(math.Max(a, b), float64(to-1))
	if lo > hi {
		return 0, 0, false
	}
	return int(lo), int(hi), true
}

func drawRect(img *image.RGBA, x1, y1, x2, y2 int, col color.Color) {
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	bounds := img.Bounds()

	setPixel := func(x, y int) {
		if x >= bounds.Min.X && x < bounds.Max.X && y >= bounds.Min.Y && y < bounds.Max.Y {
			img.Set(x, y, col)
		}
	}

	for t := 0; t < BoxThickness; t++ {
		for x := x1; x <= x2; x++ {
			setPixel(x, y1+t)
			setPixel(x, y2-t)
		}
		for y := y1; y <= y2; y++ {
			setPixel(x1+t, y)
			setPixel(x2-t, y)
		}
	}
}

func drawLabel(img *image.RGBA, x, y int, label string, col color.Color) {
	face := basicfont.Face7x13
	baseline := y - labelOffset
	// Labels of boxes touching the top edge go inside the box.
	if baseline-face.Ascent < img.Bounds().Min.Y {
		baseline = y + face.Ascent + BoxThickness
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.P(x, baseline),
	}
	d.DrawString(label)
}
