package model

import (
	"image"
	"image/draw"
)

// Frame is a raster sampled from a video source. Annotations are drawn
// directly into its pixel buffer, so callers that need the original must
// Clone before handing it off.
type Frame struct {
	*image.RGBA
}

// NewFrame converts any decoded image into an opaque RGBA frame anchored at (0,0).
func NewFrame(img image.Image) *Frame {
	if img == nil {
		return nil
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return &Frame{RGBA: dst}
}

// Empty reports whether the frame carries no pixels.
func (f *Frame) Empty() bool {
	return f == nil || f.RGBA == nil || f.Rect.Empty() || len(f.Pix) == 0
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int {
	if f.Empty() {
		return 0
	}
	return f.Rect.Dx()
}

// Height returns the frame height in pixels.
func (f *Frame) Height() int {
	if f.Empty() {
		return 0
	}
	return f.Rect.Dy()
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	if f == nil || f.RGBA == nil {
		return nil
	}
	pix := make([]uint8, len(f.Pix))
	copy(pix, f.Pix)
	return &Frame{RGBA: &image.RGBA{
		Pix:    pix,
		Stride: f.Stride,
		Rect:   f.Rect,
	}}
}
