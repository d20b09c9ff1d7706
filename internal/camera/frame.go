package camera

import (
	"image"
	"image/draw"
	"time"
)

// Frame is one captured picture. Consumers always receive their own copy.
type Frame struct {
	Image    *image.RGBA
	Captured time.Time
}

// NewFrame copies img into a fresh RGBA buffer, so the device may reuse its own.
func NewFrame(img image.Image, at time.Time) *Frame {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)

	return &Frame{Image: dst, Captured: at}
}

func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}

	img := &image.RGBA{
		Pix:    append([]byte(nil), f.Image.Pix...),
		Stride: f.Image.Stride,
		Rect:   f.Image.Rect,
	}

	return &Frame{Image: img, Captured: f.Captured}
}

func (f *Frame) Empty() bool {
	return f == nil || f.Image == nil || f.Image.Bounds().Empty()
}

// Region is an axis-aligned rectangle in frame pixels.
type Region struct {
	X      int
	Y      int
	Width  int
	Height int
}

func RegionFromRect(r image.Rectangle) Region {
	return Region{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}
