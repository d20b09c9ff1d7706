package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// Downscale shrinks img so that its larger side is at most maxDim pixels,
// keeping the aspect ratio. Smaller images are returned unchanged.
func Downscale(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	if maxDim <= 0 || max(w, h) <= maxDim {
		return img
	}

	var nw, nh int
	if h > w {
		nh = maxDim
		nw = w * maxDim / h
	} else {
		nw = maxDim
		nh = h * maxDim / w
	}

	dst := image.NewRGBA(image.Rect(0, 0, max(nw, 1), max(nh, 1)))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)

	return dst
}

func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrEncode)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}

	return buf.Bytes(), nil
}
