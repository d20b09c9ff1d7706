package cv

import (
	"fmt"
	"image/color"
	"sync"

	"gocv.io/x/gocv"

	"iris/internal/camera"
)

var overlayColor = color.RGBA{G: 255, A: 255}

// Preview shows frames in a HighGUI window. The window is created on the
// first frame and destroyed by Close.
type Preview struct {
	title string

	mu     sync.Mutex
	window *gocv.Window
}

func NewPreview(title string) *Preview {
	return &Preview{title: title}
}

func (p *Preview) Show(f *camera.Frame, regions []camera.Region) error {
	if f.Empty() {
		return nil
	}

	rgba, err := gocv.ImageToMatRGBA(f.Image)
	if err != nil {
		return fmt.Errorf("convert frame: %w", err)
	}
	defer rgba.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(rgba, &bgr, gocv.ColorRGBAToBGR)

	for _, r := range regions {
		gocv.Rectangle(&bgr, r.Rect(), overlayColor, 2)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.window == nil {
		p.window = gocv.NewWindow(p.title)
	}

	p.window.IMShow(bgr)
	p.window.WaitKey(1)

	return nil
}

func (p *Preview) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.window == nil {
		return nil
	}

	err := p.window.Close()
	p.window = nil

	return err
}
