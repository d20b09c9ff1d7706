package cv

import (
	"fmt"
	"image"
	log "log/slog"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"iris/internal/camera"
)

// CascadeDetector finds frontal faces with a Haar cascade.
type CascadeDetector struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
}

func NewCascadeDetector(path string) (*CascadeDetector, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("cascade model: %w", err)
	}

	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(path) {
		classifier.Close()
		return nil, fmt.Errorf("cascade model %s could not be loaded", path)
	}

	return &CascadeDetector{classifier: classifier}, nil
}

// Detect runs on the caller's private frame copy. Failures yield no regions.
func (d *CascadeDetector) Detect(f *camera.Frame) []camera.Region {
	if f.Empty() {
		return nil
	}

	rgba, err := gocv.ImageToMatRGBA(f.Image)
	if err != nil {
		log.Warn("Failed to convert frame for detection", "err", err)
		return nil
	}
	defer rgba.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(rgba, &gray, gocv.ColorRGBAToGray)

	d.mu.Lock()
	rects := d.classifier.DetectMultiScaleWithParams(gray, 1.1, 5, 0, image.Pt(30, 30), image.Pt(0, 0))
	d.mu.Unlock()

	regions := make([]camera.Region, 0, len(rects))
	for _, r := range rects {
		regions = append(regions, camera.RegionFromRect(r))
	}

	return regions
}

func (d *CascadeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.classifier.Close()
}
