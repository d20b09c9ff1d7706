// Package cv binds the camera package to OpenCV through gocv.
package cv

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"iris/internal/camera"
)

type device struct {
	cap *gocv.VideoCapture
	mat gocv.Mat
}

// NewOpener opens V4L/AVFoundation devices by index and requests the given
// resolution and frame rate. Drivers may ignore the request.
func NewOpener(width, height, fps int) camera.Opener {
	return camera.OpenerFunc(func(index int) (camera.Device, error) {
		cap, err := gocv.OpenVideoCapture(index)
		if err != nil {
			return nil, fmt.Errorf("open video capture %d: %w", index, err)
		}

		if !cap.IsOpened() {
			cap.Close()
			return nil, fmt.Errorf("video capture %d is not open", index)
		}

		if width > 0 && height > 0 {
			cap.Set(gocv.VideoCaptureFrameWidth, float64(width))
			cap.Set(gocv.VideoCaptureFrameHeight, float64(height))
		}
		if fps > 0 {
			cap.Set(gocv.VideoCaptureFPS, float64(fps))
		}

		return &device{cap: cap, mat: gocv.NewMat()}, nil
	})
}

func (d *device) Read() (image.Image, error) {
	if ok := d.cap.Read(&d.mat); !ok {
		return nil, errors.New("video capture read returned no frame")
	}
	if d.mat.Empty() {
		return nil, errors.New("video capture returned an empty frame")
	}

	img, err := d.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}

	return img, nil
}

func (d *device) Close() error {
	return errors.Join(d.mat.Close(), d.cap.Close())
}
