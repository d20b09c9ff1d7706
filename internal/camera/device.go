package camera

import (
	"errors"
	"image"
)

var (
	// ErrDeviceUnavailable is returned when no device index could be opened and read.
	ErrDeviceUnavailable = errors.New("camera: no device available")

	// ErrReadFailure is logged when the capture loop loses the device mid-session.
	ErrReadFailure = errors.New("camera: frame read failed")

	// ErrPersist wraps failures to write a photo.
	ErrPersist = errors.New("camera: cannot persist image")
)

// Device is an opened camera. Read blocks for at most one device read.
type Device interface {
	Read() (image.Image, error)
	Close() error
}

// Opener opens the camera at a numeric device index.
type Opener interface {
	Open(index int) (Device, error)
}

type OpenerFunc func(index int) (Device, error)

func (f OpenerFunc) Open(index int) (Device, error) { return f(index) }

// RegionDetector finds regions of interest (faces) in a private frame copy.
type RegionDetector interface {
	Detect(f *Frame) []Region
}

// NoRegions is used when no detector model is available.
type NoRegions struct{}

func (NoRegions) Detect(*Frame) []Region { return nil }

// Preview renders frames with an overlay for debugging. Show must not modify f.
type Preview interface {
	Show(f *Frame, regions []Region) error
	Close() error
}
