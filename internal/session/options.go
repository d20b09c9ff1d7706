package session

import (
	"time"

	"github.com/jonboulle/clockwork"

	"iris/internal/camera"
	"iris/internal/vision"
)

type Config struct {
	Camera            camera.Config
	Vision            vision.Config
	NarrationInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Camera:            camera.DefaultConfig(),
		Vision:            vision.DefaultConfig(),
		NarrationInterval: vision.DefaultNarrationInterval,
	}
}

type Option func(*Session)

// WithEventHook receives every capture and analysis transition. The hook runs
// on the goroutine causing the transition and must not call back into the
// session.
func WithEventHook(fn func(Event)) Option {
	return func(s *Session) { s.onEvent = fn }
}

func WithObservationHook(fn func(*vision.Observation)) Option {
	return func(s *Session) { s.onObservation = fn }
}

// WithPreview shows every captured frame with the latest detected regions.
func WithPreview(p camera.Preview) Option {
	return func(s *Session) { s.preview = p }
}

func WithDetector(d camera.RegionDetector) Option {
	return func(s *Session) { s.detector = d }
}

func WithClock(c clockwork.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithPhotoWriter replaces the file writer used by TakePhoto.
func WithPhotoWriter(fn func(f *camera.Frame, path string) error) Option {
	return func(s *Session) { s.savePhoto = fn }
}
