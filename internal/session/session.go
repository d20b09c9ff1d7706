// Package session ties the camera, the vision analyzer and the narrator
// into the control surface used by the command dispatcher.
package session

import (
	"fmt"
	log "log/slog"
	"sync"

	"github.com/jonboulle/clockwork"

	"iris/internal/camera"
	"iris/internal/vision"
)

// Session is safe for concurrent use. Every method returns a plain result and
// recovers from internal panics, so a failing camera never takes down the
// caller's command loop.
type Session struct {
	mu sync.Mutex // serializes lifecycle changes

	source   *camera.Source
	analyzer *vision.Analyzer
	narrator *vision.Narrator

	clock         clockwork.Clock
	detector      camera.RegionDetector
	preview       camera.Preview
	savePhoto     func(f *camera.Frame, path string) error
	onEvent       func(Event)
	onObservation func(*vision.Observation)
}

func New(opener camera.Opener, cfg Config, opts ...Option) *Session {
	s := &Session{
		clock:     clockwork.NewRealClock(),
		detector:  camera.NoRegions{},
		savePhoto: camera.SaveImage,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.source = camera.NewSource(opener, cfg.Camera)
	s.source.OnStateChange(func(capturing bool) {
		if capturing {
			s.emit(CaptureStarted)
		} else {
			s.emit(CaptureStopped)
		}
	})

	if s.preview != nil {
		s.source.SetPreview(s.preview, s.regions)
	}

	s.narrator = vision.NewNarrator(s.clock, cfg.NarrationInterval)
	s.analyzer = vision.NewAnalyzer(s.source, s.detector, s.narrator, s.clock, cfg.Vision)
	s.analyzer.OnStateChange(func(analyzing bool) {
		if analyzing {
			s.emit(AnalysisStarted)
		} else {
			s.emit(AnalysisStopped)
		}
	})

	if s.onObservation != nil {
		s.analyzer.OnObservation(s.onObservation)
	}

	return s
}

// Start begins capturing. Starting an active session reports success.
func (s *Session) Start() (ok bool) {
	defer s.guard("start", &ok)

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.source.Start()
}

// Stop ends analysis first and then capture, so no sample runs against a
// released device.
func (s *Session) Stop() (ok bool) {
	defer s.guard("stop", &ok)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.analyzer.Stop()
	return s.source.Stop()
}

// StartAnalysis fails without side effects unless the session is capturing
// and not yet analyzing.
func (s *Session) StartAnalysis(d vision.Describer, preamble string) (ok bool) {
	defer s.guard("start analysis", &ok)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.source.Active() {
		log.Warn("Cannot start analysis while the camera is off")
		return false
	}

	return s.analyzer.Start(d, preamble, s.analyzer.OCR())
}

func (s *Session) StopAnalysis() (ok bool) {
	defer s.guard("stop analysis", &ok)

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.analyzer.Stop()
}

// SetAutoNarrate toggles narration of new observations. A nil sink keeps the
// previously registered one.
func (s *Session) SetAutoNarrate(enabled bool, sink vision.Speaker) (ok bool) {
	defer s.guard("set auto narrate", &ok)

	s.narrator.SetAutoNarrate(enabled, sink)
	return true
}

func (s *Session) EnableOCR(enabled bool) (ok bool) {
	defer s.guard("enable ocr", &ok)

	s.analyzer.SetOCR(enabled)
	return true
}

func (s *Session) IsActive() bool {
	return s.source.Active()
}

func (s *Session) IsAnalyzing() bool {
	return s.analyzer.Running()
}

func (s *Session) IsAutoNarrating() bool {
	return s.narrator.Enabled()
}

func (s *Session) OCREnabled() bool {
	return s.analyzer.OCR()
}

// LatestDescription returns the most recent description, if any.
func (s *Session) LatestDescription() (string, bool) {
	obs := s.analyzer.Latest()
	if obs == nil || obs.Description == "" {
		return "", false
	}
	return obs.Description, true
}

// LatestOCRText returns the most recent text read through the camera, if any.
func (s *Session) LatestOCRText() (string, bool) {
	obs := s.analyzer.Latest()
	if obs == nil || obs.OCRText == "" {
		return "", false
	}
	return obs.OCRText, true
}

func (s *Session) DetectedRegionCount() int {
	return len(s.regions())
}

// LatestObservation returns the current observation, or nil.
func (s *Session) LatestObservation() *vision.Observation {
	return s.analyzer.Latest()
}

// TakePhoto writes the current frame to path. It works whether or not
// analysis is running.
func (s *Session) TakePhoto(path string) (ok bool) {
	defer s.guard("take photo", &ok)

	f := s.source.CurrentFrame()
	if f.Empty() {
		log.Warn("No frame to save", "path", path)
		return false
	}

	if err := s.savePhoto(f, path); err != nil {
		log.Error("Failed to save photo", "path", path, "err", err)
		return false
	}

	log.Info("Photo saved", "path", path)

	return true
}

func (s *Session) regions() []camera.Region {
	obs := s.analyzer.Latest()
	if obs == nil {
		return nil
	}
	return obs.Regions
}

func (s *Session) emit(kind EventKind) {
	log.Debug("Session event", "event", kind)

	if s.onEvent != nil {
		s.onEvent(Event{Kind: kind, At: s.clock.Now()})
	}
}

func (s *Session) guard(op string, ok *bool) {
	if r := recover(); r != nil {
		log.Error("Camera session failed", "op", op, "err", fmt.Errorf("panic: %v", r))
		*ok = false
	}
}
