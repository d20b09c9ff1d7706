package camera

import (
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"sync/atomic"
	"time"

	"iris/pkg/util"
)

type Config struct {
	DeviceIndices int           // indices 0..N-1 are tried in order
	JoinTimeout   time.Duration // bounded wait for the capture goroutine
}

func DefaultConfig() Config {
	return Config{
		DeviceIndices: 5,
		JoinTimeout:   time.Second,
	}
}

// handle releases its device exactly once, whichever side gets there first.
type handle struct {
	dev   Device
	index int
	once  sync.Once
}

func (h *handle) release() {
	h.once.Do(func() {
		if err := h.dev.Close(); err != nil {
			log.Warn("Failed to release camera", "index", h.index, "err", err)
			return
		}
		log.Debug("Camera released", "index", h.index)
	})
}

// Source owns a camera device and keeps the latest frame fresh from a
// background capture goroutine.
type Source struct {
	opener Opener
	cfg    Config

	mu     sync.Mutex // serializes Start/Stop
	h      *handle
	stop   chan struct{}
	done   chan struct{}
	active atomic.Bool
	index  atomic.Int64

	frameMu sync.Mutex
	frame   *Frame

	preview Preview
	overlay func() []Region
	onState func(capturing bool)
}

func NewSource(opener Opener, cfg Config) *Source {
	if cfg.DeviceIndices < 3 {
		cfg.DeviceIndices = 3
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultConfig().JoinTimeout
	}

	s := &Source{opener: opener, cfg: cfg}
	s.index.Store(-1)

	return s
}

// SetPreview attaches a debug window. overlay supplies the regions drawn on
// each frame. Must be called before Start.
func (s *Source) SetPreview(p Preview, overlay func() []Region) {
	s.preview = p
	s.overlay = overlay
}

// OnStateChange registers a callback fired once per capture transition.
// Must be called before Start.
func (s *Source) OnStateChange(fn func(capturing bool)) {
	s.onState = fn
}

// Start opens the first working device and starts capturing. Calling it while
// already capturing is a no-op that reports success.
func (s *Source) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active.Load() {
		log.Debug("Camera already active")
		return true
	}

	// a loop that died on a read failure leaves its handle behind
	s.reap()

	dev, index, first, err := s.acquire()
	if err != nil {
		log.Error("Could not open any camera", "err", err)
		return false
	}

	h := &handle{dev: dev, index: index}
	s.h = h
	s.index.Store(int64(index))
	s.publish(first)

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.active.Store(true)
	s.notify(true)

	go s.loop(h, s.stop, s.done)

	log.Info("Camera capture started", "index", index)

	return true
}

// Stop ends capture and releases the device, even if the capture goroutine
// already died or fails to exit within JoinTimeout.
func (s *Source) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.h == nil {
		return true
	}

	wasActive := s.active.Swap(false)
	s.reap()

	s.publish(nil)

	if s.preview != nil {
		if err := s.preview.Close(); err != nil {
			log.Warn("Failed to close preview", "err", err)
		}
	}

	if wasActive {
		s.notify(false)
	}

	log.Info("Camera capture stopped")

	return true
}

func (s *Source) Active() bool {
	return s.active.Load()
}

// ActiveIndex is the device index in use, or -1.
func (s *Source) ActiveIndex() int {
	return int(s.index.Load())
}

// CurrentFrame returns a copy of the latest frame, or nil before the first one.
func (s *Source) CurrentFrame() *Frame {
	s.frameMu.Lock()
	defer s.frameMu.Unlock()

	return s.frame.Clone()
}

func (s *Source) acquire() (Device, int, *Frame, error) {
	var lastErr error

	for i := 0; i < s.cfg.DeviceIndices; i++ {
		log.Debug("Trying camera", "index", i)

		dev, err := s.opener.Open(i)
		if err != nil {
			lastErr = fmt.Errorf("open %d: %w", i, err)
			log.Debug("Camera failed to open", "index", i, "err", err)
			continue
		}

		img, err := dev.Read()
		if err == nil && (img == nil || img.Bounds().Empty()) {
			err = errors.New("empty frame")
		}
		if err != nil {
			lastErr = fmt.Errorf("trial read %d: %w", i, err)
			log.Debug("Camera opened but cannot read frames", "index", i, "err", err)
			if cerr := dev.Close(); cerr != nil {
				log.Debug("Failed to release camera", "index", i, "err", cerr)
			}
			continue
		}

		return dev, i, NewFrame(img, time.Now()), nil
	}

	if lastErr != nil {
		return nil, -1, nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, lastErr)
	}

	return nil, -1, nil, ErrDeviceUnavailable
}

func (s *Source) loop(h *handle, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-stop:
			return
		default:
		}

		img, err := h.dev.Read()
		if err == nil && (img == nil || img.Bounds().Empty()) {
			err = errors.New("empty frame")
		}
		if err != nil {
			log.Error("Failed to read frame from camera", "index", h.index, "err", fmt.Errorf("%w: %w", ErrReadFailure, err))
			h.release()
			s.publish(nil)
			s.index.Store(-1)
			if s.active.CompareAndSwap(true, false) {
				s.notify(false)
			}
			return
		}

		f := NewFrame(img, time.Now())
		s.publish(f)
		s.show(f)
	}
}

func (s *Source) reap() {
	if s.h == nil {
		return
	}

	close(s.stop)
	if !util.WaitTimeout(s.done, s.cfg.JoinTimeout) {
		log.Warn("Capture loop did not exit in time, abandoning it", "timeout", s.cfg.JoinTimeout)
	}

	s.h.release()
	s.h = nil
	s.stop = nil
	s.done = nil
	s.index.Store(-1)
}

func (s *Source) publish(f *Frame) {
	s.frameMu.Lock()
	s.frame = f
	s.frameMu.Unlock()
}

func (s *Source) show(f *Frame) {
	if s.preview == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("Preview panicked", "panic", r)
		}
	}()

	var regions []Region
	if s.overlay != nil {
		regions = s.overlay()
	}

	if err := s.preview.Show(f, regions); err != nil {
		log.Error("Failed to display frame", "err", err)
	}
}

func (s *Source) notify(capturing bool) {
	if s.onState != nil {
		s.onState(capturing)
	}
}
