package vision

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"iris/internal/camera"
	"iris/pkg/util"
)

// FrameProvider is the capture side the analyzer samples from.
type FrameProvider interface {
	CurrentFrame() *camera.Frame
	Active() bool
}

type Config struct {
	SampleInterval time.Duration // minimum spacing between describe calls
	PollInterval   time.Duration
	MaxDimension   int // frames are downscaled to fit this square
	JPEGQuality    int
	CallTimeout    time.Duration
	JoinTimeout    time.Duration
}

func DefaultConfig() Config {
	return Config{
		SampleInterval: 3 * time.Second,
		PollInterval:   100 * time.Millisecond,
		MaxDimension:   800,
		JPEGQuality:    80,
		CallTimeout:    30 * time.Second,
		JoinTimeout:    time.Second,
	}
}

// run is the state owned by one analyzer goroutine.
type run struct {
	describer Describer
	preamble  string
	lastCall  time.Time
}

// Analyzer periodically describes the current frame and publishes the result
// as the latest Observation.
type Analyzer struct {
	frames   FrameProvider
	detector camera.RegionDetector
	narrator *Narrator
	clock    clockwork.Clock
	cfg      Config

	mu      sync.Mutex // serializes Start/Stop
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool

	ocr    atomic.Bool
	latest atomic.Pointer[Observation]

	onState       func(analyzing bool)
	onObservation func(*Observation)
}

func NewAnalyzer(frames FrameProvider, detector camera.RegionDetector, narrator *Narrator, clock clockwork.Clock, cfg Config) *Analyzer {
	if detector == nil {
		detector = camera.NoRegions{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if narrator == nil {
		narrator = NewNarrator(clock, DefaultNarrationInterval)
	}

	def := DefaultConfig()
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = def.SampleInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = def.JPEGQuality
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = def.JoinTimeout
	}
	if cfg.MaxDimension <= 0 {
		cfg.MaxDimension = def.MaxDimension
	}

	return &Analyzer{
		frames:   frames,
		detector: detector,
		narrator: narrator,
		clock:    clock,
		cfg:      cfg,
	}
}

// OnStateChange registers a callback fired once per analysis transition.
// Must be called before Start.
func (a *Analyzer) OnStateChange(fn func(analyzing bool)) {
	a.onState = fn
}

// OnObservation registers a callback fired after each publish, from the
// analyzer goroutine. Must be called before Start.
func (a *Analyzer) OnObservation(fn func(*Observation)) {
	a.onObservation = fn
}

// Start launches the analysis loop. It fails if the loop is already running,
// capture is not active or d is nil.
func (a *Analyzer) Start(d Describer, preamble string, ocr bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running.Load() {
		log.Debug("Vision analysis already running")
		return false
	}

	if d == nil {
		log.Error("Cannot start vision analysis without a describer")
		return false
	}

	if !a.frames.Active() {
		log.Error("Cannot start vision analysis without an active camera")
		return false
	}

	// a loop that ended with its capture leaves its handle behind
	a.reap()

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})
	a.ocr.Store(ocr)
	a.running.Store(true)
	a.notify(true)

	go a.loop(ctx, &run{describer: d, preamble: preamble}, a.done)

	log.Info("Vision analysis started", "ocr", ocr, "interval", a.cfg.SampleInterval)

	return true
}

// Stop ends the loop, waiting at most JoinTimeout. Safe to call at any time.
func (a *Analyzer) Stop() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel == nil {
		return true
	}

	wasRunning := a.running.Swap(false)
	a.reap()

	if wasRunning {
		a.notify(false)
		log.Info("Vision analysis stopped")
	}

	return true
}

func (a *Analyzer) Running() bool {
	return a.running.Load()
}

// SetOCR switches the prompt and OCR text extraction for future samples.
func (a *Analyzer) SetOCR(enabled bool) {
	a.ocr.Store(enabled)
	log.Debug("OCR toggled", "enabled", enabled)
}

func (a *Analyzer) OCR() bool {
	return a.ocr.Load()
}

// Latest returns the current observation, or nil before the first one.
func (a *Analyzer) Latest() *Observation {
	return a.latest.Load()
}

func (a *Analyzer) Narrator() *Narrator {
	return a.narrator
}

func (a *Analyzer) loop(ctx context.Context, r *run, done chan<- struct{}) {
	defer close(done)

	ticker := a.clock.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	now := a.clock.Now()
	for {
		if !a.frames.Active() {
			log.Info("Camera is no longer capturing, ending vision analysis")
			if a.running.CompareAndSwap(true, false) {
				a.notify(false)
			}
			return
		}

		a.iterate(ctx, r, now)

		select {
		case <-ctx.Done():
			return
		case now = <-ticker.Chan():
		}
	}
}

func (a *Analyzer) iterate(ctx context.Context, r *run, now time.Time) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("Vision iteration panicked", "panic", p)
		}
	}()

	if err := a.step(ctx, r, now); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Vision analysis iteration failed", "err", err)
	}
}

// step performs at most one describe call. Returning an error never ends
// the loop.
func (a *Analyzer) step(ctx context.Context, r *run, now time.Time) error {
	if !r.lastCall.IsZero() && now.Sub(r.lastCall) < a.cfg.SampleInterval {
		return nil
	}

	f := a.frames.CurrentFrame()
	if f.Empty() {
		return nil
	}

	r.lastCall = now
	ocr := a.ocr.Load()

	payload, err := EncodeJPEG(Downscale(f.Image, a.cfg.MaxDimension), a.cfg.JPEGQuality)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
	description, err := r.describer.Describe(callCtx, payload, Prompt(ocr), r.preamble)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !errors.Is(err, ErrRemoteService) {
			err = fmt.Errorf("%w: %w", ErrRemoteService, err)
		}
		return err
	}

	obs := &Observation{
		Timestamp:   a.clock.Now(),
		Description: description,
		Regions:     a.detector.Detect(f),
		OCRMode:     ocr,
	}
	if ocr && HasTextMarker(description) {
		obs.OCRText = description
	} else if prev := a.latest.Load(); prev != nil {
		obs.OCRText = prev.OCRText
	}

	// a stop during the call discards its result
	if ctx.Err() != nil {
		return ctx.Err()
	}

	a.latest.Store(obs)
	log.Debug("Published observation", "description", description, "regions", len(obs.Regions))

	if a.onObservation != nil {
		a.onObservation(obs)
	}

	a.narrator.Consider(obs)

	return nil
}

func (a *Analyzer) reap() {
	if a.cancel == nil {
		return
	}

	a.cancel()
	if !util.WaitTimeout(a.done, a.cfg.JoinTimeout) {
		log.Warn("Vision loop did not exit in time, abandoning it", "timeout", a.cfg.JoinTimeout)
	}

	a.cancel = nil
	a.done = nil
}

func (a *Analyzer) notify(analyzing bool) {
	if a.onState != nil {
		a.onState(analyzing)
	}
}
