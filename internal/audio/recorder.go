package audio

import (
	"errors"
	"math"
	"time"

	"github.com/gordonklaus/portaudio"
)

// ErrNoSpeech is returned when nobody starts talking before StartTimeout.
var ErrNoSpeech = errors.New("audio: no speech detected")

type RecorderConfig struct {
	SampleRate   int
	FrameSize    int
	SilenceRMS   float64       // frames below this level count as silence
	Silence      time.Duration // trailing silence that ends an utterance
	StartTimeout time.Duration // how long to wait for speech to begin
	MaxLength    time.Duration
}

func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		SampleRate:   16000,
		FrameSize:    320, // 20ms
		SilenceRMS:   0.015,
		Silence:      600 * time.Millisecond,
		StartTimeout: 5 * time.Second,
		MaxLength:    10 * time.Second,
	}
}

func (c RecorderConfig) frameDuration() time.Duration {
	return time.Duration(c.FrameSize) * time.Second / time.Duration(c.SampleRate)
}

type Recorder struct {
	cfg RecorderConfig
}

func NewRecorder(cfg RecorderConfig) *Recorder { return &Recorder{cfg: cfg} }

func (r *Recorder) Init() error {
	return portaudio.Initialize()
}

func (r *Recorder) Close() {
	portaudio.Terminate()
}

// RecordAuto records one utterance from the default input: it waits for
// speech to start and stops after a stretch of silence.
func (r *Recorder) RecordAuto() ([]float32, error) {
	buf := make([]float32, r.cfg.FrameSize)

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(r.cfg.SampleRate), len(buf), buf)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, err
	}
	defer stream.Stop()

	seg := newSegmenter(r.cfg)

	for !seg.done() {
		if err := stream.Read(); err != nil {
			return nil, err
		}
		seg.push(buf)
	}

	return seg.result()
}

// segmenter cuts one utterance out of a stream of fixed-size frames.
type segmenter struct {
	cfg RecorderConfig

	out           []float32
	frames        int
	speaking      bool
	silenceFrames int
	finished      bool
}

func newSegmenter(cfg RecorderConfig) *segmenter {
	return &segmenter{cfg: cfg, out: make([]float32, 0, cfg.SampleRate*3)}
}

func (s *segmenter) push(frame []float32) {
	if s.finished {
		return
	}

	s.frames++
	frameDur := s.cfg.frameDuration()
	elapsed := time.Duration(s.frames) * frameDur

	if frameRMS(frame) > s.cfg.SilenceRMS {
		s.speaking = true
		s.silenceFrames = 0
		s.out = append(s.out, frame...)
	} else if s.speaking {
		s.silenceFrames++
		if time.Duration(s.silenceFrames)*frameDur >= s.cfg.Silence {
			s.finished = true
			return
		}
		s.out = append(s.out, frame...)
	} else if elapsed >= s.cfg.StartTimeout {
		s.finished = true
		return
	}

	if elapsed >= s.cfg.MaxLength {
		s.finished = true
	}
}

func (s *segmenter) done() bool {
	return s.finished
}

func (s *segmenter) result() ([]float32, error) {
	if !s.speaking {
		return nil, ErrNoSpeech
	}
	return s.out, nil
}

func frameRMS(f []float32) float64 {
	if len(f) == 0 {
		return 0
	}

	var s float64
	for _, x := range f {
		s += float64(x * x)
	}
	return math.Sqrt(s / float64(len(f)))
}
