// Package listen turns microphone input and recorded files into text.
package listen

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"strings"
	"sync/atomic"
	"time"

	"iris/internal/audio"
	"iris/pkg/audioconv"
)

var (
	// ErrNothingHeard means no words were recognized.
	ErrNothingHeard = errors.New("listen: nothing heard")

	// ErrBusy is returned while another recording or transcription runs.
	ErrBusy = errors.New("listen: already listening")

	ErrClosed = errors.New("listen: closed")
)

type Recorder interface {
	RecordAuto() ([]float32, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, pcm []float32) (string, error)
}

type TranscriberFunc func(ctx context.Context, pcm []float32) (string, error)

func (f TranscriberFunc) Transcribe(ctx context.Context, pcm []float32) (string, error) {
	return f(ctx, pcm)
}

// Listener lets one caller at a time use the microphone and the model.
type Listener struct {
	rec     Recorder
	tr      Transcriber
	cue     func()
	timeout time.Duration

	busy   chan struct{} // holds a token while audio is in use
	closed atomic.Bool
}

// New builds a Listener. cue runs right before recording starts and may be nil.
func New(rec Recorder, tr Transcriber, cue func(), timeout time.Duration) *Listener {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Listener{rec: rec, tr: tr, cue: cue, timeout: timeout, busy: make(chan struct{}, 1)}
}

// Listen records one utterance from the microphone and transcribes it.
func (l *Listener) Listen(ctx context.Context) (string, error) {
	if err := l.acquire(); err != nil {
		return "", err
	}
	defer l.release()

	if l.cue != nil {
		l.cue()
	}

	log.Info("Listening...")

	pcm, err := l.rec.RecordAuto()
	if errors.Is(err, audio.ErrNoSpeech) {
		return "", ErrNothingHeard
	}
	if err != nil {
		return "", fmt.Errorf("record: %w", err)
	}

	log.Debug("Recorded", "samples", len(pcm))

	return l.transcribe(ctx, pcm)
}

// File transcribes a recorded wav, mp3 or ogg file.
func (l *Listener) File(ctx context.Context, path string) (string, error) {
	if err := l.acquire(); err != nil {
		return "", err
	}
	defer l.release()

	pcm, err := audioconv.DecodeFile(ctx, path, audioconv.Options{
		MaxSamples: int(l.timeout.Seconds()) * audioconv.TargetRate,
	})
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", path, err)
	}

	return l.transcribe(ctx, pcm)
}

// Close waits up to timeout for a running recording or transcription and
// rejects every later call. It reports false when the wait timed out, in
// which case the recorder and transcriber are still in use and must not be
// released.
func (l *Listener) Close(timeout time.Duration) bool {
	l.closed.Store(true)

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case l.busy <- struct{}{}:
		// the token is never returned
		return true
	case <-t.C:
		log.Warn("Listener still busy, leaving audio devices open", "timeout", timeout)
		return false
	}
}

func (l *Listener) acquire() error {
	if l.closed.Load() {
		return ErrClosed
	}

	select {
	case l.busy <- struct{}{}:
	default:
		return ErrBusy
	}

	if l.closed.Load() {
		<-l.busy
		return ErrClosed
	}

	return nil
}

func (l *Listener) release() {
	<-l.busy
}

func (l *Listener) transcribe(ctx context.Context, pcm []float32) (string, error) {
	if len(pcm) == 0 {
		return "", ErrNothingHeard
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	text, err := l.tr.Transcribe(ctx, pcm)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}

	text = cleanTranscript(text)
	if text == "" {
		return "", ErrNothingHeard
	}

	log.Info("Transcribed", "text", text)

	return text, nil
}

// cleanTranscript drops whisper's non-speech markers such as [BLANK_AUDIO]
// or (music).
func cleanTranscript(s string) string {
	var b strings.Builder
	depth := 0

	for _, r := range s {
		switch r {
		case '[', '(':
			depth++
		case ']', ')':
			if depth > 0 {
				depth--
			}
		default:
			if depth == 0 {
				b.WriteRune(r)
			}
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}
