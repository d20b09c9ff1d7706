package tts

import (
	"context"
	log "log/slog"
	"sync"
	"time"

	"iris/pkg/util"
)

// Synth renders text to audio and returns when playback is finished.
type Synth interface {
	Speak(text string) error
}

type SynthFunc func(text string) error

func (f SynthFunc) Speak(text string) error { return f(text) }

// Ducker lowers other audio while the queue is speaking.
type Ducker interface {
	Duck(ctx context.Context) error
	Restore(ctx context.Context) error
}

// Queue plays utterances one at a time on a single worker. Speak never
// blocks; when the backlog is full new text is dropped.
type Queue struct {
	synth Synth
	duck  Ducker

	mu     sync.RWMutex // guards closed against sends on a closed channel
	closed bool
	items  chan string
	done   chan struct{}
}

func NewQueue(synth Synth, size int, duck Ducker) *Queue {
	if size < 1 {
		size = 1
	}

	q := &Queue{
		synth: synth,
		duck:  duck,
		items: make(chan string, size),
		done:  make(chan struct{}),
	}

	go q.worker()

	return q
}

// Speak enqueues text and reports whether it was accepted.
func (q *Queue) Speak(text string) bool {
	if text == "" {
		return false
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		log.Debug("Speech queue closed, dropping", "text", text)
		return false
	}

	select {
	case q.items <- text:
		return true
	default:
		log.Warn("Speech queue full, dropping", "text", text)
		return false
	}
}

// Say is Speak without the result, for use as a fire-and-forget sink.
func (q *Queue) Say(text string) {
	q.Speak(text)
}

// Close stops accepting text and waits up to timeout for the backlog to be
// spoken.
func (q *Queue) Close(timeout time.Duration) bool {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.items)
	}
	q.mu.Unlock()

	return util.WaitTimeout(q.done, timeout)
}

func (q *Queue) worker() {
	defer close(q.done)

	ducked := false

	for text := range q.items {
		if q.duck != nil && !ducked {
			if err := q.duck.Duck(context.Background()); err != nil {
				log.Warn("Failed to duck other audio", "err", err)
			}
			ducked = true
		}

		q.say(text)

		if ducked && len(q.items) == 0 {
			if err := q.duck.Restore(context.Background()); err != nil {
				log.Warn("Failed to restore other audio", "err", err)
			}
			ducked = false
		}
	}
}

func (q *Queue) say(text string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Speech synthesis panicked", "panic", r)
		}
	}()

	log.Info("Speaking", "text", text)

	if err := q.synth.Speak(text); err != nil {
		log.Error("Failed to voice out", "err", err)
	}
}
