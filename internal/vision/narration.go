package vision

import (
	log "log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Speaker receives narration. Speak must not block for long; slow sinks
// should queue.
type Speaker interface {
	Speak(text string)
}

type SpeakerFunc func(text string)

func (f SpeakerFunc) Speak(text string) { f(text) }

// Narrator decides whether an observation is worth saying out loud. New text
// is always spoken; repeated text only once per interval.
type Narrator struct {
	clock    clockwork.Clock
	interval time.Duration

	mu       sync.Mutex
	enabled  bool
	sink     Speaker
	lastText string
	lastTime time.Time
}

const DefaultNarrationInterval = 6 * time.Second

// NewNarrator builds a disabled narrator. A non-positive interval falls back
// to DefaultNarrationInterval.
func NewNarrator(clock clockwork.Clock, interval time.Duration) *Narrator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = DefaultNarrationInterval
	}
	return &Narrator{clock: clock, interval: interval}
}

// SetAutoNarrate toggles narration. A nil sink keeps the previous one.
// Disabling keeps the memory of what was last said.
func (n *Narrator) SetAutoNarrate(enabled bool, sink Speaker) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.enabled = enabled
	if sink != nil {
		n.sink = sink
	}

	log.Debug("Auto narration toggled", "enabled", enabled)
}

func (n *Narrator) Enabled() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.enabled
}

// Consider speaks obs if the policy allows it and reports whether it did.
func (n *Narrator) Consider(obs *Observation) bool {
	if obs == nil {
		return false
	}

	n.mu.Lock()
	if !n.enabled || n.sink == nil {
		n.mu.Unlock()
		return false
	}

	now := n.clock.Now()
	if obs.Description == n.lastText && now.Sub(n.lastTime) < n.interval {
		n.mu.Unlock()
		return false
	}

	n.lastText = obs.Description
	n.lastTime = now
	sink := n.sink
	n.mu.Unlock()

	sink.Speak(Message(obs))

	return true
}

// Last returns what was last narrated and when.
func (n *Narrator) Last() (string, time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastText, n.lastTime
}
