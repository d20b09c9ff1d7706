package tts_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"iris/internal/tts"
)

type recordingSynth struct {
	mu    sync.Mutex
	said  []string
	gate  chan struct{}
	fails bool
}

func (s *recordingSynth) Speak(text string) error {
	if s.gate != nil {
		<-s.gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.said = append(s.said, text)

	if s.fails {
		return errors.New("no audio device")
	}
	return nil
}

func (s *recordingSynth) Said() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.said...)
}

type countingDucker struct {
	mu             sync.Mutex
	ducks, restore int
}

func (d *countingDucker) Duck(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ducks++
	return nil
}

func (d *countingDucker) Restore(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.restore++
	return nil
}

func TestQueue_SpeaksInOrder(t *testing.T) {
	synth := &recordingSynth{}
	q := tts.NewQueue(synth, 8, nil)

	want := []string{"one", "two", "three"}
	for _, s := range want {
		if !q.Speak(s) {
			t.Fatalf("Speak(%q) rejected", s)
		}
	}

	if !q.Close(time.Second) {
		t.Fatal("queue did not drain")
	}

	if got := synth.Said(); !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestQueue_DropsWhenFull(t *testing.T) {
	synth := &recordingSynth{gate: make(chan struct{})}
	q := tts.NewQueue(synth, 1, nil)

	q.Speak("first") // taken by the worker, blocked on the gate
	time.Sleep(20 * time.Millisecond)

	if !q.Speak("second") {
		t.Fatal("backlog slot should accept one item")
	}

	done := make(chan bool)
	go func() { done <- q.Speak("third") }()

	select {
	case accepted := <-done:
		if accepted {
			t.Error("full queue accepted text")
		}
	case <-time.After(time.Second):
		t.Fatal("Speak blocked on a full queue")
	}

	close(synth.gate)
	q.Close(time.Second)

	if got := synth.Said(); len(got) != 2 {
		t.Errorf("spoken: got %v, want first and second", got)
	}
}

func TestQueue_SurvivesSynthFailures(t *testing.T) {
	synth := &recordingSynth{fails: true}
	q := tts.NewQueue(synth, 4, nil)

	q.Speak("a")
	q.Speak("b")
	q.Close(time.Second)

	if got := len(synth.Said()); got != 2 {
		t.Errorf("attempts: got %d, want 2", got)
	}
}

func TestQueue_ClosedRejects(t *testing.T) {
	q := tts.NewQueue(&recordingSynth{}, 4, nil)
	q.Close(time.Second)
	q.Close(time.Second)

	if q.Speak("late") {
		t.Error("closed queue accepted text")
	}
	if q.Speak("") {
		t.Error("empty text accepted")
	}
}

func TestQueue_DucksAroundBursts(t *testing.T) {
	synth := &recordingSynth{gate: make(chan struct{})}
	duck := &countingDucker{}
	q := tts.NewQueue(synth, 4, duck)

	q.Speak("one")
	q.Speak("two")
	close(synth.gate)
	q.Close(time.Second)

	duck.mu.Lock()
	defer duck.mu.Unlock()
	if duck.ducks != duck.restore || duck.ducks < 1 {
		t.Errorf("ducks=%d restores=%d, want equal and non-zero", duck.ducks, duck.restore)
	}
}
