package listen

import (
	"context"
	"errors"
	"testing"
	"time"

	"iris/internal/audio"
)

type fakeRecorder struct {
	pcm []float32
	err error
}

func (r fakeRecorder) RecordAuto() ([]float32, error) { return r.pcm, r.err }

func TestListen(t *testing.T) {
	samples := make([]float32, 1600)

	tests := []struct {
		name    string
		rec     fakeRecorder
		text    string
		trErr   error
		want    string
		wantErr error
	}{
		{"speech", fakeRecorder{pcm: samples}, " Open camera. ", nil, "Open camera.", nil},
		{"markers only", fakeRecorder{pcm: samples}, "[BLANK_AUDIO]", nil, "", ErrNothingHeard},
		{"no speech", fakeRecorder{err: audio.ErrNoSpeech}, "", nil, "", ErrNothingHeard},
		{"empty recording", fakeRecorder{}, "", nil, "", ErrNothingHeard},
		{"transcriber fails", fakeRecorder{pcm: samples}, "", errors.New("model"), "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cued := false
			tr := TranscriberFunc(func(context.Context, []float32) (string, error) { return tt.text, tt.trErr })
			l := New(tt.rec, tr, func() { cued = true }, 0)

			got, err := l.Listen(context.Background())
			if !cued {
				t.Error("cue not played")
			}

			if tt.trErr != nil {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}

			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err: got %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("text: got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCleanTranscript(t *testing.T) {
	tests := map[string]string{
		"  hello   world ":             "hello world",
		"[BLANK_AUDIO]":                "",
		"(music) turn on camera":       "turn on camera",
		"what [inaudible] do you see?": "what do you see?",
	}

	for in, want := range tests {
		if got := cleanTranscript(in); got != want {
			t.Errorf("cleanTranscript(%q) = %q, want %q", in, got, want)
		}
	}
}

// blockingRecorder records until released.
type blockingRecorder struct {
	started chan struct{}
	release chan struct{}
}

func (r *blockingRecorder) RecordAuto() ([]float32, error) {
	close(r.started)
	<-r.release
	return make([]float32, 160), nil
}

func TestListener_OneCallerAtATime(t *testing.T) {
	rec := &blockingRecorder{started: make(chan struct{}), release: make(chan struct{})}
	tr := TranscriberFunc(func(context.Context, []float32) (string, error) { return "hello", nil })
	l := New(rec, tr, nil, time.Second)

	first := make(chan error, 1)
	go func() {
		_, err := l.Listen(context.Background())
		first <- err
	}()
	<-rec.started

	if _, err := l.Listen(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent Listen: got %v, want ErrBusy", err)
	}
	if _, err := l.File(context.Background(), "missing.wav"); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent File: got %v, want ErrBusy", err)
	}

	close(rec.release)
	if err := <-first; err != nil {
		t.Fatalf("first Listen: %v", err)
	}
}

func TestListener_CloseWaitsForRecording(t *testing.T) {
	rec := &blockingRecorder{started: make(chan struct{}), release: make(chan struct{})}
	tr := TranscriberFunc(func(context.Context, []float32) (string, error) { return "hello", nil })
	l := New(rec, tr, nil, time.Second)

	go l.Listen(context.Background())
	<-rec.started

	if l.Close(20 * time.Millisecond) {
		t.Fatal("Close succeeded while recording")
	}

	closed := make(chan bool, 1)
	go func() { closed <- l.Close(time.Second) }()

	select {
	case <-closed:
		t.Fatal("Close returned before the recording ended")
	case <-time.After(20 * time.Millisecond):
	}

	close(rec.release)
	if !<-closed {
		t.Fatal("Close did not take over after the recording ended")
	}

	if _, err := l.Listen(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Listen after Close: got %v, want ErrClosed", err)
	}
}
