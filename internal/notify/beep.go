// Package notify gives audible and visual cues that Iris is listening.
package notify

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
)

var (
	speakerOnce sync.Once
	speakerRate beep.SampleRate
	speakerErr  error
)

// Beep plays an mp3 cue and blocks until it has finished.
func Beep(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open cue: %w", err)
	}

	streamer, format, err := mp3.Decode(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("decode cue: %w", err)
	}
	defer streamer.Close()

	speakerOnce.Do(func() {
		speakerRate = format.SampleRate
		speakerErr = speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10))
	})
	if speakerErr != nil {
		return fmt.Errorf("init speaker: %w", speakerErr)
	}

	var s beep.Streamer = streamer
	if format.SampleRate != speakerRate {
		s = beep.Resample(4, format.SampleRate, speakerRate, streamer)
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(s, beep.Callback(func() {
		close(done)
	})))
	<-done

	return nil
}

// SwayNotify shows a desktop notification through notify-send.
func SwayNotify(message string) error {
	cmd := exec.Command("notify-send", "--app-name=iris", "--expire-time=2000", "Iris", message)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("notify-send: %w (%s)", err, out)
	}
	return nil
}
