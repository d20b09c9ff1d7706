// Package stt transcribes 16 kHz mono PCM with whisper.cpp.
package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

var ErrNoAudio = errors.New("stt: no audio samples")

type Options struct {
	Language      string // "auto", "en", ...
	Translate     bool   // translate to English
	Threads       int    // <=0 => NumCPU()
	InitialPrompt string
	BeamSize      int // 0 = greedy
	Temperature   float32
}

func DefaultOptions() Options {
	return Options{Language: "en"}
}

type Segment struct {
	Text     string
	StartSec float64
	EndSec   float64
}

type Result struct {
	Text     string
	Segments []Segment
	Language string // detected or forced
}

// Transcriber owns a loaded model. Calls are serialized because a model is
// too large to run twice at once on a laptop.
type Transcriber struct {
	mu    sync.Mutex
	model whisper.Model
	opt   Options
}

func NewTranscriber(modelPath string, opt Options) (*Transcriber, error) {
	if modelPath == "" {
		return nil, errors.New("empty model path")
	}

	m, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}

	return &Transcriber{model: m, opt: opt}, nil
}

func (t *Transcriber) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.model == nil {
		return nil
	}

	err := t.model.Close()
	t.model = nil

	return err
}

// Transcribe expects mono float32 samples at 16 kHz in [-1, 1].
func (t *Transcriber) Transcribe(ctx context.Context, pcm []float32) (Result, error) {
	if len(pcm) == 0 {
		return Result{}, ErrNoAudio
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.model == nil {
		return Result{}, errors.New("transcriber closed")
	}

	wctx, err := t.model.NewContext()
	if err != nil {
		return Result{}, fmt.Errorf("new context: %w", err)
	}

	if err := configure(wctx, t.opt); err != nil {
		return Result{}, err
	}

	if err := wctx.Process(pcm, nil, nil, nil); err != nil {
		return Result{}, fmt.Errorf("process: %w", err)
	}

	var (
		segs  []Segment
		parts []string
	)
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		s, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("next segment: %w", err)
		}

		segs = append(segs, Segment{
			Text:     s.Text,
			StartSec: s.Start.Seconds(),
			EndSec:   s.End.Seconds(),
		})
		if text := strings.TrimSpace(s.Text); text != "" {
			parts = append(parts, text)
		}
	}

	lang := wctx.DetectedLanguage()
	if lang == "" {
		lang = wctx.Language()
	}

	return Result{
		Text:     strings.Join(parts, " "),
		Segments: segs,
		Language: lang,
	}, nil
}

func configure(wctx whisper.Context, opt Options) error {
	lang := opt.Language
	if lang == "" {
		lang = "auto"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return fmt.Errorf("set language: %w", err)
	}
	wctx.SetTranslate(opt.Translate)

	threads := opt.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	wctx.SetThreads(uint(threads))

	if opt.BeamSize > 0 {
		wctx.SetBeamSize(opt.BeamSize)
	}
	if opt.InitialPrompt != "" {
		wctx.SetInitialPrompt(opt.InitialPrompt)
	}
	if opt.Temperature != 0 {
		wctx.SetTemperature(opt.Temperature)
	}

	return nil
}
