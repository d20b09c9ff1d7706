// Package assistant turns utterances into camera actions, spoken answers and
// chat replies.
package assistant

import (
	"context"
	"fmt"
	log "log/slog"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"

	"iris/internal/nlu"
	"iris/internal/vision"
)

// Camera is the part of the camera session the assistant drives.
type Camera interface {
	Start() bool
	Stop() bool
	StartAnalysis(d vision.Describer, preamble string) bool
	SetAutoNarrate(enabled bool, sink vision.Speaker) bool
	EnableOCR(enabled bool) bool
	IsActive() bool
	IsAnalyzing() bool
	LatestDescription() (string, bool)
	LatestOCRText() (string, bool)
	TakePhoto(path string) bool
}

type Asker interface {
	Ask(ctx context.Context, text string) (string, error)
}

type Assistant struct {
	camera    Camera
	describer vision.Describer
	chat      Asker
	voice     vision.Speaker

	preamble string
	photoDir string
	maxInput int
	settle   time.Duration // pause after enabling analysis so a first sample can land
	clock    clockwork.Clock
}

type Option func(*Assistant)

func WithPreamble(p string) Option {
	return func(a *Assistant) { a.preamble = p }
}

func WithPhotoDir(dir string) Option {
	return func(a *Assistant) { a.photoDir = dir }
}

func WithMaxInput(n int) Option {
	return func(a *Assistant) { a.maxInput = n }
}

func WithSettle(d time.Duration) Option {
	return func(a *Assistant) { a.settle = d }
}

func WithClock(c clockwork.Clock) Option {
	return func(a *Assistant) { a.clock = c }
}

func New(camera Camera, describer vision.Describer, chat Asker, voice vision.Speaker, opts ...Option) *Assistant {
	a := &Assistant{
		camera:    camera,
		describer: describer,
		chat:      chat,
		voice:     voice,
		photoDir:  ".",
		maxInput:  1000,
		settle:    2 * time.Second,
		clock:     clockwork.NewRealClock(),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Handle processes one utterance. It reports true when the user said goodbye.
func (a *Assistant) Handle(ctx context.Context, utterance string) (exit bool) {
	text := strings.TrimSpace(utterance)
	if text == "" {
		return false
	}

	if utf8.RuneCountInString(text) > a.maxInput {
		a.say("Your command is too long. Please try a shorter command.")
		return false
	}

	log.Info("Processing command", "text", preview(text))

	if nlu.IsExit(text) {
		a.say("Goodbye! Have a great day.")
		return true
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("Command handler panicked", "panic", r)
			a.say("Sorry, something went wrong while handling that.")
		}
	}()

	if nlu.IsStatusQuery(text) {
		a.status()
		return false
	}

	if intent, ok := nlu.Match(text); ok {
		log.Debug("Matched intent", "intent", intent)
		a.dispatch(ctx, intent)
		return false
	}

	switch {
	case nlu.IsReadAloud(text):
		a.readAloud()
	case nlu.IsVisionStart(text):
		a.startVision()
	case nlu.Mentions(text, "camera", "see"):
		a.lookAround(ctx)
	case nlu.Mentions(text, "what do you see", "describe"):
		a.describeLatest()
	default:
		a.converse(ctx, text)
	}

	return false
}

func (a *Assistant) dispatch(ctx context.Context, intent nlu.Intent) {
	switch intent {
	case nlu.CameraOn:
		a.cameraOn()
	case nlu.VisionQuery:
		a.visionQuery(ctx)
	case nlu.ReadText:
		a.readText(ctx)
	case nlu.Narrate:
		a.narrate()
	case nlu.StopNarrate:
		a.stopNarrate()
	case nlu.CameraOff:
		a.cameraOff()
	case nlu.TakePhoto:
		a.takePhoto()
	}
}

func (a *Assistant) status() {
	if a.camera.IsActive() {
		a.say("The camera is currently on.")
	} else {
		a.say("The camera is currently off.")
	}
}

func (a *Assistant) cameraOn() {
	a.say("Sure! Opening the camera now.")

	if a.camera.Start() {
		a.say("The camera is now on.")
	} else {
		a.say("I couldn't open the camera.")
	}
}

func (a *Assistant) cameraOff() {
	if !a.camera.IsActive() {
		a.say("The camera is already off.")
		return
	}

	a.camera.Stop()
	a.say("I've turned off the camera.")
}

// ensureCamera starts the camera when needed and reports whether it is on.
func (a *Assistant) ensureCamera() bool {
	if a.camera.IsActive() {
		return true
	}

	a.say("I need to turn on the camera first.")
	if !a.camera.Start() {
		a.say("I couldn't open the camera.")
		return false
	}
	a.say("Camera is now on.")

	return true
}

func (a *Assistant) visionQuery(ctx context.Context) {
	if a.camera.IsActive() {
		a.say("The camera is already on. Let me check what I can see.")
	} else if !a.ensureCamera() {
		return
	}

	if !a.camera.IsAnalyzing() {
		a.say("Enabling my vision capabilities.")
		a.startAnalysis()
		a.wait(ctx)
	}

	if desc, ok := a.camera.LatestDescription(); ok {
		a.say("Through the camera, I can see: " + desc)
	} else {
		a.say("I'm looking through the camera, but I'm still processing what I see. Please ask me again in a moment.")
	}
}

func (a *Assistant) readText(ctx context.Context) {
	if !a.ensureCamera() {
		return
	}

	a.camera.EnableOCR(true)
	a.camera.SetAutoNarrate(true, a.voice)

	if !a.camera.IsAnalyzing() {
		a.say("Enabling my text recognition capabilities.")
		a.startAnalysis()
		a.say("I'll now try to read any text I see through the camera.")
		a.wait(ctx)
	} else {
		a.say("I'll now try to read any text I see through the camera.")
	}

	if text, ok := a.camera.LatestOCRText(); ok {
		a.say("I can read the following text: " + text)
		return
	}

	if desc, ok := a.camera.LatestDescription(); ok && strings.Contains(strings.ToLower(desc), "text") {
		a.say("The AI sees some text: " + desc)
		return
	}

	a.say("I don't see any clear text at the moment. I'll let you know if I recognize any text.")
}

func (a *Assistant) narrate() {
	if !a.ensureCamera() {
		return
	}

	a.camera.SetAutoNarrate(true, a.voice)

	if !a.camera.IsAnalyzing() {
		a.say("Enabling my vision capabilities with auto-narration.")
		a.startAnalysis()
	}

	a.say("I'll now automatically describe what I see through the camera.")
}

func (a *Assistant) stopNarrate() {
	if !a.camera.IsAnalyzing() {
		a.say("I'm not currently narrating anything.")
		return
	}

	a.camera.SetAutoNarrate(false, nil)
	a.say("I've turned off the auto-narration. I'll stop describing what I see.")
}

func (a *Assistant) takePhoto() {
	if !a.ensureCamera() {
		return
	}

	name := fmt.Sprintf("iris-%s.jpg", a.clock.Now().Format("20060102-150405"))
	path := filepath.Join(a.photoDir, name)

	if a.camera.TakePhoto(path) {
		a.say("I've saved a photo as " + name + ".")
	} else {
		a.say("I couldn't save the photo.")
	}
}

func (a *Assistant) lookAround(ctx context.Context) {
	if !a.camera.IsActive() {
		a.say("The camera is not active. Let me turn it on for you.")
		if !a.camera.Start() {
			a.say("I couldn't open the camera.")
			return
		}
		a.say("The camera is now on.")
	}

	if !a.camera.IsAnalyzing() {
		a.say("Activating AI Vision to analyze the camera feed.")
		a.startAnalysis()
		a.wait(ctx)
	}

	a.describeLatest()
}

// readAloud speaks the latest description once, without touching narration.
func (a *Assistant) readAloud() {
	if desc, ok := a.camera.LatestDescription(); ok {
		a.say("I see: " + desc)
	} else {
		a.say("I don't have a clear view of anything yet. Please wait a moment.")
	}
}

func (a *Assistant) startVision() {
	if !a.ensureCamera() {
		return
	}

	if a.camera.IsAnalyzing() {
		a.say("My vision is already active.")
		return
	}

	if a.startAnalysis() {
		a.say("AI vision is now active. I'll analyze what I see.")
	} else {
		a.say("I couldn't start my vision.")
	}
}

func (a *Assistant) describeLatest() {
	if desc, ok := a.camera.LatestDescription(); ok {
		a.say("Here's what I see: " + desc)
	} else {
		a.say("I'm still processing the camera feed. Please ask me again in a moment.")
	}
}

func (a *Assistant) converse(ctx context.Context, text string) {
	reply, err := a.chat.Ask(ctx, text)
	if err != nil {
		log.Error("Failed to call API", "err", err)
		a.say(fmt.Sprintf("Sorry, I encountered an error: %v", err))
		return
	}

	a.say(reply)
}

func (a *Assistant) startAnalysis() bool {
	if !a.camera.StartAnalysis(a.describer, a.preamble) {
		log.Warn("Vision analysis did not start")
		return false
	}
	return true
}

func (a *Assistant) wait(ctx context.Context) {
	if a.settle <= 0 {
		return
	}

	select {
	case <-ctx.Done():
	case <-a.clock.After(a.settle):
	}
}

func (a *Assistant) say(text string) {
	a.voice.Speak(text)
}

func preview(s string) string {
	if r := []rune(s); len(r) > 100 {
		return string(r[:100]) + "..."
	}
	return s
}
