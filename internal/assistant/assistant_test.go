package assistant

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"

	"iris/internal/vision"
)

type fakeCamera struct {
	startOK   bool
	active    bool
	analyzing bool
	narrating bool
	ocr       bool
	desc      string
	ocrText   string
	photos    []string
	photoOK   bool
	calls     []string
}

func (c *fakeCamera) Start() bool {
	c.calls = append(c.calls, "start")
	if c.startOK {
		c.active = true
	}
	return c.startOK
}

func (c *fakeCamera) Stop() bool {
	c.calls = append(c.calls, "stop")
	c.active, c.analyzing = false, false
	return true
}

func (c *fakeCamera) StartAnalysis(d vision.Describer, preamble string) bool {
	c.calls = append(c.calls, "analyze")
	if !c.active || c.analyzing || d == nil {
		return false
	}
	c.analyzing = true
	return true
}

func (c *fakeCamera) SetAutoNarrate(enabled bool, _ vision.Speaker) bool {
	c.narrating = enabled
	return true
}

func (c *fakeCamera) EnableOCR(enabled bool) bool {
	c.ocr = enabled
	return true
}

func (c *fakeCamera) IsActive() bool    { return c.active }
func (c *fakeCamera) IsAnalyzing() bool { return c.analyzing }

func (c *fakeCamera) LatestDescription() (string, bool) { return c.desc, c.desc != "" }
func (c *fakeCamera) LatestOCRText() (string, bool)     { return c.ocrText, c.ocrText != "" }

func (c *fakeCamera) TakePhoto(path string) bool {
	c.photos = append(c.photos, path)
	return c.photoOK
}

type voice struct{ lines []string }

func (v *voice) Speak(text string) { v.lines = append(v.lines, text) }

type asker struct {
	reply string
	err   error
	asked []string
}

func (a *asker) Ask(_ context.Context, text string) (string, error) {
	a.asked = append(a.asked, text)
	return a.reply, a.err
}

var nopDescriber = vision.DescriberFunc(func(context.Context, []byte, string, string) (string, error) {
	return "", nil
})

func newTestAssistant(cam *fakeCamera, chat *asker) (*Assistant, *voice) {
	v := &voice{}
	clock := clockwork.NewFakeClockAt(mustTime("2026-03-01T10:20:30Z"))
	a := New(cam, nopDescriber, chat, v, WithSettle(0), WithClock(clock), WithPhotoDir("/tmp/photos"))
	return a, v
}

func TestHandle(t *testing.T) {
	tests := []struct {
		name  string
		cam   fakeCamera
		input string
		want  []string
		check func(t *testing.T, c *fakeCamera)
	}{
		{
			name:  "camera on",
			cam:   fakeCamera{startOK: true},
			input: "Open camera",
			want:  []string{"Sure! Opening the camera now.", "The camera is now on."},
		},
		{
			name:  "camera on fails",
			cam:   fakeCamera{},
			input: "start camera",
			want:  []string{"Sure! Opening the camera now.", "I couldn't open the camera."},
		},
		{
			name:  "status",
			cam:   fakeCamera{active: true},
			input: "camera status",
			want:  []string{"The camera is currently on."},
		},
		{
			name:  "vision query starts everything",
			cam:   fakeCamera{startOK: true},
			input: "what do you see",
			want: []string{
				"I need to turn on the camera first.",
				"Camera is now on.",
				"Enabling my vision capabilities.",
				"I'm looking through the camera, but I'm still processing what I see. Please ask me again in a moment.",
			},
			check: func(t *testing.T, c *fakeCamera) {
				if !c.analyzing {
					t.Error("analysis not started")
				}
			},
		},
		{
			name:  "vision query with description",
			cam:   fakeCamera{active: true, analyzing: true, desc: "A person waving"},
			input: "describe what you see",
			want: []string{
				"The camera is already on. Let me check what I can see.",
				"Through the camera, I can see: A person waving",
			},
		},
		{
			name:  "vision query without camera",
			cam:   fakeCamera{},
			input: "what is happening",
			want:  []string{"I need to turn on the camera first.", "I couldn't open the camera."},
			check: func(t *testing.T, c *fakeCamera) {
				for _, call := range c.calls {
					if call == "analyze" {
						t.Error("analysis attempted without a camera")
					}
				}
			},
		},
		{
			name:  "read text with OCR result",
			cam:   fakeCamera{active: true, analyzing: true, ocrText: "The sign says EXIT"},
			input: "can you read this",
			want: []string{
				"I'll now try to read any text I see through the camera.",
				"I can read the following text: The sign says EXIT",
			},
			check: func(t *testing.T, c *fakeCamera) {
				if !c.ocr || !c.narrating {
					t.Error("OCR and narration should be enabled")
				}
			},
		},
		{
			name:  "read text falls back to description",
			cam:   fakeCamera{active: true, desc: "Some text on a board"},
			input: "read the text",
			want: []string{
				"Enabling my text recognition capabilities.",
				"I'll now try to read any text I see through the camera.",
				"The AI sees some text: Some text on a board",
			},
		},
		{
			name:  "read text nothing found",
			cam:   fakeCamera{active: true, analyzing: true, desc: "A cat"},
			input: "read text",
			want: []string{
				"I'll now try to read any text I see through the camera.",
				"I don't see any clear text at the moment. I'll let you know if I recognize any text.",
			},
		},
		{
			name:  "narrate",
			cam:   fakeCamera{active: true},
			input: "narrate what you see",
			want: []string{
				"Enabling my vision capabilities with auto-narration.",
				"I'll now automatically describe what I see through the camera.",
			},
			check: func(t *testing.T, c *fakeCamera) {
				if !c.narrating || !c.analyzing {
					t.Error("narration and analysis should be on")
				}
			},
		},
		{
			name:  "stop narrate",
			cam:   fakeCamera{active: true, analyzing: true, narrating: true},
			input: "be quiet",
			want:  []string{"I've turned off the auto-narration. I'll stop describing what I see."},
			check: func(t *testing.T, c *fakeCamera) {
				if c.narrating {
					t.Error("narration still on")
				}
			},
		},
		{
			name:  "stop narrate when idle",
			cam:   fakeCamera{},
			input: "stop narrating",
			want:  []string{"I'm not currently narrating anything."},
		},
		{
			name:  "camera off",
			cam:   fakeCamera{active: true, analyzing: true},
			input: "turn off camera",
			want:  []string{"I've turned off the camera."},
		},
		{
			name:  "camera already off",
			cam:   fakeCamera{},
			input: "close camera",
			want:  []string{"The camera is already off."},
		},
		{
			name:  "take photo",
			cam:   fakeCamera{active: true, photoOK: true},
			input: "take a photo",
			want:  []string{"I've saved a photo as iris-20260301-102030.jpg."},
			check: func(t *testing.T, c *fakeCamera) {
				if len(c.photos) != 1 || c.photos[0] != "/tmp/photos/iris-20260301-102030.jpg" {
					t.Errorf("photos: got %v", c.photos)
				}
			},
		},
		{
			name:  "take photo fails",
			cam:   fakeCamera{active: true},
			input: "snap a picture",
			want:  []string{"I couldn't save the photo."},
		},
		{
			name:  "generic camera mention",
			cam:   fakeCamera{startOK: true},
			input: "use the camera",
			want: []string{
				"The camera is not active. Let me turn it on for you.",
				"The camera is now on.",
				"Activating AI Vision to analyze the camera feed.",
				"I'm still processing the camera feed. Please ask me again in a moment.",
			},
		},
		{
			name:  "describe",
			cam:   fakeCamera{active: true, analyzing: true, desc: "A mug"},
			input: "describe it",
			want:  []string{"Here's what I see: A mug"},
		},
		{
			name:  "read aloud",
			cam:   fakeCamera{active: true, analyzing: true, desc: "A plant on a shelf"},
			input: "read it aloud",
			want:  []string{"I see: A plant on a shelf"},
			check: func(t *testing.T, c *fakeCamera) {
				if c.narrating {
					t.Error("reading aloud turned narration on")
				}
			},
		},
		{
			name:  "read aloud without a view",
			cam:   fakeCamera{},
			input: "say what you see",
			want:  []string{"I don't have a clear view of anything yet. Please wait a moment."},
		},
		{
			name:  "start vision",
			cam:   fakeCamera{active: true},
			input: "activate vision",
			want:  []string{"AI vision is now active. I'll analyze what I see."},
			check: func(t *testing.T, c *fakeCamera) {
				if !c.analyzing {
					t.Error("analysis not started")
				}
			},
		},
		{
			name:  "start vision when already on",
			cam:   fakeCamera{active: true, analyzing: true},
			input: "enable vision",
			want:  []string{"My vision is already active."},
		},
		{
			name:  "start vision opens the camera",
			cam:   fakeCamera{startOK: true},
			input: "start vision",
			want: []string{
				"I need to turn on the camera first.",
				"Camera is now on.",
				"AI vision is now active. I'll analyze what I see.",
			},
		},
		{
			name:  "too long",
			cam:   fakeCamera{},
			input: strings.Repeat("a", 1001),
			want:  []string{"Your command is too long. Please try a shorter command."},
		},
		{
			name:  "too long in characters",
			cam:   fakeCamera{},
			input: strings.Repeat("é", 1001),
			want:  []string{"Your command is too long. Please try a shorter command."},
		},
		{
			name:  "blank",
			cam:   fakeCamera{},
			input: "   ",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cam := tt.cam
			a, v := newTestAssistant(&cam, &asker{})

			if exit := a.Handle(context.Background(), tt.input); exit {
				t.Fatal("unexpected exit")
			}

			if len(v.lines) != len(tt.want) {
				t.Fatalf("spoken:\n got %q\nwant %q", v.lines, tt.want)
			}
			for i := range tt.want {
				if v.lines[i] != tt.want[i] {
					t.Errorf("line %d: got %q, want %q", i, v.lines[i], tt.want[i])
				}
			}

			if tt.check != nil {
				tt.check(t, &cam)
			}
		})
	}
}

func TestHandle_Exit(t *testing.T) {
	a, v := newTestAssistant(&fakeCamera{}, &asker{})

	if !a.Handle(context.Background(), "Goodbye Iris") {
		t.Fatal("goodbye should end the session")
	}
	if len(v.lines) != 1 || v.lines[0] != "Goodbye! Have a great day." {
		t.Errorf("spoken: got %q", v.lines)
	}
}

func TestHandle_Conversation(t *testing.T) {
	chat := &asker{reply: "It's sunny."}
	a, v := newTestAssistant(&fakeCamera{}, chat)

	a.Handle(context.Background(), "  how is the weather  ")

	if len(chat.asked) != 1 || chat.asked[0] != "how is the weather" {
		t.Errorf("asked: got %q", chat.asked)
	}
	if len(v.lines) != 1 || v.lines[0] != "It's sunny." {
		t.Errorf("spoken: got %q", v.lines)
	}

	chat.err = errors.New("timeout")
	a.Handle(context.Background(), "tell me a joke")

	if got := v.lines[len(v.lines)-1]; got != "Sorry, I encountered an error: timeout" {
		t.Errorf("error reply: got %q", got)
	}
}

func mustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestHandle_LengthCountsCharacters(t *testing.T) {
	chat := &asker{reply: "Très bien."}
	a, v := newTestAssistant(&fakeCamera{}, chat)

	// 1000 characters, 2000 bytes
	a.Handle(context.Background(), strings.Repeat("é", 1000))

	if len(chat.asked) != 1 {
		t.Fatalf("a 1000 character command was rejected, spoken %q", v.lines)
	}
}

func TestPreviewKeepsRunesWhole(t *testing.T) {
	got := preview(strings.Repeat("é", 150))

	if !utf8.ValidString(got) {
		t.Fatalf("preview split a rune: %q", got)
	}
	if want := strings.Repeat("é", 100) + "..."; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if preview("short") != "short" {
		t.Error("short text was changed")
	}
}
