// Package vision samples camera frames, asks a remote model to describe
// them and narrates the results.
package vision

import (
	"strings"
	"time"

	"iris/internal/camera"
)

const (
	ocrPrompt   = "What text do you see in this image from my camera? Read any visible text. If no text is visible, briefly describe what you see instead."
	plainPrompt = "What do you see in this image from my camera? Please describe what's happening briefly."
)

var textMarkers = []string{"text", "says", "reads", "written"}

// Observation is an immutable analysis result. It is replaced as a whole,
// never updated in place.
type Observation struct {
	Timestamp   time.Time
	Description string
	Regions     []camera.Region
	OCRText     string
	OCRMode     bool // OCR was enabled when the frame was described
}

// HasTextMarker reports whether a description looks like it contains read text.
func HasTextMarker(description string) bool {
	lower := strings.ToLower(description)
	for _, m := range textMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func Prompt(ocr bool) string {
	if ocr {
		return ocrPrompt
	}
	return plainPrompt
}

// Message builds the sentence spoken for an observation.
func Message(obs *Observation) string {
	if !obs.OCRMode {
		return "I see: " + obs.Description
	}
	if HasTextMarker(obs.Description) {
		return "I can read: " + obs.Description
	}
	return "I don't see any clear text. " + obs.Description
}
