// Package nlu maps utterances to assistant intents by keyword containment.
package nlu

import "strings"

type Intent string

const (
	None        Intent = ""
	CameraOn    Intent = "camera-on"
	VisionQuery Intent = "vision-query"
	ReadText    Intent = "read-text"
	Narrate     Intent = "narrate"
	StopNarrate Intent = "stop-narrate"
	CameraOff   Intent = "camera-off"
	TakePhoto   Intent = "take-photo"
)

type rule struct {
	intent   Intent
	keywords []string
}

// rules are checked in order; the first intent with a matching keyword wins.
var rules = []rule{
	{CameraOn, []string{"open camera", "turn on camera", "start camera", "show camera"}},
	{VisionQuery, []string{
		"see what's happening", "see what happened", "describe what you see",
		"access the camera", "what do you see", "look through the camera",
		"camera vision", "see what's going on", "what is happening",
	}},
	{ReadText, []string{
		"read text", "read what it says", "what does it say",
		"can you read", "read the text", "read the camera",
		"make the ai read", "read what you see", "read about it",
		"i need you to read this on the camera", "read this in the camera",
	}},
	{Narrate, []string{
		"talk about what you see", "narrate what you see",
		"tell me what you see", "describe the camera",
		"make the ai talk", "talk what you see",
		"speak what you see", "voice what you see",
	}},
	{StopNarrate, []string{
		"stop talking", "stop narrating", "stop describing",
		"stop telling me", "be quiet", "silence",
		"stop auto narration", "turn off narration",
	}},
	{CameraOff, []string{"close camera", "turn off camera", "stop camera", "hide camera"}},
	{TakePhoto, []string{"take a photo", "take a picture", "take photo", "snap a picture", "capture photo"}},
}

var (
	statusKeywords      = []string{"check camera", "camera status"}
	exitKeywords        = []string{"quit", "exit", "goodbye"}
	readAloudKeywords   = []string{"read it aloud", "read that aloud", "read aloud", "say what you see"}
	visionStartKeywords = []string{"start vision", "enable vision", "activate vision", "turn on vision"}
)

// Match returns the first intent whose keyword occurs in the utterance,
// ignoring case.
func Match(utterance string) (Intent, bool) {
	lower := strings.ToLower(utterance)

	for _, r := range rules {
		if containsAny(lower, r.keywords) {
			return r.intent, true
		}
	}

	return None, false
}

// IsStatusQuery reports whether the user asks if the camera is on.
func IsStatusQuery(utterance string) bool {
	return containsAny(strings.ToLower(utterance), statusKeywords)
}

// IsExit reports whether the utterance ends the conversation.
func IsExit(utterance string) bool {
	return containsAny(strings.ToLower(utterance), exitKeywords)
}

// IsReadAloud reports whether the user wants the latest view spoken once.
func IsReadAloud(utterance string) bool {
	return containsAny(strings.ToLower(utterance), readAloudKeywords)
}

// IsVisionStart reports whether the user only asks to switch vision on.
func IsVisionStart(utterance string) bool {
	return containsAny(strings.ToLower(utterance), visionStartKeywords)
}

// Mentions reports whether any of words occurs in the utterance, ignoring case.
func Mentions(utterance string, words ...string) bool {
	return containsAny(strings.ToLower(utterance), words)
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
