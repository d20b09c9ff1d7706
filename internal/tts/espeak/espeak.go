// Package espeak speaks text through libespeak-ng.
package espeak

/*
#cgo LDFLAGS: -lespeak-ng
#include <stdlib.h>
#include <espeak-ng/speak_lib.h>

int
espeak_say(const char *text, const char *lang)
{
	if (!text || !lang)
	{ return -1; }

	if (espeak_Initialize(AUDIO_OUTPUT_SYNCH_PLAYBACK, 500, NULL, 0) < 0)
	{ return -2; }

	espeak_VOICE specs = { 0 };
	specs.languages = lang;
	espeak_SetVoiceByProperties(&specs);

	espeak_Synth(text, 0, 0, POS_CHARACTER, 0, espeakCHARS_AUTO, NULL, NULL);
	espeak_Synchronize();
	espeak_Terminate();

	return 0;
}
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// Espeak speaks through libespeak-ng and blocks until playback ends.
type Espeak struct {
	Language string
}

func (e Espeak) Speak(text string) error {
	lang := e.Language
	if lang == "" {
		lang = "en"
	}
	return Speak(text, lang)
}

func Speak(text, lang string) error {
	if text == "" {
		return nil
	}

	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))

	clang := C.CString(lang)
	defer C.free(unsafe.Pointer(clang))

	rc := C.espeak_say(ctext, clang)
	if rc != 0 {
		return fmt.Errorf("espeak_say failed: %d", int(rc))
	}

	return nil
}
