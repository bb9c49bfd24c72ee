// Package langdetect identifies the language of completed transcript text so
// the UI can label multilingual conversations.
package langdetect

import (
	"strings"
	"sync"

	"github.com/pemistahl/lingua-go"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// minLength is the shortest text worth classifying; shorter fragments give
// unreliable results.
const minLength = 4

// Detector classifies text into ISO 639-1 language codes.
type Detector struct {
	once     sync.Once
	detector lingua.LanguageDetector
}

// New creates a detector. The statistical models load lazily on first use,
// keeping session startup fast.
func New() *Detector {
	return &Detector{}
}

// Detect returns the lowercase ISO 639-1 code for text, or ok=false when the
// text is too short or no language is confidently identified.
func (d *Detector) Detect(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if len(text) < minLength {
		return "", false
	}

	d.once.Do(func() {
		d.detector = lingua.NewLanguageDetectorBuilder().
			FromAllSpokenLanguages().
			WithLowAccuracyMode().
			Build()
	})

	lang, ok := d.detector.DetectLanguageOf(text)
	if !ok {
		return "", false
	}
	return strings.ToLower(lang.IsoCode639_1().String()), true
}

// DisplayName renders a detected code as an English language name, e.g.
// "de" becomes "German". Unknown codes return the input unchanged.
func DisplayName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	name := display.English.Languages().Name(tag)
	if name == "" {
		return code
	}
	return name
}
