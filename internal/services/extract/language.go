package extract

import (
	"github.com/abadojack/whatlanggo"
)

const minLanguageChars = 20

// detectLanguage returns the ISO 639-3 code of text, or "" when the sample is
// too short or the detector is not confident.
func detectLanguage(text string) string {
	if len([]rune(text)) < minLanguageChars {
		return ""
	}
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return ""
	}
	return info.Lang.Iso6393()
}
