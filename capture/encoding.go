// Package capture turns the live microphone stream into one audio clip
// per speech turn.
package capture

import "strings"

var DefaultEncodings = []string{
	"audio/webm;codecs=opus",
	"audio/ogg;codecs=opus",
	"audio/ogg",
}

const FallbackEncoding = "audio/ogg"

// ChooseEncoding returns the first candidate the recorder supports, or
// fallback when none match.
func ChooseEncoding(candidates []string, supported func(string) bool, fallback string) string {
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c != "" && supported(c) {
			return c
		}
	}
	return fallback
}
