// Package transcript cleans up raw recognizer output before it is injected
// as keystrokes.
//
// Whisper-style models stutter under marginal audio (repeated words at
// segment boundaries) and emit non-speech annotations such as "[BLANK_AUDIO]",
// "(music)" or "{applause}". Normalize removes both so the injected text
// reads like something a person typed.
package transcript

import (
	"regexp"
	"strings"
)

// annotationRE matches bracketed, braced, and parenthesized annotations.
// Non-greedy, so adjacent annotations are removed independently; nesting is
// not handled (the models do not produce it).
var annotationRE = regexp.MustCompile(`\[.*?\]|\{.*?\}|\(.*?\)`)

// Normalize post-processes recognized text: trims surrounding whitespace,
// collapses immediately repeated words, strips non-speech annotations, and
// reduces any remaining whitespace runs to single spaces. The comparison for
// repeated words is exact, so "New new" is left alone while "new new" loses
// the duplicate.
func Normalize(text string) string {
	words := strings.Fields(strings.TrimSpace(text))
	deduped := words[:0]
	for _, w := range words {
		if n := len(deduped); n > 0 && deduped[n-1] == w {
			continue
		}
		deduped = append(deduped, w)
	}
	out := strings.Join(deduped, " ")

	out = annotationRE.ReplaceAllString(out, "")

	// Removing an annotation mid-sentence leaves a double space behind.
	return strings.Join(strings.Fields(out), " ")
}
