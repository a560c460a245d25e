package service

import (
	"strings"
	"unicode"
)

// maxPromptInput bounds any single piece of external text placed in the
// marker or prompt.
const maxPromptInput = 10000

// maxTitleLen bounds pull request titles copied from issues.
const maxTitleLen = 256

// roleMarkers are line prefixes that could make embedded text read as an
// instruction to the agent.
var roleMarkers = []string{
	"system:", "assistant:", "user:", "[system]", "[assistant]",
	"<|system|>", "<|assistant|>", "<|im_start|>",
	"### system", "### assistant", "### instruction",
}

// sanitizePromptInput strips control characters, neutralizes role markers at
// line starts and truncates oversized text.
func sanitizePromptInput(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || r == '\r' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(strings.ToLower(line))
		for _, prefix := range roleMarkers {
			if strings.HasPrefix(trimmed, prefix) {
				lines[i] = "[sanitized] " + line
				break
			}
		}
	}
	s = strings.Join(lines, "\n")

	if len(s) > maxPromptInput {
		s = s[:maxPromptInput] + "\n[truncated]"
	}
	return s
}

// sanitizeTitle collapses an issue title to a single printable line.
func sanitizeTitle(s string) string {
	s = strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}), " ")
	if r := []rune(s); len(r) > maxTitleLen {
		s = string(r[:maxTitleLen-1]) + "…"
	}
	return s
}
