package command

import (
	"encoding/json"
	"regexp"
	"strings"
)

// resetPattern captures a 12-hour reset time with an optional zone, e.g.
// "resets 5am", "resets at 11:45 PM (Europe/Berlin)".
var resetPattern = regexp.MustCompile(`(?i)resets?\s+(?:at\s+)?(\d{1,2}(?::\d{2})?\s*[ap]m(?:\s*\([A-Za-z_+\-]+(?:/[A-Za-z_+\-]+)*\))?)`)

// limitPhrases mark a usage-window exhaustion report.
var limitPhrases = []string{
	"usage limit reached",
	"limit reached",
	"usage limit exceeded",
	"rate limit exceeded",
	"limit will reset",
}

// transientSignatures are recoverable service-unavailable class failures.
var transientSignatures = []string{
	"503",
	"529",
	"service unavailable",
	"overloaded",
	"econnreset",
	"etimedout",
	"socket hang up",
	"connection reset",
	"timed out",
}

// detectLimit reports whether line announces an exhausted usage window and
// the reset time text, if the line carries one.
func detectLimit(line string) (reset string, ok bool) {
	low := strings.ToLower(line)
	for _, p := range limitPhrases {
		if strings.Contains(low, p) {
			ok = true
			break
		}
	}
	if !ok {
		return "", false
	}
	if m := resetPattern.FindStringSubmatch(line); m != nil {
		reset = strings.TrimSpace(m[1])
	}
	return reset, true
}

func isTransient(line string) bool {
	low := strings.ToLower(line)
	for _, sig := range transientSignatures {
		if strings.Contains(low, sig) {
			return true
		}
	}
	return false
}

// sessionIDFromLine extracts "session_id" from a JSON event line.
func sessionIDFromLine(line string) string {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") || !strings.Contains(line, `"session_id"`) {
		return ""
	}
	var ev struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return ""
	}
	return ev.SessionID
}
