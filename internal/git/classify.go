package git

import (
	"strings"

	"github.com/Strob0t/IssueForge/internal/domain/divergence"
)

// Signatures are matched case-insensitively against push stderr. Protected
// signatures are checked first because protection hooks also print the
// generic "[remote rejected]" line.
var (
	protectedSignatures = []string{
		"protected branch",
		"gh006",
		"pre-receive hook declined",
		"cannot force-push",
		"force-push is not allowed",
		"not allowed to force push",
	}
	divergentSignatures = []string{
		"non-fast-forward",
		"(fetch first)",
		"tip of your current branch is behind",
		"updates were rejected because the remote contains work",
		"stale info",
	}
)

// ClassifyPushFailure maps a failed push's stderr onto a closed class. It is
// the only place that inspects push diagnostics text.
func ClassifyPushFailure(stderr string) divergence.Class {
	s := strings.ToLower(stderr)
	for _, sig := range protectedSignatures {
		if strings.Contains(s, sig) {
			return divergence.ClassProtected
		}
	}
	for _, sig := range divergentSignatures {
		if strings.Contains(s, sig) {
			return divergence.ClassDivergent
		}
	}
	return divergence.ClassOther
}
