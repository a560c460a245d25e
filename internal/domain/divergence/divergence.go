// Package divergence defines push outcomes and push failure classes.
package divergence

// State is the outcome of a push attempt.
type State string

const (
	StateAccepted          State = "accepted"
	StateRejectedDivergent State = "rejected-divergent"
	StateRejectedOther     State = "rejected-other"
)

// Class is the classification of a failed push's diagnostic output.
type Class string

const (
	ClassDivergent Class = "divergent"
	ClassProtected Class = "protected"
	ClassOther     Class = "other"
)

// StateFor maps a failure class onto the push state. Only divergent
// failures are candidates for resolution.
func StateFor(c Class) State {
	if c == ClassDivergent {
		return StateRejectedDivergent
	}
	return StateRejectedOther
}

// AuthorizeFlag is the CLI flag that authorizes a conditional force push.
const AuthorizeFlag = "--allow-force-push-with-lease"
