// Package messagequeue defines the message queue port (interface).
package messagequeue

import (
	"context"
	"strconv"
	"strings"
)

// Handler processes a message received from the queue.
// The context carries request-scoped values such as the session ID.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	// Pending messages are processed; no new messages are accepted.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject prefixes used by IssueForge.
const (
	// SubjectSessionEvent carries lifecycle events: sessions.event.{session_id}.
	SubjectSessionEvent = "sessions.event"
	// SubjectSessionNudge wakes a watching session early:
	// sessions.nudge.{owner}.{repo}.{pull_number}. Webhook bridges publish here.
	SubjectSessionNudge = "sessions.nudge"
)

// EventSubject returns the event subject for a session.
func EventSubject(sessionID string) string {
	return SubjectSessionEvent + "." + token(sessionID)
}

// NudgeSubject returns the nudge subject for a pull request.
func NudgeSubject(owner, repo string, pull int) string {
	return SubjectSessionNudge + "." + token(owner) + "." + token(repo) + "." + strconv.Itoa(pull)
}

// token makes s safe as a single subject token.
func token(s string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
}
