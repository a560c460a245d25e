package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/Strob0t/IssueForge/internal/adapter/ws"
	"github.com/Strob0t/IssueForge/internal/domain/session"
	"github.com/Strob0t/IssueForge/internal/port/broadcast"
	"github.com/Strob0t/IssueForge/internal/port/messagequeue"
)

// Session event types.
const (
	EventStarted  = "started"
	EventState    = "state"
	EventLimit    = "limit"
	EventRetry    = "retry"
	EventFeedback = "feedback"
	EventFinished = "finished"
)

// Status is the latest known state of the running session.
type Status struct {
	SessionID   string              `json:"session_id"`
	Target      string              `json:"target"`
	State       string              `json:"state"`
	Branch      string              `json:"branch,omitempty"`
	Pull        int                 `json:"pull,omitempty"`
	Iteration   int                 `json:"iteration"`
	Termination session.Termination `json:"termination,omitempty"`
	ResetAt     time.Time           `json:"reset_at,omitzero"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// Events fans session lifecycle events out to the message queue and
// connected status clients. Both sinks are optional.
type Events struct {
	queue messagequeue.Queue
	hub   broadcast.Broadcaster

	mu     sync.RWMutex
	status Status
}

// NewEvents creates an event publisher. queue and hub may be nil.
func NewEvents(queue messagequeue.Queue, hub broadcast.Broadcaster) *Events {
	return &Events{queue: queue, hub: hub}
}

// SetBroadcaster attaches the status hub once the status server exists.
func (e *Events) SetBroadcaster(hub broadcast.Broadcaster) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hub = hub
}

// Emit records the session's state and publishes an event. Publish failures
// are logged and never fail the session.
func (e *Events) Emit(ctx context.Context, sess *session.Session, typ, state, detail string) {
	if e == nil {
		return
	}
	now := time.Now().UTC()
	payload := messagequeue.SessionEventPayload{
		SessionID:   sess.ID,
		Type:        typ,
		Issue:       sess.Issue.String(),
		Pull:        sess.PullNumber(),
		State:       state,
		Iteration:   sess.Iteration,
		Termination: string(sess.Termination),
		Detail:      detail,
		Timestamp:   now,
	}
	if sess.Branch != nil {
		payload.Branch = sess.Branch.Name
	}

	e.mu.Lock()
	e.status = Status{
		SessionID:   sess.ID,
		Target:      payload.Issue,
		State:       state,
		Branch:      payload.Branch,
		Pull:        payload.Pull,
		Iteration:   sess.Iteration,
		Termination: sess.Termination,
		ResetAt:     sess.ResetAt,
		UpdatedAt:   now,
	}
	hub := e.hub
	e.mu.Unlock()

	if hub != nil {
		hub.BroadcastEvent(ctx, ws.EventSessionEvent, payload)
	}
	if e.queue == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.WarnContext(ctx, "marshal session event", "error", err)
		return
	}
	if err := e.queue.Publish(ctx, messagequeue.EventSubject(sess.ID), data); err != nil {
		slog.WarnContext(ctx, "publish session event", "type", typ, "error", err)
	}
}

// Snapshot returns the latest status.
func (e *Events) Snapshot() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// SnapshotMessage renders the status as the first message for new
// WebSocket clients.
func (e *Events) SnapshotMessage() *ws.Message {
	msg, err := ws.NewMessage(ws.EventSessionSnapshot, e.Snapshot())
	if err != nil {
		return nil
	}
	return msg
}
