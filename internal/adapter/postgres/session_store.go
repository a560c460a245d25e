package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/IssueForge/internal/domain"
	"github.com/Strob0t/IssueForge/internal/domain/session"
	"github.com/Strob0t/IssueForge/internal/port/sessionstore"
)

var _ sessionstore.Store = (*SessionStore)(nil)

// SessionStore implements sessionstore.Store on the paused_sessions table.
// The full session is kept as JSONB; a few columns are lifted out for
// operators querying the table directly.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore creates a store backed by the given connection pool.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

func (s *SessionStore) Save(ctx context.Context, token string, sess *session.Session) error {
	state, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO paused_sessions (token, session_id, issue_url, work_dir, reset_at, state)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (token) DO UPDATE SET
		   session_id = EXCLUDED.session_id,
		   issue_url  = EXCLUDED.issue_url,
		   work_dir   = EXCLUDED.work_dir,
		   reset_at   = EXCLUDED.reset_at,
		   state      = EXCLUDED.state,
		   updated_at = now()`,
		token, sess.ID, sess.Issue.String(), sess.WorkDir, nullTime(sess.ResetAt), state)
	if err != nil {
		return fmt.Errorf("save session %s: %w", token, err)
	}
	return nil
}

func (s *SessionStore) Load(ctx context.Context, token string) (*session.Session, error) {
	var state []byte
	err := s.pool.QueryRow(ctx,
		`SELECT state FROM paused_sessions WHERE token = $1`, token).Scan(&state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("resume token %q: %w", token, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("load session %s: %w", token, err)
	}

	var sess session.Session
	if err := json.Unmarshal(state, &sess); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", token, err)
	}
	return &sess, nil
}

func (s *SessionStore) Delete(ctx context.Context, token string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM paused_sessions WHERE token = $1`, token); err != nil {
		return fmt.Errorf("delete session %s: %w", token, err)
	}
	return nil
}

// nullTime converts a zero time to nil for nullable DB columns.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
