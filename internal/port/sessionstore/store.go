// Package sessionstore defines the port for persisting paused sessions under
// their resume token.
package sessionstore

import (
	"context"

	"github.com/Strob0t/IssueForge/internal/domain/session"
)

// Store persists sessions keyed by resume token. Load returns an error
// wrapping domain.ErrNotFound for unknown tokens. Delete of an unknown token
// is not an error.
type Store interface {
	Save(ctx context.Context, token string, s *session.Session) error
	Load(ctx context.Context, token string) (*session.Session, error)
	Delete(ctx context.Context, token string) error
}
