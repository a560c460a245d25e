// Package filestore implements sessionstore.Store as one YAML file per
// resume token.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/Strob0t/IssueForge/internal/domain"
	"github.com/Strob0t/IssueForge/internal/domain/session"
	"github.com/Strob0t/IssueForge/internal/port/sessionstore"
)

var _ sessionstore.Store = (*Store)(nil)

var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// Store keeps sessions under dir.
type Store struct {
	dir string
}

// New creates the directory if needed and returns a Store.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create session store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(token string) (string, error) {
	if !tokenPattern.MatchString(token) {
		return "", fmt.Errorf("resume token %q: %w", token, domain.ErrValidation)
	}
	return filepath.Join(s.dir, token+".yaml"), nil
}

// Save writes the session atomically.
func (s *Store) Save(_ context.Context, token string, sess *session.Session) error {
	p, err := s.path(token)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".session-*.yaml")
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after rename

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("save session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Store) Load(_ context.Context, token string) (*session.Session, error) {
	p, err := s.path(token)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("resume token %q: %w", token, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var sess session.Session
	if err := yaml.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", p, err)
	}
	return &sess, nil
}

func (s *Store) Delete(_ context.Context, token string) error {
	p, err := s.path(token)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
