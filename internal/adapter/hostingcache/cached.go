// Package hostingcache decorates a hosting.Platform with a metadata cache.
// Only answers that do not change during a session are cached: the acting
// identity and repository metadata.
package hostingcache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Strob0t/IssueForge/internal/domain/repository"
	"github.com/Strob0t/IssueForge/internal/port/cache"
	"github.com/Strob0t/IssueForge/internal/port/hosting"
)

// Platform is a caching hosting.Platform.
type Platform struct {
	hosting.Platform
	cache cache.Cache
	ttl   time.Duration
}

// New wraps inner. A nil cache disables caching.
func New(inner hosting.Platform, c cache.Cache, ttl time.Duration) hosting.Platform {
	if c == nil {
		return inner
	}
	return &Platform{Platform: inner, cache: c, ttl: ttl}
}

func (p *Platform) CurrentUser(ctx context.Context) (string, error) {
	key := p.Platform.Name() + ":user"
	if v, ok := p.get(ctx, key); ok {
		return string(v), nil
	}
	user, err := p.Platform.CurrentUser(ctx)
	if err != nil {
		return "", err
	}
	p.set(ctx, key, []byte(user))
	return user, nil
}

func (p *Platform) Repository(ctx context.Context, repo repository.Coordinates) (*hosting.Repository, error) {
	key := p.Platform.Name() + ":repo:" + repo.Host + "/" + repo.FullName()
	if v, ok := p.get(ctx, key); ok {
		var r hosting.Repository
		if err := json.Unmarshal(v, &r); err == nil {
			return &r, nil
		}
	}
	r, err := p.Platform.Repository(ctx, repo)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(r); err == nil {
		p.set(ctx, key, data)
	}
	return r, nil
}

func (p *Platform) get(ctx context.Context, key string) ([]byte, bool) {
	v, ok, err := p.cache.Get(ctx, key)
	if err != nil {
		slog.WarnContext(ctx, "hosting cache get failed", "key", key, "error", err)
		return nil, false
	}
	return v, ok
}

func (p *Platform) set(ctx context.Context, key string, v []byte) {
	if err := p.cache.Set(ctx, key, v, p.ttl); err != nil {
		slog.WarnContext(ctx, "hosting cache set failed", "key", key, "error", err)
	}
}
