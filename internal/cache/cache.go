package cache

import (
	"context"
	"time"

	"kasirinaja/ledger/internal/domain"
)

// SessionCache keeps resolved sessions close to the API so every request
// does not hit the sessions table.
type SessionCache interface {
	Get(ctx context.Context, token string) (*domain.Session, bool, error)
	Set(ctx context.Context, session domain.Session, ttl time.Duration) error
	Delete(ctx context.Context, token string) error
}

type NoopSessionCache struct{}

func (NoopSessionCache) Get(_ context.Context, _ string) (*domain.Session, bool, error) {
	return nil, false, nil
}

func (NoopSessionCache) Set(_ context.Context, _ domain.Session, _ time.Duration) error {
	return nil
}

func (NoopSessionCache) Delete(_ context.Context, _ string) error {
	return nil
}
