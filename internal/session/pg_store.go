package session

import (
	"context"
	"time"

	"syncspace/api/internal/store"
)

// PgStore adapts the Postgres refresh-session tables to the same surface as
// RedisStore, for deployments without Redis.
type PgStore struct {
	store *store.PostgresStore
}

func NewPgStore(s *store.PostgresStore) *PgStore {
	return &PgStore{store: s}
}

func (s *PgStore) SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	return s.store.SaveRefreshSession(ctx, tokenHash, user.ID, expiresAt)
}

func (s *PgStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	return s.store.LookupRefreshSession(ctx, tokenHash)
}

func (s *PgStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	return s.store.RevokeRefreshSession(ctx, tokenHash)
}
