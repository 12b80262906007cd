package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/sandeepkv93/session-token-authority/internal/domain"
	"github.com/sandeepkv93/session-token-authority/internal/repository"
)

type memRefreshRepo struct {
	mu   sync.Mutex
	rows map[string]domain.RefreshToken
	err  error
}

func newMemRefreshRepo() *memRefreshRepo {
	return &memRefreshRepo{rows: map[string]domain.RefreshToken{}}
}

func (r *memRefreshRepo) Create(_ context.Context, t *domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if _, ok := r.rows[t.TokenHash]; ok {
		return repository.ErrRefreshTokenConflict
	}
	r.rows[t.TokenHash] = *t
	return nil
}

func (r *memRefreshRepo) FindByHash(_ context.Context, hash string) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	row, ok := r.rows[hash]
	if !ok {
		return nil, repository.ErrRefreshTokenNotFound
	}
	return &row, nil
}

func (r *memRefreshRepo) DeleteByHash(_ context.Context, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	delete(r.rows, hash)
	return nil
}

func (r *memRefreshRepo) Rotate(_ context.Context, oldHash string, next *domain.RefreshToken) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	old, ok := r.rows[oldHash]
	if !ok {
		return nil, repository.ErrRefreshTokenNotFound
	}
	if old.Revoked {
		return nil, repository.ErrRefreshTokenRevoked
	}
	if _, taken := r.rows[next.TokenHash]; taken {
		return nil, repository.ErrRefreshTokenConflict
	}
	delete(r.rows, oldHash)
	r.rows[next.TokenHash] = *next
	return &old, nil
}

func (r *memRefreshRepo) RevokeByUser(_ context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	var n int64
	for k, row := range r.rows {
		if row.UserID == userID && !row.Revoked {
			row.Revoked = true
			r.rows[k] = row
			n++
		}
	}
	return n, nil
}

func (r *memRefreshRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	var n int64
	for k, row := range r.rows {
		if !row.ExpiresAt.After(before) {
			delete(r.rows, k)
			n++
		}
	}
	return n, nil
}

func (r *memRefreshRepo) only() domain.RefreshToken {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		return row
	}
	return domain.RefreshToken{}
}

func (r *memRefreshRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

func (r *memRefreshRepo) update(hash string, fn func(*domain.RefreshToken)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row := r.rows[hash]
	fn(&row)
	r.rows[hash] = row
}

type memRevocationRepo struct {
	mu      sync.Mutex
	entries map[string]domain.RevokedToken
	err     error
}

func newMemRevocationRepo() *memRevocationRepo {
	return &memRevocationRepo{entries: map[string]domain.RevokedToken{}}
}

func (r *memRevocationRepo) Revoke(_ context.Context, e *domain.RevokedToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if _, ok := r.entries[e.TokenID]; !ok {
		r.entries[e.TokenID] = *e
	}
	return nil
}

func (r *memRevocationRepo) IsRevoked(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	_, ok := r.entries[id]
	return ok, nil
}

func (r *memRevocationRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	var n int64
	for k, e := range r.entries {
		if !e.ExpiresAt.After(before) {
			delete(r.entries, k)
			n++
		}
	}
	return n, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
