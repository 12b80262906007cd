package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sandeepkv93/session-token-authority/internal/domain"
	"github.com/sandeepkv93/session-token-authority/internal/observability"
)

var (
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrRefreshTokenConflict = errors.New("refresh token already exists")
	ErrRefreshTokenRevoked  = errors.New("refresh token revoked")
)

// RefreshTokenRepository persists refresh tokens keyed by the digest of their value.
type RefreshTokenRepository interface {
	// Create inserts t and returns ErrRefreshTokenConflict if the hash is taken.
	Create(ctx context.Context, t *domain.RefreshToken) error
	// FindByHash returns ErrRefreshTokenNotFound when no row matches.
	FindByHash(ctx context.Context, hash string) (*domain.RefreshToken, error)
	// DeleteByHash is idempotent.
	DeleteByHash(ctx context.Context, hash string) error
	// Rotate atomically removes the row for oldHash and inserts next. Exactly
	// one concurrent caller observes the old row; the others get
	// ErrRefreshTokenNotFound. A revoked old row is left in place and
	// ErrRefreshTokenRevoked is returned.
	Rotate(ctx context.Context, oldHash string, next *domain.RefreshToken) (*domain.RefreshToken, error)
	// RevokeByUser flags every live refresh token of userID as revoked and
	// returns how many rows changed.
	RevokeByUser(ctx context.Context, userID string) (int64, error)
	// DeleteExpired purges rows whose expiry is at or before the cutoff.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type GormRefreshTokenRepository struct{ db *gorm.DB }

func NewRefreshTokenRepository(db *gorm.DB) *GormRefreshTokenRepository {
	return &GormRefreshTokenRepository{db: db}
}

func (r *GormRefreshTokenRepository) Create(ctx context.Context, t *domain.RefreshToken) error {
	prepareRefreshToken(t)
	err := r.db.WithContext(ctx).Create(t).Error
	if err != nil {
		if isDuplicateKey(err) {
			observability.RecordRepositoryOperation(ctx, "refresh_token", "create", "conflict")
			return ErrRefreshTokenConflict
		}
		observability.RecordRepositoryOperation(ctx, "refresh_token", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "create", "success")
	return nil
}

func (r *GormRefreshTokenRepository) FindByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	var t domain.RefreshToken
	err := r.db.WithContext(ctx).Where("token_hash = ?", hash).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "refresh_token", "find_by_hash", "not_found")
			return nil, ErrRefreshTokenNotFound
		}
		observability.RecordRepositoryOperation(ctx, "refresh_token", "find_by_hash", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "find_by_hash", "success")
	return &t, nil
}

func (r *GormRefreshTokenRepository) DeleteByHash(ctx context.Context, hash string) error {
	err := r.db.WithContext(ctx).Where("token_hash = ?", hash).Delete(&domain.RefreshToken{}).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "delete_by_hash", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "delete_by_hash", "success")
	return nil
}

func (r *GormRefreshTokenRepository) Rotate(ctx context.Context, oldHash string, next *domain.RefreshToken) (*domain.RefreshToken, error) {
	prepareRefreshToken(next)
	var consumed *domain.RefreshToken
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var old domain.RefreshToken
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("token_hash = ?", oldHash).
			First(&old).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRefreshTokenNotFound
			}
			return err
		}
		if old.Revoked {
			return ErrRefreshTokenRevoked
		}
		res := tx.Where("id = ?", old.ID).Delete(&domain.RefreshToken{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRefreshTokenNotFound
		}
		if err := tx.Create(next).Error; err != nil {
			if isDuplicateKey(err) {
				return ErrRefreshTokenConflict
			}
			return err
		}
		consumed = &old
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrRefreshTokenNotFound):
			observability.RecordRepositoryOperation(ctx, "refresh_token", "rotate", "not_found")
		case errors.Is(err, ErrRefreshTokenConflict):
			observability.RecordRepositoryOperation(ctx, "refresh_token", "rotate", "conflict")
		case errors.Is(err, ErrRefreshTokenRevoked):
			observability.RecordRepositoryOperation(ctx, "refresh_token", "rotate", "revoked")
		default:
			observability.RecordRepositoryOperation(ctx, "refresh_token", "rotate", "error")
		}
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "rotate", "success")
	return consumed, nil
}

func (r *GormRefreshTokenRepository) RevokeByUser(ctx context.Context, userID string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.RefreshToken{}).
		Where("user_id = ? AND revoked = ?", userID, false).
		Update("revoked", true)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "revoke_by_user", "error")
		return 0, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "revoke_by_user", "success")
	return res.RowsAffected, nil
}

func (r *GormRefreshTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", before.UTC()).Delete(&domain.RefreshToken{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "delete_expired", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "delete_expired", "success")
	return res.RowsAffected, nil
}

func prepareRefreshToken(t *domain.RefreshToken) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	t.ExpiresAt = t.ExpiresAt.UTC()
}

func isDuplicateKey(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
