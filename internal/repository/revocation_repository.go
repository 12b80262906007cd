package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sandeepkv93/session-token-authority/internal/domain"
	"github.com/sandeepkv93/session-token-authority/internal/observability"
)

// RevocationRepository is the ledger of access-token ids revoked before expiry.
type RevocationRepository interface {
	// Revoke records entry. Revoking an id twice is not an error and keeps the first row.
	Revoke(ctx context.Context, entry *domain.RevokedToken) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
	// DeleteExpired purges entries whose token would have expired anyway.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type GormRevocationRepository struct{ db *gorm.DB }

func NewRevocationRepository(db *gorm.DB) *GormRevocationRepository {
	return &GormRevocationRepository{db: db}
}

func (r *GormRevocationRepository) Revoke(ctx context.Context, entry *domain.RevokedToken) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.ExpiresAt = entry.ExpiresAt.UTC()
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "token_id"}}, DoNothing: true}).
		Create(entry).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "revocation", "revoke", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "revocation", "revoke", "success")
	return nil
}

func (r *GormRevocationRepository) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.RevokedToken{}).Where("token_id = ?", tokenID).Count(&n).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "revocation", "is_revoked", "error")
		return false, err
	}
	observability.RecordRepositoryOperation(ctx, "revocation", "is_revoked", "success")
	return n > 0, nil
}

func (r *GormRevocationRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", before.UTC()).Delete(&domain.RevokedToken{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "revocation", "delete_expired", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "revocation", "delete_expired", "success")
	return res.RowsAffected, nil
}
