package domain

import "time"

// Principal is the identity returned by the identity collaborator. It is never persisted.
type Principal struct {
	UserID    string `json:"user_id"`
	CompanyID string `json:"company_id"`
	Email     string `json:"email,omitempty"`
	Username  string `json:"username,omitempty"`
	IsAdmin   bool   `json:"is_admin"`
}

type RefreshToken struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	TokenHash string    `gorm:"size:128;uniqueIndex;not null" json:"-"`
	UserID    string    `gorm:"size:64;index;not null" json:"user_id"`
	CompanyID string    `gorm:"size:64;not null" json:"company_id"`
	Email     string    `gorm:"size:320" json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `gorm:"index;not null" json:"expires_at"`
	Revoked   bool      `gorm:"not null;default:false" json:"revoked"`
}

func (RefreshToken) TableName() string { return "refresh_tokens" }

// Expired reports whether the row is past its expiry at now.
func (t *RefreshToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// RevokedToken is a revocation ledger entry. Rows are hard-deleted once ExpiresAt passes.
type RevokedToken struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TokenID   string    `gorm:"size:255;uniqueIndex;not null" json:"token_id"`
	UserID    string    `gorm:"size:64;index" json:"user_id"`
	CompanyID string    `gorm:"size:64" json:"company_id"`
	Reason    string    `gorm:"size:64" json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `gorm:"index;not null" json:"expires_at"`
}

func (RevokedToken) TableName() string { return "revoked_tokens" }
