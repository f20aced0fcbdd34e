package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LicenseToken is an opaque bearer credential bound to a (key, device) pair.
// KeyID is null for admin-granted or legacy tiers with no stored key. Tier is
// snapshotted at issuance and never re-derived from the key.
type LicenseToken struct {
	ID        uuid.UUID  `gorm:"column:id;type:text;primaryKey"`
	Token     string     `gorm:"column:token;type:text;not null;unique"`
	KeyID     *uuid.UUID `gorm:"column:key_id;type:text;index:idx_tokens_key_hwid"`
	HWID      string     `gorm:"column:hwid;type:text;not null;index:idx_tokens_key_hwid"`
	Tier      string     `gorm:"column:tier;type:text;not null"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
	ExpiresAt *time.Time `gorm:"column:expires_at"`
	Revoked   bool       `gorm:"column:revoked;not null;default:false"`
}

func (LicenseToken) TableName() string { return "license_tokens" }

func (t *LicenseToken) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// Expired reports whether the token has passively expired at the given time.
// A nil ExpiresAt means the token never expires.
func (t *LicenseToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}
