package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LicenseKey is a purchasable credential granting a bounded number of device
// activations at a given tier. Rows are never deleted; revocation is the only
// mutation and is one-way.
type LicenseKey struct {
	ID             uuid.UUID `gorm:"column:id;type:text;primaryKey"`
	Code           string    `gorm:"column:code;type:text;not null;unique"`
	Tier           string    `gorm:"column:tier;type:text;not null;default:'pro'"`
	MaxConcurrent  int       `gorm:"column:max_concurrent;not null;default:5"`
	MaxActivations int       `gorm:"column:max_activations;not null;default:1"`
	Revoked        bool      `gorm:"column:revoked;not null;default:false"`
	BuyerEmail     *string   `gorm:"column:buyer_email;type:text"`
	IssuedAt       time.Time `gorm:"column:issued_at;autoCreateTime"`
}

func (LicenseKey) TableName() string { return "license_keys" }

func (k *LicenseKey) BeforeCreate(*gorm.DB) error {
	if k.ID == uuid.Nil {
		k.ID = uuid.New()
	}
	return nil
}
