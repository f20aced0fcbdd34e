package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Activation records one consumed device slot on a license key. Rows are
// append-only: re-activating a bound device is a read, never a new row, and
// nothing ever deletes the audit trail.
type Activation struct {
	ID          uuid.UUID `gorm:"column:id;type:text;primaryKey"`
	KeyID       uuid.UUID `gorm:"column:key_id;type:text;not null;uniqueIndex:idx_activations_key_hwid"`
	HWID        string    `gorm:"column:hwid;type:text;not null;uniqueIndex:idx_activations_key_hwid"`
	ActivatedAt time.Time `gorm:"column:activated_at;autoCreateTime"`
}

func (Activation) TableName() string { return "activations" }

func (a *Activation) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
