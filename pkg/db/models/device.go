package models

import "time"

// Device is the per-HWID tier record consulted by the fast verify path. It is
// upserted opportunistically by both activation and validation so tier lookups
// that carry no token stay cheap and current. MaxWindows, when set, overrides
// the tier's configured default cap.
type Device struct {
	HWID       string    `gorm:"column:hwid;type:text;primaryKey"`
	Tier       string    `gorm:"column:tier;type:text;not null;default:'free'"`
	MaxWindows *int      `gorm:"column:max_windows"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Device) TableName() string { return "devices" }
