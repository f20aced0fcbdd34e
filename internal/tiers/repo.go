package tiers

import (
	"context"
	"errors"
	"strings"

	"github.com/glassapp/glass-server/pkg/db"
	"github.com/glassapp/glass-server/pkg/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository owns the devices table: one row per hardware id recording the
// tier the device last proved and any per-device window override set by an
// operator.
type Repository struct {
	client *db.Client
}

func NewRepository(client *db.Client) *Repository {
	return &Repository{client: client}
}

// Upsert records the tier a device just proved. The max_windows override is an
// operator-set column and is deliberately left untouched on conflict.
func (r *Repository) Upsert(ctx context.Context, hwid, tier string) error {
	device := models.Device{HWID: hwid, Tier: tier}
	return r.client.DB().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "hwid"}},
			DoUpdates: clause.AssignmentColumns([]string{"tier", "updated_at"}),
		}).
		Create(&device).Error
}

// FindByHWID returns the device row, or nil when the device has never been
// seen.
func (r *Repository) FindByHWID(ctx context.Context, hwid string) (*models.Device, error) {
	var device models.Device
	err := r.client.DB().WithContext(ctx).
		Where("hwid = ?", strings.TrimSpace(hwid)).
		First(&device).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &device, nil
}

// SetMaxWindows stores or clears an operator override for a device, creating
// the row at the free tier when the device is unknown.
func (r *Repository) SetMaxWindows(ctx context.Context, hwid string, maxWindows *int) error {
	device := models.Device{HWID: hwid, MaxWindows: maxWindows}
	return r.client.DB().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "hwid"}},
			DoUpdates: clause.AssignmentColumns([]string{"max_windows", "updated_at"}),
		}).
		Create(&device).Error
}
