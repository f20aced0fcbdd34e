package activations

import (
	"context"
	"time"

	"github.com/glassapp/glass-server/pkg/db"
	"github.com/glassapp/glass-server/pkg/db/models"
	pkgerrors "github.com/glassapp/glass-server/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Outcome classifies the result of an activation attempt.
type Outcome string

const (
	// OutcomeCreated means the device consumed a fresh activation slot.
	OutcomeCreated Outcome = "created"
	// OutcomeReused means the device had already activated this key; no slot
	// was consumed.
	OutcomeReused Outcome = "reused"
	// OutcomeLimitReached means every slot on the key is taken by other devices.
	OutcomeLimitReached Outcome = "limit_reached"
)

// txRetries bounds retries on transient transaction conflicts: serialization
// failures on the client-server engine, write-lock contention on the embedded
// one.
const txRetries = 5

// Ledger records which devices have activated which keys. The table is
// append-only; a (key, hwid) pair activates at most once, ever, and slots are
// never returned.
type Ledger struct {
	client *db.Client
}

func NewLedger(client *db.Client) *Ledger {
	return &Ledger{client: client}
}

// Record admits hwid against the key's activation cap. The check-count-insert
// runs in one transaction with the key row locked, so concurrent first-time
// activations of the same key serialize and the cap holds exactly. A device
// that already activated is readmitted without consuming a slot.
func (l *Ledger) Record(ctx context.Context, keyID uuid.UUID, maxActivations int, hwid string) (Outcome, error) {
	var outcome Outcome

	var err error
	for attempt := 0; attempt < txRetries; attempt++ {
		err = l.client.WithTx(ctx, func(tx *gorm.DB) error {
			// Lock the key row so two devices racing for the last slot cannot
			// both pass the count check. The embedded engine cannot parse the
			// locking clause; its single writer gives the same guarantee.
			lockQuery := tx.Model(&models.LicenseKey{}).Select("id").Where("id = ?", keyID)
			if !l.client.IsSQLite() {
				lockQuery = lockQuery.Clauses(clause.Locking{Strength: "UPDATE"})
			}
			var lockedID string
			if err := lockQuery.Scan(&lockedID).Error; err != nil {
				return err
			}

			var existing int64
			if err := tx.Model(&models.Activation{}).
				Where("key_id = ? AND hwid = ?", keyID, hwid).
				Count(&existing).Error; err != nil {
				return err
			}
			if existing > 0 {
				outcome = OutcomeReused
				return nil
			}

			var used int64
			if err := tx.Model(&models.Activation{}).
				Where("key_id = ?", keyID).
				Count(&used).Error; err != nil {
				return err
			}
			if used >= int64(maxActivations) {
				outcome = OutcomeLimitReached
				return nil
			}

			outcome = OutcomeCreated
			return tx.Create(&models.Activation{KeyID: keyID, HWID: hwid}).Error
		})

		if err == nil {
			return outcome, nil
		}
		// A unique violation on (key_id, hwid) means another request inserted
		// the same device concurrently. That is a reuse, not a failure.
		if db.IsUniqueViolation(err, "idx_activations_key_hwid") {
			return OutcomeReused, nil
		}
		if !db.IsSerializationFailure(err) {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
		}
	}

	return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording activation")
}

// CountForKey returns how many slots the key has consumed.
func (l *Ledger) CountForKey(ctx context.Context, keyID uuid.UUID) (int64, error) {
	var count int64
	err := l.client.DB().WithContext(ctx).
		Model(&models.Activation{}).
		Where("key_id = ?", keyID).
		Count(&count).Error
	return count, err
}

// ListForKey returns the devices holding slots on a key, oldest first.
func (l *Ledger) ListForKey(ctx context.Context, keyID uuid.UUID) ([]models.Activation, error) {
	var rows []models.Activation
	err := l.client.DB().WithContext(ctx).
		Where("key_id = ?", keyID).
		Order("activated_at ASC").
		Find(&rows).Error
	return rows, err
}
