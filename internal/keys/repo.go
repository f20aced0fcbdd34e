package keys

import (
	"context"
	"errors"

	"github.com/glassapp/glass-server/pkg/db"
	"github.com/glassapp/glass-server/pkg/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository owns all reads and writes against license_keys. Rows are
// append-plus-revoke: nothing is ever deleted or re-granted.
type Repository struct {
	client *db.Client
}

func NewRepository(client *db.Client) *Repository {
	return &Repository{client: client}
}

func (r *Repository) Create(ctx context.Context, key *models.LicenseKey) error {
	return r.client.DB().WithContext(ctx).Create(key).Error
}

func (r *Repository) FindByCode(ctx context.Context, code string) (*models.LicenseKey, error) {
	var key models.LicenseKey
	err := r.client.DB().WithContext(ctx).
		Where("code = ?", code).
		First(&key).Error
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// RevokeCascade marks the key revoked and revokes every token minted from it
// in the same transaction, so a revoked key can never leave a live session
// behind. Returns the key and how many tokens were cascaded. Revoking an
// already-revoked key is a no-op that still reports success.
func (r *Repository) RevokeCascade(ctx context.Context, code string) (*models.LicenseKey, int64, error) {
	var key models.LicenseKey
	var tokensRevoked int64

	err := r.client.WithTx(ctx, func(tx *gorm.DB) error {
		query := tx.Where("code = ?", code)
		if !r.client.IsSQLite() {
			query = query.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		if err := query.First(&key).Error; err != nil {
			return err
		}

		if !key.Revoked {
			if err := tx.Model(&models.LicenseKey{}).
				Where("id = ?", key.ID).
				Update("revoked", true).Error; err != nil {
				return err
			}
			key.Revoked = true
		}

		res := tx.Model(&models.LicenseToken{}).
			Where("key_id = ? AND revoked = ?", key.ID, false).
			Update("revoked", true)
		if res.Error != nil {
			return res.Error
		}
		tokensRevoked = res.RowsAffected
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return &key, tokensRevoked, nil
}

// RevokeByEmail revokes every key sold to the given buyer, cascading tokens
// per key. Used when the storefront reports a refund or chargeback.
func (r *Repository) RevokeByEmail(ctx context.Context, email string) (int64, int64, error) {
	var codes []string
	err := r.client.DB().WithContext(ctx).
		Model(&models.LicenseKey{}).
		Where("buyer_email = ?", email).
		Pluck("code", &codes).Error
	if err != nil {
		return 0, 0, err
	}

	var keysRevoked, tokensRevoked int64
	for _, code := range codes {
		_, tokens, err := r.RevokeCascade(ctx, code)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return keysRevoked, tokensRevoked, err
		}
		keysRevoked++
		tokensRevoked += tokens
	}
	return keysRevoked, tokensRevoked, nil
}
