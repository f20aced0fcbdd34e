package tokens

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/glassapp/glass-server/pkg/db"
	"github.com/glassapp/glass-server/pkg/db/models"
	pkgerrors "github.com/glassapp/glass-server/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Validation failure reasons, in check order. A revoked token reports revoked
// even when it is also expired or presented from the wrong device.
const (
	ReasonUnknownToken = "unknown_token"
	ReasonRevoked      = "revoked"
	ReasonHWIDMismatch = "hwid_mismatch"
	ReasonExpired      = "expired"
)

// tokenBytes of randomness per token, URL-safe base64 on the wire.
const tokenBytes = 32

// Issuer mints and validates opaque session tokens. A token binds a device to
// the tier it activated at; the tier is snapshotted at mint time and never
// re-read from the key.
type Issuer struct {
	client *db.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer builds an issuer. A zero ttl mints non-expiring tokens.
func NewIssuer(client *db.Client, ttl time.Duration) *Issuer {
	return &Issuer{client: client, ttl: ttl, now: time.Now}
}

// Validation is the outcome of checking a token against a device.
type Validation struct {
	OK     bool
	Reason string
	Token  *models.LicenseToken
}

// IssueOrReuse returns the live token for (key, device) when one exists, or
// mints a fresh one. Revoked and expired tokens are never reused. The second
// return reports whether an existing token was handed back.
func (i *Issuer) IssueOrReuse(ctx context.Context, keyID uuid.UUID, hwid, tier string) (*models.LicenseToken, bool, error) {
	var existing models.LicenseToken
	err := i.client.DB().WithContext(ctx).
		Where("key_id = ? AND hwid = ? AND revoked = ?", keyID, hwid, false).
		Order("created_at DESC").
		First(&existing).Error
	switch {
	case err == nil:
		if !existing.Expired(i.now()) {
			return &existing, true, nil
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading existing token")
	}

	token, err := i.Mint(ctx, &keyID, hwid, tier)
	if err != nil {
		return nil, false, err
	}
	return token, false, nil
}

// Mint creates a new token row. keyID may be nil for tokens granted outside
// the activation flow.
func (i *Issuer) Mint(ctx context.Context, keyID *uuid.UUID, hwid, tier string) (*models.LicenseToken, error) {
	value, err := newTokenValue()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generating token")
	}

	token := &models.LicenseToken{
		Token: value,
		KeyID: keyID,
		HWID:  hwid,
		Tier:  tier,
	}
	if i.ttl > 0 {
		expires := i.now().Add(i.ttl)
		token.ExpiresAt = &expires
	}

	if err := i.client.DB().WithContext(ctx).Create(token).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persisting token")
	}
	return token, nil
}

// Validate checks a presented token for the given device. Failures carry a
// machine-readable reason rather than an error; errors are reserved for
// storage trouble.
func (i *Issuer) Validate(ctx context.Context, value, hwid string) (*Validation, error) {
	var token models.LicenseToken
	err := i.client.DB().WithContext(ctx).
		Where("token = ?", value).
		First(&token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &Validation{Reason: ReasonUnknownToken}, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading token")
	}

	switch {
	case token.Revoked:
		return &Validation{Reason: ReasonRevoked, Token: &token}, nil
	case token.HWID != hwid:
		return &Validation{Reason: ReasonHWIDMismatch, Token: &token}, nil
	case token.Expired(i.now()):
		return &Validation{Reason: ReasonExpired, Token: &token}, nil
	}
	return &Validation{OK: true, Token: &token}, nil
}

// Revoke flags a single token and returns how many rows changed. Revoking an
// unknown or already-revoked token is a successful no-op returning 0.
func (i *Issuer) Revoke(ctx context.Context, value string) (int64, error) {
	res := i.client.DB().WithContext(ctx).
		Model(&models.LicenseToken{}).
		Where("token = ? AND revoked = ?", value, false).
		Update("revoked", true)
	if res.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "revoking token")
	}
	return res.RowsAffected, nil
}

// Introspect returns the stored token row for admin inspection.
func (i *Issuer) Introspect(ctx context.Context, value string) (*models.LicenseToken, error) {
	var token models.LicenseToken
	err := i.client.DB().WithContext(ctx).
		Where("token = ?", value).
		First(&token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, ReasonUnknownToken)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading token")
	}
	return &token, nil
}

func newTokenValue() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading randomness: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
