package tiers

import (
	"context"

	"github.com/glassapp/glass-server/pkg/config"
	pkgerrors "github.com/glassapp/glass-server/pkg/errors"
)

// Resolution is the effective entitlement for a device: the tier it runs at
// and how many overlay windows that allows.
type Resolution struct {
	Tier       string
	MaxWindows int
}

// Resolver computes the effective tier and window cap for a device.
//
// Tier precedence: a proven token tier beats the stored device tier, which
// beats the free fallback. Window precedence: an operator's per-device
// override beats the tier's configured default.
type Resolver struct {
	repo *Repository
	cfg  config.LicenseConfig
}

func NewResolver(repo *Repository, cfg config.LicenseConfig) *Resolver {
	return &Resolver{repo: repo, cfg: cfg}
}

// Resolve computes the entitlement for hwid. tokenTier is the tier carried by
// a token the caller has already validated, or empty when no token is in play.
func (r *Resolver) Resolve(ctx context.Context, hwid, tokenTier string) (Resolution, error) {
	device, err := r.repo.FindByHWID(ctx, hwid)
	if err != nil {
		return Resolution{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading device record")
	}

	tier := tokenTier
	if tier == "" && device != nil && device.Tier != "" {
		tier = device.Tier
	}
	if !config.KnownTier(tier) {
		tier = config.TierFree
	}

	windows := r.cfg.DefaultMaxWindows(tier)
	if device != nil && device.MaxWindows != nil && *device.MaxWindows > 0 {
		windows = *device.MaxWindows
	}

	return Resolution{Tier: tier, MaxWindows: windows}, nil
}
