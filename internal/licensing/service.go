package licensing

import (
	"context"
	"strings"
	"time"

	"github.com/glassapp/glass-server/internal/activations"
	"github.com/glassapp/glass-server/internal/tiers"
	"github.com/glassapp/glass-server/internal/tokens"
	"github.com/glassapp/glass-server/internal/verify"
	"github.com/glassapp/glass-server/pkg/config"
	"github.com/glassapp/glass-server/pkg/db/models"
	pkgerrors "github.com/glassapp/glass-server/pkg/errors"
	"github.com/glassapp/glass-server/pkg/logger"
	"github.com/google/uuid"
)

// KeyStore resolves and validates license key codes.
type KeyStore interface {
	Lookup(ctx context.Context, code string) (*models.LicenseKey, error)
}

// Ledger admits devices against a key's activation cap.
type Ledger interface {
	Record(ctx context.Context, keyID uuid.UUID, maxActivations int, hwid string) (activations.Outcome, error)
}

// TokenIssuer mints and validates session tokens.
type TokenIssuer interface {
	IssueOrReuse(ctx context.Context, keyID uuid.UUID, hwid, tier string) (*models.LicenseToken, bool, error)
	Validate(ctx context.Context, value, hwid string) (*tokens.Validation, error)
}

// Devices persists per-device tier state.
type Devices interface {
	Upsert(ctx context.Context, hwid, tier string) error
	FindByHWID(ctx context.Context, hwid string) (*models.Device, error)
}

// Resolver computes a device's effective entitlement.
type Resolver interface {
	Resolve(ctx context.Context, hwid, tokenTier string) (tiers.Resolution, error)
}

// Verifier checks a key against the storefront.
type Verifier interface {
	Verify(ctx context.Context, keyCode string) verify.Result
}

// Service drives the activation and validation flows end to end.
type Service struct {
	keys     KeyStore
	ledger   Ledger
	issuer   TokenIssuer
	devices  Devices
	resolver Resolver
	verifier Verifier
	cfg      config.LicenseConfig
	logg     *logger.Logger
}

func NewService(
	keys KeyStore,
	ledger Ledger,
	issuer TokenIssuer,
	devices Devices,
	resolver Resolver,
	verifier Verifier,
	cfg config.LicenseConfig,
	logg *logger.Logger,
) *Service {
	return &Service{
		keys:     keys,
		ledger:   ledger,
		issuer:   issuer,
		devices:  devices,
		resolver: resolver,
		verifier: verifier,
		cfg:      cfg,
		logg:     logg,
	}
}

// ActivateParams is the client's activation request.
type ActivateParams struct {
	Key  string
	HWID string
}

// ActivateResult is handed back to the desktop client on success.
type ActivateResult struct {
	Tier        string
	Token       string
	MaxWindows  int
	ExpiresAt   *time.Time
	DownloadURL string
	Reused      bool
}

// Activate redeems a key for a device: the key must exist, be unrevoked and
// pass storefront verification; the device must fit under the activation cap.
// Re-activating from the same device is idempotent and returns the live token.
func (s *Service) Activate(ctx context.Context, params ActivateParams) (*ActivateResult, error) {
	hwid := strings.TrimSpace(params.HWID)
	if hwid == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "hwid is required")
	}

	key, err := s.keys.Lookup(ctx, params.Key)
	if err != nil {
		return nil, err
	}
	if key.Revoked {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "revoked")
	}

	if result := s.verifier.Verify(ctx, key.Code); result.Checked && !result.Valid {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "purchase_invalid").
			WithDetails(map[string]string{"reason": result.Reason})
	}

	outcome, err := s.ledger.Record(ctx, key.ID, key.MaxActivations, hwid)
	if err != nil {
		return nil, err
	}
	if outcome == activations.OutcomeLimitReached {
		return nil, pkgerrors.New(pkgerrors.CodeLimitExceeded, "activation_limit_reached").
			WithDetails(map[string]int{"max_activations": key.MaxActivations})
	}

	token, reused, err := s.issuer.IssueOrReuse(ctx, key.ID, hwid, key.Tier)
	if err != nil {
		return nil, err
	}

	if err := s.devices.Upsert(ctx, hwid, key.Tier); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording device tier")
	}

	if s.logg != nil {
		s.logg.Info(s.logg.WithKeyCode(s.logg.WithHWID(ctx, hwid), key.Code), "license activated")
	}

	return &ActivateResult{
		Tier:        key.Tier,
		Token:       token.Token,
		MaxWindows:  s.effectiveWindows(ctx, hwid, key),
		ExpiresAt:   token.ExpiresAt,
		DownloadURL: s.downloadURL(key.Tier),
		Reused:      reused,
	}, nil
}

// effectiveWindows picks the window cap for an activation: an operator's
// per-device override wins, then whatever the key itself grants, then the
// tier default.
func (s *Service) effectiveWindows(ctx context.Context, hwid string, key *models.LicenseKey) int {
	device, err := s.devices.FindByHWID(ctx, hwid)
	if err == nil && device != nil && device.MaxWindows != nil && *device.MaxWindows > 0 {
		return *device.MaxWindows
	}
	if key.MaxConcurrent > 0 {
		return key.MaxConcurrent
	}
	return s.cfg.DefaultMaxWindows(key.Tier)
}

// ValidateParams is a client session check.
type ValidateParams struct {
	Token string
	HWID  string
}

// ValidateResult reports whether a session is still good. Failures are part of
// the contract, not errors: the client downgrades itself based on Reason.
type ValidateResult struct {
	OK          bool
	Reason      string
	Tier        string
	MaxWindows  int
	ExpiresAt   *time.Time
	DownloadURL string
}

// Validate checks a stored token for a device and, when good, refreshes the
// device's tier record and returns its current entitlement.
func (s *Service) Validate(ctx context.Context, params ValidateParams) (*ValidateResult, error) {
	hwid := strings.TrimSpace(params.HWID)
	value := strings.TrimSpace(params.Token)
	if hwid == "" || value == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "token and hwid are required")
	}

	check, err := s.issuer.Validate(ctx, value, hwid)
	if err != nil {
		return nil, err
	}
	if !check.OK {
		return &ValidateResult{OK: false, Reason: check.Reason}, nil
	}

	// A good token is the freshest proof of tier we have; fold it back into
	// the device record so tier survives token expiry.
	if err := s.devices.Upsert(ctx, hwid, check.Token.Tier); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "refreshing device tier")
	}

	res, err := s.resolver.Resolve(ctx, hwid, check.Token.Tier)
	if err != nil {
		return nil, err
	}

	return &ValidateResult{
		OK:          true,
		Tier:        res.Tier,
		MaxWindows:  res.MaxWindows,
		ExpiresAt:   check.Token.ExpiresAt,
		DownloadURL: s.downloadURL(res.Tier),
	}, nil
}

// VerifyDevice reports the entitlement for a bare hardware id, no token
// required. Unknown devices resolve to the free tier.
func (s *Service) VerifyDevice(ctx context.Context, hwid string) (tiers.Resolution, error) {
	hwid = strings.TrimSpace(hwid)
	if hwid == "" {
		return tiers.Resolution{}, pkgerrors.New(pkgerrors.CodeValidation, "hwid is required")
	}
	return s.resolver.Resolve(ctx, hwid, "")
}

func (s *Service) downloadURL(tier string) string {
	if tier == config.TierPro || tier == config.TierStarter {
		return s.cfg.DownloadURLPro
	}
	return ""
}
