package keys

import (
	"context"
	"errors"
	"strings"

	"github.com/glassapp/glass-server/pkg/config"
	"github.com/glassapp/glass-server/pkg/db"
	"github.com/glassapp/glass-server/pkg/db/models"
	pkgerrors "github.com/glassapp/glass-server/pkg/errors"
	"github.com/glassapp/glass-server/pkg/logger"
	"gorm.io/gorm"
)

// codeCollisionRetries bounds regeneration when a freshly minted code collides
// with an existing row. With a 36^16 code space this fires essentially never.
const codeCollisionRetries = 5

// Mailer delivers a freshly issued key to the buyer. Delivery is best-effort;
// failures are logged and never fail issuance.
type Mailer interface {
	SendLicenseKey(ctx context.Context, email, code, tier string) error
}

type repository interface {
	Create(ctx context.Context, key *models.LicenseKey) error
	FindByCode(ctx context.Context, code string) (*models.LicenseKey, error)
	RevokeCascade(ctx context.Context, code string) (*models.LicenseKey, int64, error)
	RevokeByEmail(ctx context.Context, email string) (int64, int64, error)
}

// Service issues, looks up and revokes license keys.
type Service struct {
	repo   repository
	cfg    config.LicenseConfig
	mailer Mailer
	logg   *logger.Logger
}

func NewService(repo *Repository, cfg config.LicenseConfig, mailer Mailer, logg *logger.Logger) *Service {
	return &Service{repo: repo, cfg: cfg, mailer: mailer, logg: logg}
}

// IssueParams describes a key to mint. Zero values fall back to configured
// defaults: tier pro, the tier's window cap, one activation, the configured
// code prefix.
type IssueParams struct {
	Tier           string
	MaxConcurrent  int
	MaxActivations int
	Prefix         string
	BuyerEmail     string
}

// Issue mints a new key. Code collisions with existing rows are retried a
// bounded number of times. When a buyer email is present the code is mailed
// out best-effort.
func (s *Service) Issue(ctx context.Context, params IssueParams) (*models.LicenseKey, error) {
	tier := strings.ToLower(strings.TrimSpace(params.Tier))
	if tier == "" {
		tier = config.TierPro
	}
	if !config.KnownTier(tier) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown tier").
			WithDetails(map[string]string{"tier": tier})
	}

	maxConcurrent := params.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = s.cfg.DefaultMaxWindows(tier)
	}
	maxActivations := params.MaxActivations
	if maxActivations <= 0 {
		maxActivations = s.cfg.DefaultMaxActivations
	}

	key := &models.LicenseKey{
		Tier:           tier,
		MaxConcurrent:  maxConcurrent,
		MaxActivations: maxActivations,
	}
	if email := strings.TrimSpace(params.BuyerEmail); email != "" {
		key.BuyerEmail = &email
	}

	prefix := params.Prefix
	if prefix == "" {
		prefix = s.cfg.KeyPrefix
	}

	var lastErr error
	for attempt := 0; attempt < codeCollisionRetries; attempt++ {
		code, err := GenerateCode(prefix)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generating key code")
		}
		key.Code = code

		if err := s.repo.Create(ctx, key); err != nil {
			if db.IsUniqueViolation(err, "") {
				lastErr = err
				continue
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persisting license key")
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, lastErr, "exhausted key code retries")
	}

	if key.BuyerEmail != nil && s.mailer != nil {
		if err := s.mailer.SendLicenseKey(ctx, *key.BuyerEmail, key.Code, key.Tier); err != nil && s.logg != nil {
			warnCtx := s.logg.WithField(s.logg.WithKeyCode(ctx, key.Code), "error", err.Error())
			s.logg.Warn(warnCtx, "license key email delivery failed")
		}
	}

	return key, nil
}

// Lookup resolves a user-typed code to its key row. The code is canonicalized
// before the query so pasted lowercase or padded input still matches.
func (s *Service) Lookup(ctx context.Context, code string) (*models.LicenseKey, error) {
	normalized := NormalizeCode(code)
	if normalized == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "license key is required")
	}

	key, err := s.repo.FindByCode(ctx, normalized)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invalid_key")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up license key")
	}
	return key, nil
}

// Revoke flags a key and cascades to its tokens, returning how many tokens
// were revoked. Repeat calls are idempotent.
func (s *Service) Revoke(ctx context.Context, code string) (int64, error) {
	normalized := NormalizeCode(code)
	if normalized == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "license key is required")
	}

	_, tokens, err := s.repo.RevokeCascade(ctx, normalized)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, pkgerrors.New(pkgerrors.CodeNotFound, "invalid_key")
		}
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "revoking license key")
	}
	return tokens, nil
}

// RevokeByBuyer revokes every key sold to the given email, cascading tokens.
func (s *Service) RevokeByBuyer(ctx context.Context, email string) (int64, int64, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return 0, 0, pkgerrors.New(pkgerrors.CodeValidation, "buyer email is required")
	}
	keys, tokens, err := s.repo.RevokeByEmail(ctx, email)
	if err != nil {
		return 0, 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "revoking keys by buyer")
	}
	return keys, tokens, nil
}
