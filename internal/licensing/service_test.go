package licensing

import (
	"context"
	"testing"
	"time"

	"github.com/glassapp/glass-server/internal/activations"
	"github.com/glassapp/glass-server/internal/tiers"
	"github.com/glassapp/glass-server/internal/tokens"
	"github.com/glassapp/glass-server/internal/verify"
	"github.com/glassapp/glass-server/pkg/config"
	"github.com/glassapp/glass-server/pkg/db/models"
	pkgerrors "github.com/glassapp/glass-server/pkg/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubKeys struct {
	key *models.LicenseKey
	err error
}

func (s *stubKeys) Lookup(context.Context, string) (*models.LicenseKey, error) {
	return s.key, s.err
}

type stubLedger struct {
	outcome activations.Outcome
	err     error
	gotMax  int
	gotHWID string
}

func (s *stubLedger) Record(_ context.Context, _ uuid.UUID, maxActivations int, hwid string) (activations.Outcome, error) {
	s.gotMax = maxActivations
	s.gotHWID = hwid
	return s.outcome, s.err
}

type stubIssuer struct {
	token      *models.LicenseToken
	reused     bool
	validation *tokens.Validation
	err        error
}

func (s *stubIssuer) IssueOrReuse(context.Context, uuid.UUID, string, string) (*models.LicenseToken, bool, error) {
	return s.token, s.reused, s.err
}

func (s *stubIssuer) Validate(context.Context, string, string) (*tokens.Validation, error) {
	return s.validation, s.err
}

type stubDevices struct {
	device   *models.Device
	upserted map[string]string
}

func (s *stubDevices) Upsert(_ context.Context, hwid, tier string) error {
	if s.upserted == nil {
		s.upserted = map[string]string{}
	}
	s.upserted[hwid] = tier
	return nil
}

func (s *stubDevices) FindByHWID(context.Context, string) (*models.Device, error) {
	return s.device, nil
}

type stubResolver struct {
	res tiers.Resolution
}

func (s *stubResolver) Resolve(context.Context, string, string) (tiers.Resolution, error) {
	return s.res, nil
}

type stubVerifier struct {
	result verify.Result
	called bool
}

func (s *stubVerifier) Verify(context.Context, string) verify.Result {
	s.called = true
	return s.result
}

func testLicenseConfig() config.LicenseConfig {
	return config.LicenseConfig{
		FreeMaxWindows:        1,
		StarterMaxWindows:     2,
		ProMaxWindows:         5,
		DefaultMaxActivations: 1,
		DownloadURLPro:        "https://www.glassapp.me/static/Glass.exe",
	}
}

func proKey() *models.LicenseKey {
	return &models.LicenseKey{
		ID:             uuid.New(),
		Code:           "AAAA-BBBB-CCCC-DDDD",
		Tier:           config.TierPro,
		MaxConcurrent:  5,
		MaxActivations: 2,
	}
}

func newService(keys KeyStore, ledger Ledger, issuer TokenIssuer, devices Devices, resolver Resolver, verifier Verifier) *Service {
	return NewService(keys, ledger, issuer, devices, resolver, verifier, testLicenseConfig(), nil)
}

func TestActivateHappyPath(t *testing.T) {
	key := proKey()
	expires := time.Now().Add(90 * 24 * time.Hour)
	ledger := &stubLedger{outcome: activations.OutcomeCreated}
	devices := &stubDevices{}
	svc := newService(
		&stubKeys{key: key},
		ledger,
		&stubIssuer{token: &models.LicenseToken{Token: "tok-1", Tier: key.Tier, ExpiresAt: &expires}},
		devices,
		&stubResolver{},
		&stubVerifier{result: verify.Result{Valid: true, Checked: true}},
	)

	res, err := svc.Activate(context.Background(), ActivateParams{Key: key.Code, HWID: "HW-A"})
	require.NoError(t, err)

	assert.Equal(t, config.TierPro, res.Tier)
	assert.Equal(t, "tok-1", res.Token)
	assert.Equal(t, 5, res.MaxWindows, "key grant wins when no override is set")
	assert.Equal(t, "https://www.glassapp.me/static/Glass.exe", res.DownloadURL)
	assert.False(t, res.Reused)

	assert.Equal(t, 2, ledger.gotMax)
	assert.Equal(t, "HW-A", ledger.gotHWID)
	assert.Equal(t, config.TierPro, devices.upserted["HW-A"])
}

func TestActivateRequiresHWID(t *testing.T) {
	svc := newService(&stubKeys{}, &stubLedger{}, &stubIssuer{}, &stubDevices{}, &stubResolver{}, &stubVerifier{})

	_, err := svc.Activate(context.Background(), ActivateParams{Key: "AAAA-BBBB-CCCC-DDDD"})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestActivateUnknownKey(t *testing.T) {
	svc := newService(
		&stubKeys{err: pkgerrors.New(pkgerrors.CodeNotFound, "invalid_key")},
		&stubLedger{}, &stubIssuer{}, &stubDevices{}, &stubResolver{}, &stubVerifier{},
	)

	_, err := svc.Activate(context.Background(), ActivateParams{Key: "nope", HWID: "HW-A"})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	assert.Equal(t, pkgerrors.CodeNotFound, typed.Code())
	assert.Equal(t, "invalid_key", typed.Message())
}

func TestActivateRevokedKey(t *testing.T) {
	key := proKey()
	key.Revoked = true
	verifier := &stubVerifier{}
	svc := newService(&stubKeys{key: key}, &stubLedger{}, &stubIssuer{}, &stubDevices{}, &stubResolver{}, verifier)

	_, err := svc.Activate(context.Background(), ActivateParams{Key: key.Code, HWID: "HW-A"})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	assert.Equal(t, pkgerrors.CodeConflict, typed.Code())
	assert.Equal(t, "revoked", typed.Message())
	assert.False(t, verifier.called, "revocation short-circuits storefront checks")
}

func TestActivateRejectedByStorefront(t *testing.T) {
	key := proKey()
	svc := newService(
		&stubKeys{key: key}, &stubLedger{}, &stubIssuer{}, &stubDevices{}, &stubResolver{},
		&stubVerifier{result: verify.Result{Valid: false, Checked: true, Reason: "refunded"}},
	)

	_, err := svc.Activate(context.Background(), ActivateParams{Key: key.Code, HWID: "HW-A"})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	assert.Equal(t, pkgerrors.CodeForbidden, typed.Code())
	assert.Equal(t, "purchase_invalid", typed.Message())
}

func TestActivateFailOpenStorefront(t *testing.T) {
	key := proKey()
	svc := newService(
		&stubKeys{key: key},
		&stubLedger{outcome: activations.OutcomeCreated},
		&stubIssuer{token: &models.LicenseToken{Token: "tok-1", Tier: key.Tier}},
		&stubDevices{}, &stubResolver{},
		&stubVerifier{result: verify.Result{Valid: true, Checked: false}},
	)

	res, err := svc.Activate(context.Background(), ActivateParams{Key: key.Code, HWID: "HW-A"})
	require.NoError(t, err, "an unchecked verification never blocks activation")
	assert.Equal(t, "tok-1", res.Token)
}

func TestActivateLimitReached(t *testing.T) {
	key := proKey()
	svc := newService(
		&stubKeys{key: key},
		&stubLedger{outcome: activations.OutcomeLimitReached},
		&stubIssuer{}, &stubDevices{}, &stubResolver{},
		&stubVerifier{result: verify.Result{Valid: true, Checked: true}},
	)

	_, err := svc.Activate(context.Background(), ActivateParams{Key: key.Code, HWID: "HW-A"})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	assert.Equal(t, pkgerrors.CodeLimitExceeded, typed.Code())
	assert.Equal(t, "activation_limit_reached", typed.Message())
}

func TestActivateHonorsOperatorOverride(t *testing.T) {
	key := proKey()
	override := 3
	svc := newService(
		&stubKeys{key: key},
		&stubLedger{outcome: activations.OutcomeReused},
		&stubIssuer{token: &models.LicenseToken{Token: "tok-1", Tier: key.Tier}, reused: true},
		&stubDevices{device: &models.Device{HWID: "HW-A", Tier: config.TierPro, MaxWindows: &override}},
		&stubResolver{},
		&stubVerifier{result: verify.Result{Valid: true, Checked: true}},
	)

	res, err := svc.Activate(context.Background(), ActivateParams{Key: key.Code, HWID: "HW-A"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.MaxWindows)
	assert.True(t, res.Reused)
}

func TestValidateFailureIsNotAnError(t *testing.T) {
	svc := newService(
		&stubKeys{}, &stubLedger{},
		&stubIssuer{validation: &tokens.Validation{Reason: tokens.ReasonHWIDMismatch}},
		&stubDevices{}, &stubResolver{}, &stubVerifier{},
	)

	res, err := svc.Validate(context.Background(), ValidateParams{Token: "tok-1", HWID: "HW-B"})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, tokens.ReasonHWIDMismatch, res.Reason)
}

func TestValidateRefreshesDeviceAndResolves(t *testing.T) {
	devices := &stubDevices{}
	svc := newService(
		&stubKeys{}, &stubLedger{},
		&stubIssuer{validation: &tokens.Validation{
			OK:    true,
			Token: &models.LicenseToken{Token: "tok-1", HWID: "HW-A", Tier: config.TierPro},
		}},
		devices,
		&stubResolver{res: tiers.Resolution{Tier: config.TierPro, MaxWindows: 5}},
		&stubVerifier{},
	)

	res, err := svc.Validate(context.Background(), ValidateParams{Token: "tok-1", HWID: "HW-A"})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, config.TierPro, res.Tier)
	assert.Equal(t, 5, res.MaxWindows)
	assert.Equal(t, config.TierPro, devices.upserted["HW-A"], "good tokens refresh the device record")
}

func TestValidateRequiresInputs(t *testing.T) {
	svc := newService(&stubKeys{}, &stubLedger{}, &stubIssuer{}, &stubDevices{}, &stubResolver{}, &stubVerifier{})

	_, err := svc.Validate(context.Background(), ValidateParams{Token: "tok-1"})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestVerifyDeviceFreeFallback(t *testing.T) {
	svc := newService(
		&stubKeys{}, &stubLedger{}, &stubIssuer{}, &stubDevices{},
		&stubResolver{res: tiers.Resolution{Tier: config.TierFree, MaxWindows: 1}},
		&stubVerifier{},
	)

	res, err := svc.VerifyDevice(context.Background(), "HW-NEW")
	require.NoError(t, err)
	assert.Equal(t, config.TierFree, res.Tier)
	assert.Equal(t, 1, res.MaxWindows)

	_, err = svc.VerifyDevice(context.Background(), "  ")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}
