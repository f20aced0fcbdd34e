package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/glassapp/glass-server/internal/activations"
	"github.com/glassapp/glass-server/internal/keys"
	"github.com/glassapp/glass-server/internal/licensing"
	"github.com/glassapp/glass-server/internal/tiers"
	"github.com/glassapp/glass-server/internal/tokens"
	"github.com/glassapp/glass-server/internal/verify"
	"github.com/glassapp/glass-server/pkg/config"
	"github.com/glassapp/glass-server/pkg/db"
	"github.com/glassapp/glass-server/pkg/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testStack struct {
	client    *db.Client
	keys      *keys.Service
	issuer    *tokens.Issuer
	licensing *licensing.Service
}

func newTestStack(t *testing.T, name string) *testStack {
	t.Helper()
	client, err := db.New(context.Background(), config.DBConfig{
		Driver:       config.DriverSQLite,
		DSN:          "file:" + name + "?mode=memory&cache=shared",
		MaxOpenConns: 1,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.DB().AutoMigrate(
		&models.LicenseKey{},
		&models.Activation{},
		&models.LicenseToken{},
		&models.Device{},
	))

	licenseCfg := config.LicenseConfig{
		TokenTTLDays:          90,
		FreeMaxWindows:        1,
		StarterMaxWindows:     2,
		ProMaxWindows:         5,
		DefaultMaxActivations: 1,
		DownloadURLPro:        "https://www.glassapp.me/static/Glass.exe",
	}

	keyRepo := keys.NewRepository(client)
	keySvc := keys.NewService(keyRepo, licenseCfg, nil, nil)
	deviceRepo := tiers.NewRepository(client)
	issuer := tokens.NewIssuer(client, licenseCfg.TokenTTL())

	svc := licensing.NewService(
		keySvc,
		activations.NewLedger(client),
		issuer,
		deviceRepo,
		tiers.NewResolver(deviceRepo, licenseCfg),
		verify.NewClient(config.GumroadConfig{SkipValidation: true}, nil),
		licenseCfg,
		nil,
	)

	return &testStack{client: client, keys: keySvc, issuer: issuer, licensing: svc}
}

func postJSON(t *testing.T, handler http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestActivateEndToEnd(t *testing.T) {
	stack := newTestStack(t, "ctl_activate")
	key, err := stack.keys.Issue(context.Background(), keys.IssueParams{Tier: config.TierPro})
	require.NoError(t, err)

	rec := postJSON(t, Activate(stack.licensing, nil), "/license/activate",
		`{"key":"`+key.Code+`","hwid":"HW-A"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, config.TierPro, body["tier"])
	assert.NotEmpty(t, body["token"])
	assert.Equal(t, float64(5), body["max_concurrent"])
	assert.Equal(t, "https://www.glassapp.me/static/Glass.exe", body["download_url"])

	// Same device re-activating gets the same token back.
	again := postJSON(t, Activate(stack.licensing, nil), "/license/activate",
		`{"key":"`+key.Code+`","hwid":"HW-A"}`)
	require.Equal(t, http.StatusOK, again.Code)
	assert.Equal(t, body["token"], decodeBody(t, again)["token"])
}

func TestActivateUnknownKeyIs404(t *testing.T) {
	stack := newTestStack(t, "ctl_activate_missing")

	rec := postJSON(t, Activate(stack.licensing, nil), "/license/activate",
		`{"key":"ZZZZ-ZZZZ-ZZZZ-ZZZZ","hwid":"HW-A"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	body := decodeBody(t, rec)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "NOT_FOUND", errObj["code"])
	assert.Equal(t, "invalid_key", errObj["message"])
}

func TestActivateLimitIs403(t *testing.T) {
	stack := newTestStack(t, "ctl_activate_limit")
	key, err := stack.keys.Issue(context.Background(), keys.IssueParams{Tier: config.TierPro, MaxActivations: 1})
	require.NoError(t, err)

	rec := postJSON(t, Activate(stack.licensing, nil), "/license/activate",
		`{"key":"`+key.Code+`","hwid":"HW-A"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(t, Activate(stack.licensing, nil), "/license/activate",
		`{"key":"`+key.Code+`","hwid":"HW-B"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	errObj := decodeBody(t, rec)["error"].(map[string]any)
	assert.Equal(t, "LIMIT_EXCEEDED", errObj["code"])
	assert.Equal(t, "activation_limit_reached", errObj["message"])
}

func TestActivateMissingFieldsIs400(t *testing.T) {
	stack := newTestStack(t, "ctl_activate_badreq")

	rec := postJSON(t, Activate(stack.licensing, nil), "/license/activate", `{"key":"X"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidateEndToEnd(t *testing.T) {
	stack := newTestStack(t, "ctl_validate")
	key, err := stack.keys.Issue(context.Background(), keys.IssueParams{Tier: config.TierStarter})
	require.NoError(t, err)

	rec := postJSON(t, Activate(stack.licensing, nil), "/license/activate",
		`{"key":"`+key.Code+`","hwid":"HW-A"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	token := decodeBody(t, rec)["token"].(string)

	rec = postJSON(t, Validate(stack.licensing, nil), "/license/validate",
		`{"token":"`+token+`","hwid":"HW-A"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, config.TierStarter, body["tier"])
	assert.Equal(t, float64(2), body["max_windows"])

	// Wrong device answers 200 with a reason, not an error status.
	rec = postJSON(t, Validate(stack.licensing, nil), "/license/validate",
		`{"token":"`+token+`","hwid":"HW-B"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, tokens.ReasonHWIDMismatch, body["reason"])

	rec = postJSON(t, Validate(stack.licensing, nil), "/license/validate",
		`{"token":"bogus","hwid":"HW-A"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, tokens.ReasonUnknownToken, decodeBody(t, rec)["reason"])
}

func TestVerifyKnownAndUnknownDevices(t *testing.T) {
	stack := newTestStack(t, "ctl_verify")
	key, err := stack.keys.Issue(context.Background(), keys.IssueParams{Tier: config.TierPro})
	require.NoError(t, err)

	rec := postJSON(t, Verify(stack.licensing, nil), "/verify", `{"hwid":"HW-NEW"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, config.TierFree, body["tier"])
	assert.Equal(t, float64(1), body["max_windows"])

	// After activation the device verifies at its paid tier.
	activate := postJSON(t, Activate(stack.licensing, nil), "/license/activate",
		`{"key":"`+key.Code+`","hwid":"HW-PAID"}`)
	require.Equal(t, http.StatusOK, activate.Code)

	rec = postJSON(t, Verify(stack.licensing, nil), "/verify", `{"hwid":"HW-PAID"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, config.TierPro, body["tier"])
	assert.Equal(t, float64(5), body["max_windows"])
}

func TestPublicConfigShape(t *testing.T) {
	cfg := config.LicenseConfig{
		FreeMaxWindows:      1,
		StarterMaxWindows:   2,
		ProMaxWindows:       5,
		StarterSalesEnabled: false,
		StarterPrice:        "5",
		StarterBuyURL:       "https://www.glassapp.me/buy?tier=starter",
		ProSalesEnabled:     true,
		ProPrice:            "9.99",
		ProBuyURL:           "https://www.glassapp.me/buy?tier=pro",
	}

	req := httptest.NewRequest(http.MethodGet, "/public-config", nil)
	rec := httptest.NewRecorder()
	PublicConfig(cfg)(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	pro := body["pro"].(map[string]any)
	assert.Equal(t, true, pro["sales_enabled"])
	assert.Equal(t, "9.99", pro["price"])
	starter := body["starter"].(map[string]any)
	assert.Equal(t, false, starter["sales_enabled"])
	free := body["free"].(map[string]any)
	assert.Equal(t, float64(1), free["max_windows"])
}

func TestHealthEndpoints(t *testing.T) {
	stack := newTestStack(t, "ctl_health")
	cfg := &config.Config{App: config.AppConfig{Env: config.AppEnvDev}}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	HealthLive(cfg)(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, config.AppEnvDev, rec.Header().Get("X-Glass-Env"))

	req = httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec = httptest.NewRecorder()
	HealthReady(cfg, nil, stack.client, nil)(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthReadyFailsWhenDBDown(t *testing.T) {
	stack := newTestStack(t, "ctl_health_down")
	cfg := &config.Config{App: config.AppConfig{Env: config.AppEnvDev}}
	require.NoError(t, stack.client.Close())

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	HealthReady(cfg, nil, stack.client, nil)(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
