package verify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/glassapp/glass-server/pkg/config"
	"github.com/glassapp/glass-server/pkg/logger"
)

const defaultVerifyURL = "https://api.gumroad.com/v2/licenses/verify"

// Result of an external verification attempt.
type Result struct {
	Valid bool
	// Checked is false when verification was skipped or the upstream could not
	// be reached; the caller treats that as valid (fail-open).
	Checked bool
	Reason  string
}

// Client checks purchased keys against the storefront's license API.
//
// The check is advisory: configuration can skip it, and any transport failure
// counts as success. An upstream outage must never lock a paying customer out
// of software they bought.
type Client struct {
	cfg  config.GumroadConfig
	http *http.Client
	logg *logger.Logger
}

func NewClient(cfg config.GumroadConfig, logg *logger.Logger) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		logg: logg,
	}
}

type verifyResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Purchase struct {
		Refunded   bool `json:"refunded"`
		Chargeback bool `json:"chargebacked"`
	} `json:"purchase"`
}

// Verify checks the key with the storefront. Only an explicit upstream "no"
// (unknown key, refunded, charged back) fails verification.
func (c *Client) Verify(ctx context.Context, keyCode string) Result {
	if c.cfg.SkipValidation || c.cfg.ProductID == "" {
		return Result{Valid: true, Checked: false}
	}

	endpoint := c.cfg.VerifyURL
	if endpoint == "" {
		endpoint = defaultVerifyURL
	}

	form := url.Values{}
	form.Set("product_id", c.cfg.ProductID)
	form.Set("license_key", keyCode)
	form.Set("increment_uses_count", "false")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return c.failOpen(ctx, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return c.failOpen(ctx, err)
	}
	defer resp.Body.Close()

	// 404 is the documented "unknown license" answer; other non-2xx statuses
	// are upstream trouble, not a verdict on the key.
	if resp.StatusCode == http.StatusNotFound {
		return Result{Valid: false, Checked: true, Reason: "unknown_license"}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.failOpen(ctx, nil)
	}

	var body verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return c.failOpen(ctx, err)
	}

	switch {
	case !body.Success:
		return Result{Valid: false, Checked: true, Reason: "unknown_license"}
	case body.Purchase.Refunded:
		return Result{Valid: false, Checked: true, Reason: "refunded"}
	case body.Purchase.Chargeback:
		return Result{Valid: false, Checked: true, Reason: "chargeback"}
	}
	return Result{Valid: true, Checked: true}
}

func (c *Client) failOpen(ctx context.Context, err error) Result {
	if c.logg != nil {
		warnCtx := ctx
		if err != nil {
			warnCtx = c.logg.WithField(ctx, "error", err.Error())
		}
		c.logg.Warn(warnCtx, "storefront verification unreachable, failing open")
	}
	return Result{Valid: true, Checked: false}
}
