package controllers

import (
	"net/http"
	"time"

	"github.com/glassapp/glass-server/api/responses"
	"github.com/glassapp/glass-server/api/validators"
	"github.com/glassapp/glass-server/internal/licensing"
	"github.com/glassapp/glass-server/pkg/logger"
)

type activateRequest struct {
	Key  string `json:"key" validate:"required"`
	HWID string `json:"hwid" validate:"required"`
}

// The desktop client reads its window cap from max_concurrent on activate and
// from max_windows on validate/verify; both names are part of the contract.
type activateResponse struct {
	OK            bool       `json:"ok"`
	Tier          string     `json:"tier"`
	Token         string     `json:"token"`
	MaxConcurrent int        `json:"max_concurrent"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	DownloadURL   string     `json:"download_url,omitempty"`
}

// Activate redeems a license key for the calling device. The response shape
// is the desktop client's original contract, unenveloped.
func Activate(svc *licensing.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req activateRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.Activate(ctx, licensing.ActivateParams{Key: req.Key, HWID: req.HWID})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteJSON(w, http.StatusOK, activateResponse{
			OK:            true,
			Tier:          result.Tier,
			Token:         result.Token,
			MaxConcurrent: result.MaxWindows,
			ExpiresAt:     result.ExpiresAt,
			DownloadURL:   result.DownloadURL,
		})
	}
}

type validateRequest struct {
	Token string `json:"token" validate:"required"`
	HWID  string `json:"hwid" validate:"required"`
}

type validateResponse struct {
	OK          bool       `json:"ok"`
	Reason      string     `json:"reason,omitempty"`
	Tier        string     `json:"tier,omitempty"`
	MaxWindows  int        `json:"max_windows,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	DownloadURL string     `json:"download_url,omitempty"`
}

// Validate checks a stored session token. Rejections are part of the contract
// and answer 200 with ok=false; the client downgrades itself from the reason.
func Validate(svc *licensing.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req validateRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.Validate(ctx, licensing.ValidateParams{Token: req.Token, HWID: req.HWID})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteJSON(w, http.StatusOK, validateResponse{
			OK:          result.OK,
			Reason:      result.Reason,
			Tier:        result.Tier,
			MaxWindows:  result.MaxWindows,
			ExpiresAt:   result.ExpiresAt,
			DownloadURL: result.DownloadURL,
		})
	}
}

type verifyRequest struct {
	HWID string `json:"hwid" validate:"required"`
}

type verifyResponse struct {
	OK         bool   `json:"ok"`
	Tier       string `json:"tier"`
	MaxWindows int    `json:"max_windows"`
}

// Verify reports the entitlement for a bare hardware id. Devices that never
// activated anything resolve to the free tier.
func Verify(svc *licensing.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req verifyRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		res, err := svc.VerifyDevice(ctx, req.HWID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteJSON(w, http.StatusOK, verifyResponse{
			OK:         true,
			Tier:       res.Tier,
			MaxWindows: res.MaxWindows,
		})
	}
}
