package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/glassapp/glass-server/api/responses"
	"github.com/glassapp/glass-server/api/validators"
	"github.com/glassapp/glass-server/internal/keys"
	"github.com/glassapp/glass-server/internal/tokens"
	"github.com/glassapp/glass-server/pkg/logger"
)

type createKeyRequest struct {
	Tier           string `json:"tier" validate:"omitempty,oneof=free starter pro"`
	MaxConcurrent  int    `json:"max_concurrent" validate:"omitempty,min=1,max=100"`
	MaxActivations int    `json:"max_activations" validate:"omitempty,min=1,max=100"`
	Prefix         string `json:"prefix" validate:"omitempty,max=12"`
	Email          string `json:"email" validate:"omitempty,email"`
}

type keyResponse struct {
	Code           string    `json:"code"`
	Tier           string    `json:"tier"`
	MaxConcurrent  int       `json:"max_concurrent"`
	MaxActivations int       `json:"max_activations"`
	BuyerEmail     string    `json:"buyer_email,omitempty"`
	IssuedAt       time.Time `json:"issued_at"`
}

// AdminCreateKey mints a new license key, optionally mailing it to a buyer.
func AdminCreateKey(svc *keys.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req createKeyRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		key, err := svc.Issue(ctx, keys.IssueParams{
			Tier:           req.Tier,
			MaxConcurrent:  req.MaxConcurrent,
			MaxActivations: req.MaxActivations,
			Prefix:         req.Prefix,
			BuyerEmail:     req.Email,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		resp := keyResponse{
			Code:           key.Code,
			Tier:           key.Tier,
			MaxConcurrent:  key.MaxConcurrent,
			MaxActivations: key.MaxActivations,
			IssuedAt:       key.IssuedAt,
		}
		if key.BuyerEmail != nil {
			resp.BuyerEmail = *key.BuyerEmail
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, resp)
	}
}

// AdminRevokeKey revokes a key and every token minted from it.
func AdminRevokeKey(svc *keys.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		code := chi.URLParam(r, "code")
		tokensRevoked, err := svc.Revoke(ctx, code)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(logg.WithKeyCode(ctx, keys.NormalizeCode(code)), "license key revoked")
		}
		responses.WriteSuccess(w, map[string]any{
			"revoked":        true,
			"tokens_revoked": tokensRevoked,
		})
	}
}

type tokenRequest struct {
	Token string `json:"token" validate:"required"`
}

// AdminRevokeToken revokes a single session token without touching its key.
// Revoking an unknown or already-revoked token is a no-op reporting zero rows.
func AdminRevokeToken(issuer *tokens.Issuer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req tokenRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		count, err := issuer.Revoke(ctx, req.Token)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{
			"ok":            true,
			"updated_count": count,
		})
	}
}

type introspectRequest struct {
	Token string `json:"token" validate:"required"`
	HWID  string `json:"hwid" validate:"omitempty"`
}

type introspectResponse struct {
	OK         bool       `json:"ok"`
	Token      string     `json:"token"`
	KeyID      string     `json:"key_id,omitempty"`
	HWID       string     `json:"hwid"`
	Tier       string     `json:"tier"`
	Revoked    bool       `json:"revoked"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	TTLSeconds *int64     `json:"ttl_seconds,omitempty"`
	HWIDMatch  *bool      `json:"hwid_match,omitempty"`
}

// AdminIntrospectToken returns the stored state of a token for support work.
// When the request carries a hwid the response reports whether it matches the
// binding; ttl_seconds is omitted for non-expiring tokens.
func AdminIntrospectToken(issuer *tokens.Issuer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req introspectRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		row, err := issuer.Introspect(ctx, req.Token)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		resp := introspectResponse{
			OK:        true,
			Token:     row.Token,
			HWID:      row.HWID,
			Tier:      row.Tier,
			Revoked:   row.Revoked,
			CreatedAt: row.CreatedAt,
			ExpiresAt: row.ExpiresAt,
		}
		if row.KeyID != nil {
			resp.KeyID = row.KeyID.String()
		}
		if row.ExpiresAt != nil {
			ttl := int64(time.Until(*row.ExpiresAt).Seconds())
			resp.TTLSeconds = &ttl
		}
		if req.HWID != "" {
			match := row.HWID == req.HWID
			resp.HWIDMatch = &match
		}
		responses.WriteSuccess(w, resp)
	}
}
