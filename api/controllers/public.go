package controllers

import (
	"net/http"

	"github.com/glassapp/glass-server/api/responses"
	"github.com/glassapp/glass-server/pkg/config"
)

type tierOffer struct {
	SalesEnabled bool   `json:"sales_enabled"`
	Price        string `json:"price"`
	BuyURL       string `json:"buy_url"`
	MaxWindows   int    `json:"max_windows"`
}

type publicConfigResponse struct {
	Free    tierOffer `json:"free"`
	Starter tierOffer `json:"starter"`
	Pro     tierOffer `json:"pro"`
}

// PublicConfig exposes the pricing and sales toggles the marketing site and
// the in-app upgrade dialog render from. Nothing here is secret.
func PublicConfig(cfg config.LicenseConfig) http.HandlerFunc {
	payload := publicConfigResponse{
		Free: tierOffer{
			MaxWindows: cfg.FreeMaxWindows,
		},
		Starter: tierOffer{
			SalesEnabled: cfg.StarterSalesEnabled,
			Price:        cfg.StarterPrice,
			BuyURL:       cfg.StarterBuyURL,
			MaxWindows:   cfg.StarterMaxWindows,
		},
		Pro: tierOffer{
			SalesEnabled: cfg.ProSalesEnabled,
			Price:        cfg.ProPrice,
			BuyURL:       cfg.ProBuyURL,
			MaxWindows:   cfg.ProMaxWindows,
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteJSON(w, http.StatusOK, payload)
	}
}
