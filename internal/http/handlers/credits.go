package handlers

import (
	"errors"
	"net/http"
	"time"

	"imageforge/internal/domain"
)

type balanceResponse struct {
	Balance   int    `json:"balance"`
	Unlimited bool   `json:"unlimited"`
	Tier      string `json:"tier"`
}

// GetCredits reports the caller's remaining balance.
func (a *App) GetCredits(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	res, err := a.Ledger.Check(r.Context(), userID, 0)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "no credit account")
			return
		}
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("balance lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load balance")
		return
	}
	a.json(w, http.StatusOK, balanceResponse{Balance: res.Balance, Unlimited: res.Unlimited, Tier: res.Tier})
}

// GetUsage lists the caller's usage entries, newest first. The since
// parameter accepts RFC 3339 and defaults to the last 30 days.
func (a *App) GetUsage(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	since := time.Now().AddDate(0, 0, -30)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "since must be RFC 3339")
			return
		}
		since = parsed
	}
	entries, err := a.Usage.ListByUser(r.Context(), userID, since)
	if err != nil {
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("usage lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load usage")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"items": entries, "since": since})
}
