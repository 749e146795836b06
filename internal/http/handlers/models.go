package handlers

import (
	"net/http"

	"imageforge/internal/synthesis"
)

type modelInfo struct {
	ID               string `json:"id"`
	CostCredits      int    `json:"cost_credits"`
	EstimatedSeconds int    `json:"estimated_seconds"`
}

// ListModels exposes the model catalog with per-model pricing.
func (a *App) ListModels(w http.ResponseWriter, r *http.Request) {
	models := synthesis.Models()
	out := make([]modelInfo, 0, len(models))
	for _, m := range models {
		out = append(out, modelInfo{ID: m.ID, CostCredits: m.CostCredits, EstimatedSeconds: m.EstimatedSeconds})
	}
	a.json(w, http.StatusOK, map[string]any{"models": out})
}
