package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"imageforge/internal/credit"
	"imageforge/internal/domain"
	"imageforge/internal/infra"
	"imageforge/internal/queue"
	"imageforge/internal/storage"
)

// App bundles the handler dependencies.
type App struct {
	Logger      infra.Logger
	Generations domain.GenerationRepository
	Usage       domain.UsageLogRepository
	Ledger      *credit.Ledger
	Gateway     queue.Gateway
	Store       storage.BlobStore
	Signer      *storage.URLSigner

	SignedURLTTL time.Duration
	ListMaxLimit int
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, slug, message string) {
	a.json(w, code, map[string]string{"error": slug, "message": message})
}

// currentUserID extracts the caller identity injected by the edge proxy.
func (a *App) currentUserID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

func (a *App) signedTTL() time.Duration {
	if a.SignedURLTTL > 0 {
		return a.SignedURLTTL
	}
	return 7 * 24 * time.Hour
}

func (a *App) listLimit() int {
	if a.ListMaxLimit > 0 {
		return a.ListMaxLimit
	}
	return 100
}
