package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// ServeAsset serves one stored artifact after verifying the HMAC
// signature minted by the storage layer. No user context is required;
// possession of an unexpired signed URL is the authorization.
func (a *App) ServeAsset(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if key == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "asset key required")
		return
	}
	q := r.URL.Query()
	if err := a.Signer.Verify(key, q.Get("expires"), q.Get("sig"), time.Now()); err != nil {
		a.error(w, http.StatusForbidden, "forbidden", "invalid or expired signature")
		return
	}
	data, err := a.Store.Get(r.Context(), key)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "asset not found")
		return
	}
	w.Header().Set("Content-Type", mimeForKey(key))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
