package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"imageforge/internal/domain"
	"imageforge/internal/queue"
	"imageforge/internal/synthesis"
	"imageforge/pkg/zip"
)

const (
	promptMinLen = 3
	promptMaxLen = 2000
)

type generateRequest struct {
	Type           string         `json:"type"`
	Prompt         string         `json:"prompt"`
	NegativePrompt string         `json:"negative_prompt"`
	Model          string         `json:"model"`
	Settings       map[string]any `json:"settings"`
	SourceImageURL string         `json:"source_image_url"`
	CallbackURL    string         `json:"callback_url"`
	Priority       string         `json:"priority"`
}

type generateResponse struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	CostCredits      int    `json:"cost_credits"`
	Balance          int    `json:"balance"`
	EstimatedSeconds int    `json:"estimated_seconds"`
}

// CreateGeneration accepts a generation request, charges credits and
// enqueues the job. The response is 202; clients poll the status
// endpoint or receive the callback.
func (a *App) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	genType := domain.GenerationType(req.Type)
	if req.Type == "" {
		genType = domain.GenerationTypeTextToImage
	}
	model, err := a.validateRequest(&req, genType)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	// Policy screening happens before any credits move.
	if err := screenPrompt(req.Prompt); err != nil {
		a.error(w, http.StatusUnprocessableEntity, "content_policy", "prompt rejected by content policy")
		return
	}

	genID := uuid.NewString()
	balance, err := a.Ledger.Deduct(r.Context(), userID, model.CostCredits, genID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInsufficientCredits):
			a.error(w, http.StatusPaymentRequired, "insufficient_credits", "not enough credits for this model")
		case errors.Is(err, domain.ErrNotFound):
			a.error(w, http.StatusPaymentRequired, "insufficient_credits", "no credit account")
		default:
			a.Logger.Error().Err(err).Str("user_id", userID).Msg("deduct failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to reserve credits")
		}
		return
	}

	gen := &domain.Generation{
		ID:             genID,
		UserID:         userID,
		Type:           genType,
		Status:         domain.StatusPending,
		Prompt:         strings.TrimSpace(req.Prompt),
		NegativePrompt: strings.TrimSpace(req.NegativePrompt),
		Model:          model.ID,
		Settings:       req.Settings,
		SourceImageURL: req.SourceImageURL,
		CostCredits:    model.CostCredits,
	}
	if err := a.Generations.Create(r.Context(), gen); err != nil {
		a.Logger.Error().Err(err).Str("generation_id", genID).Msg("create record failed")
		a.refundSubmission(r, userID, model.CostCredits, genID, "record_create_failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to create generation")
		return
	}

	msg := queue.NewJobMessage(gen, req.CallbackURL, queue.Priority(req.Priority))
	if err := a.Gateway.Send(r.Context(), msg); err != nil {
		a.Logger.Error().Err(err).Str("generation_id", genID).Msg("enqueue failed")
		if refundDue, cerr := a.Generations.Cancel(r.Context(), genID); cerr != nil {
			a.Logger.Error().Err(cerr).Str("generation_id", genID).Msg("cancel after enqueue failure errored")
		} else if refundDue {
			a.refundSubmission(r, userID, model.CostCredits, genID, "enqueue_failed")
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to queue generation")
		return
	}

	a.json(w, http.StatusAccepted, generateResponse{
		ID:               genID,
		Status:           string(domain.StatusPending),
		CostCredits:      model.CostCredits,
		Balance:          balance,
		EstimatedSeconds: model.EstimatedSeconds,
	})
}

func (a *App) validateRequest(req *generateRequest, genType domain.GenerationType) (synthesis.ModelConfig, error) {
	if !genType.Valid() {
		return synthesis.ModelConfig{}, fmt.Errorf("unsupported type %q", genType)
	}
	prompt := strings.TrimSpace(req.Prompt)
	if len(prompt) < promptMinLen || len(prompt) > promptMaxLen {
		return synthesis.ModelConfig{}, fmt.Errorf("prompt must be between %d and %d characters", promptMinLen, promptMaxLen)
	}
	if genType == domain.GenerationTypeImageToImage {
		if _, err := url.ParseRequestURI(req.SourceImageURL); err != nil {
			return synthesis.ModelConfig{}, errors.New("source_image_url required for image_to_image")
		}
	}
	if req.CallbackURL != "" {
		parsed, err := url.ParseRequestURI(req.CallbackURL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return synthesis.ModelConfig{}, errors.New("callback_url must be an http(s) URL")
		}
	}
	model, err := synthesis.LookupModel(req.Model)
	if err != nil {
		return synthesis.ModelConfig{}, errors.New("unknown model")
	}
	if err := synthesis.ValidateSettings(model.ID, req.Settings); err != nil {
		return synthesis.ModelConfig{}, err
	}
	return model, nil
}

func (a *App) refundSubmission(r *http.Request, userID string, amount int, genID, reason string) {
	if _, err := a.Ledger.Refund(r.Context(), userID, amount, reason, genID); err != nil {
		a.Logger.Error().Err(err).Str("generation_id", genID).Msg("submission refund failed")
	}
}

// GetGeneration returns the record with fresh signed URLs. Records of
// other users come back 404 so identifiers do not leak.
func (a *App) GetGeneration(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	gen, ok := a.loadOwned(w, r, userID)
	if !ok {
		return
	}
	a.refreshURLs(gen)
	a.json(w, http.StatusOK, gen)
}

type listResponse struct {
	Items  []domain.Generation `json:"items"`
	Total  int                 `json:"total"`
	Offset int                 `json:"offset"`
	Limit  int                 `json:"limit"`
}

// ListGenerations pages through the caller's records, optionally
// filtered by status.
func (a *App) ListGenerations(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	q := r.URL.Query()
	status := domain.GenerationStatus(q.Get("status"))
	if status != "" {
		switch status {
		case domain.StatusPending, domain.StatusProcessing, domain.StatusCompleted, domain.StatusFailed, domain.StatusCancelled:
		default:
			a.error(w, http.StatusBadRequest, "bad_request", "unknown status filter")
			return
		}
	}
	offset := parseIntParam(q.Get("offset"), 0)
	limit := parseIntParam(q.Get("limit"), 20)
	if limit > a.listLimit() {
		limit = a.listLimit()
	}
	items, total, err := a.Generations.ListByUser(r.Context(), userID, status, offset, limit)
	if err != nil {
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("list generations failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to list generations")
		return
	}
	for i := range items {
		a.refreshURLs(&items[i])
	}
	a.json(w, http.StatusOK, listResponse{Items: items, Total: total, Offset: offset, Limit: limit})
}

// CancelGeneration cancels a still-pending record and refunds its cost.
// Once a worker picked the job up, cancellation is refused.
func (a *App) CancelGeneration(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	gen, ok := a.loadOwned(w, r, userID)
	if !ok {
		return
	}
	refundDue, err := a.Generations.Cancel(r.Context(), gen.ID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			a.error(w, http.StatusConflict, "conflict", "generation is no longer pending")
			return
		}
		a.Logger.Error().Err(err).Str("generation_id", gen.ID).Msg("cancel failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to cancel generation")
		return
	}
	if refundDue {
		a.refundSubmission(r, userID, gen.CostCredits, gen.ID, "cancelled")
	}
	a.json(w, http.StatusOK, map[string]string{"id": gen.ID, "status": string(domain.StatusCancelled)})
}

// DownloadGeneration streams all outputs of a completed generation as
// one zip archive.
func (a *App) DownloadGeneration(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	gen, ok := a.loadOwned(w, r, userID)
	if !ok {
		return
	}
	if gen.Status != domain.StatusCompleted || len(gen.Results) == 0 {
		a.error(w, http.StatusConflict, "conflict", "generation has no downloadable outputs")
		return
	}
	assets := make([]zip.Asset, 0, len(gen.Results))
	for _, res := range gen.Results {
		data, err := a.Store.Get(r.Context(), res.StorageKey)
		if err != nil {
			a.Logger.Warn().Err(err).Str("key", res.StorageKey).Msg("missing artifact during download")
			continue
		}
		assets = append(assets, zip.Asset{
			Filename: path.Base(res.StorageKey),
			MIME:     mimeForKey(res.StorageKey),
			Data:     data,
		})
	}
	if len(assets) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "artifacts unavailable")
		return
	}
	archive := zip.ArchiveAssets(assets)
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", gen.ID+".zip"))
	w.Header().Set("Content-Length", strconv.Itoa(len(archive)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}

func (a *App) loadOwned(w http.ResponseWriter, r *http.Request, userID string) (*domain.Generation, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "id required")
		return nil, false
	}
	gen, err := a.Generations.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "generation not found")
			return nil, false
		}
		a.Logger.Error().Err(err).Str("generation_id", id).Msg("load generation failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load generation")
		return nil, false
	}
	if gen.UserID != userID {
		a.error(w, http.StatusNotFound, "not_found", "generation not found")
		return nil, false
	}
	return gen, true
}

// refreshURLs re-mints signed URLs so stored records never serve stale
// signatures.
func (a *App) refreshURLs(gen *domain.Generation) {
	for i := range gen.Results {
		res := &gen.Results[i]
		if res.StorageKey == "" {
			continue
		}
		if url, err := a.Store.SignedURL(res.StorageKey, a.signedTTL()); err == nil {
			res.URL = url
		}
		res.CDNURL = a.Store.CDNURL(res.StorageKey)
	}
}

func parseIntParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func mimeForKey(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	default:
		return "image/png"
	}
}
