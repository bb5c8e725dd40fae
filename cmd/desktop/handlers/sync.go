package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/errors"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/models"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/sync"
)

// NetworkController is the part of the network monitor the API drives.
type NetworkController interface {
	SyncNow(ctx context.Context) (*sync.SweepResult, bool)
	SetOnline(ctx context.Context, online bool)
}

// SyncHandler exposes sync status and the manual sync controls.
type SyncHandler struct {
	manager *sync.Manager
	network NetworkController
}

// NewSyncHandler creates a SyncHandler.
func NewSyncHandler(manager *sync.Manager, network NetworkController) *SyncHandler {
	return &SyncHandler{manager: manager, network: network}
}

// Routes mounts the handler under /sync.
func (h *SyncHandler) Routes(r chi.Router) {
	r.Get("/status", h.GetStatus)
	r.Get("/pending", h.GetPending)
	r.Get("/conflicts", h.GetConflicts)
	r.Get("/errors", h.GetErrors)
	r.Post("/now", h.TriggerSync)
	r.Post("/retry", h.RetryFailed)
	r.Post("/clear", h.ClearFailed)
	r.Post("/online", h.SetOnline)
}

// GetStatus handles GET /sync/status
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.manager.GetSyncStatus())
}

// GetPending handles GET /sync/pending
func (h *SyncHandler) GetPending(w http.ResponseWriter, r *http.Request) {
	records, err := h.manager.GetPending(r.Context())
	if err != nil {
		respondAppError(w, err)
		return
	}
	if records == nil {
		records = []*models.CachedRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items": records,
		"total": len(records),
	})
}

// GetConflicts handles GET /sync/conflicts?limit=
func (h *SyncHandler) GetConflicts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			respondError(w, http.StatusBadRequest, errors.ErrInvalid, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	conflicts, err := h.manager.GetConflicts(r.Context(), limit)
	if err != nil {
		respondAppError(w, err)
		return
	}
	if conflicts == nil {
		conflicts = []*models.ConflictLog{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items":      conflicts,
		"resolution": models.ResolutionServerWins,
	})
}

// GetErrors handles GET /sync/errors
func (h *SyncHandler) GetErrors(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items": h.manager.Engine().GetErrorHistory(),
	})
}

// TriggerSync handles POST /sync/now. It answers 202 with started=false
// when a sweep is already draining the queue.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	var (
		result  *sync.SweepResult
		started bool
	)
	if h.network != nil {
		result, started = h.network.SyncNow(r.Context())
	} else {
		result, started = h.manager.TriggerSync(r.Context())
	}

	if !started {
		respondJSON(w, http.StatusAccepted, map[string]interface{}{
			"started": false,
			"message": "sync already in progress",
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"started": true,
		"result":  result,
	})
}

// RetryFailed handles POST /sync/retry
func (h *SyncHandler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	n, err := h.manager.RetryFailedItems(r.Context())
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"retried": n,
		"status":  h.manager.GetSyncStatus(),
	})
}

// ClearFailed handles POST /sync/clear
func (h *SyncHandler) ClearFailed(w http.ResponseWriter, r *http.Request) {
	n, err := h.manager.ClearFailedItems(r.Context())
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"cleared": n,
		"status":  h.manager.GetSyncStatus(),
	})
}

// SetOnline handles POST /sync/online with {"online": bool}. The shell
// reports browser connectivity events through it.
func (h *SyncHandler) SetOnline(w http.ResponseWriter, r *http.Request) {
	if h.network == nil {
		respondError(w, http.StatusNotImplemented, errors.ErrInvalid, "network monitor not running")
		return
	}

	var req struct {
		Online *bool `json:"online"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondAppError(w, err)
		return
	}
	if req.Online == nil {
		respondError(w, http.StatusBadRequest, errors.ErrValidation, "online is required")
		return
	}

	h.network.SetOnline(r.Context(), *req.Online)
	respondJSON(w, http.StatusOK, h.manager.GetSyncStatus())
}
