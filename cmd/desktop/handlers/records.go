package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/errors"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/models"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/sync"
)

const maxBodyBytes = 1 << 20

// RecordHandler exposes local-first record operations. Writes always land
// in the local store and the sync queue; the network is never on the path.
type RecordHandler struct {
	manager *sync.Manager
}

// NewRecordHandler creates a RecordHandler.
func NewRecordHandler(manager *sync.Manager) *RecordHandler {
	return &RecordHandler{manager: manager}
}

// Routes mounts the handler under /entities/{type}.
func (h *RecordHandler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Patch("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
}

func entityType(r *http.Request) (models.EntityType, error) {
	t, err := models.ParseEntityType(chi.URLParam(r, "type"))
	if err != nil {
		return "", errors.Wrap(errors.ErrNotFound, "unknown entity type", err)
	}
	return t, nil
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "read request body", err)
	}
	if !json.Valid(body) {
		return nil, errors.New(errors.ErrInvalid, "request body is not valid JSON")
	}
	return body, nil
}

// List handles GET /entities/{type}?scope=
func (h *RecordHandler) List(w http.ResponseWriter, r *http.Request) {
	t, err := entityType(r)
	if err != nil {
		respondAppError(w, err)
		return
	}

	records, err := h.manager.List(r.Context(), t, r.URL.Query().Get("scope"))
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

// Create handles POST /entities/{type}
func (h *RecordHandler) Create(w http.ResponseWriter, r *http.Request) {
	t, err := entityType(r)
	if err != nil {
		respondAppError(w, err)
		return
	}
	body, err := readBody(r)
	if err != nil {
		respondAppError(w, err)
		return
	}
	payload, err := models.DecodePayload(t, body)
	if err != nil {
		respondAppError(w, errors.Wrap(errors.ErrInvalid, "invalid "+string(t)+" payload", err))
		return
	}

	rec, err := h.manager.CreateLocal(r.Context(), t, payload)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, rec)
}

// Update handles PATCH /entities/{type}/{id}
func (h *RecordHandler) Update(w http.ResponseWriter, r *http.Request) {
	t, err := entityType(r)
	if err != nil {
		respondAppError(w, err)
		return
	}
	body, err := readBody(r)
	if err != nil {
		respondAppError(w, err)
		return
	}

	rec, err := h.manager.UpdateLocal(r.Context(), t, chi.URLParam(r, "id"), body)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// Delete handles DELETE /entities/{type}/{id}
func (h *RecordHandler) Delete(w http.ResponseWriter, r *http.Request) {
	t, err := entityType(r)
	if err != nil {
		respondAppError(w, err)
		return
	}

	if err := h.manager.DeleteLocal(r.Context(), t, chi.URLParam(r, "id")); err != nil {
		respondAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
