package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/db"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/errors"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/export"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/models"
)

// ExportHandler handles data export.
type ExportHandler struct {
	exporter export.Exporter
	archives db.ExportArchiveRepository
	scopeKey string
}

// NewExportHandler creates an ExportHandler. scopeKey is used when the
// request does not name one.
func NewExportHandler(exporter export.Exporter, archives db.ExportArchiveRepository, scopeKey string) *ExportHandler {
	return &ExportHandler{exporter: exporter, archives: archives, scopeKey: scopeKey}
}

// Routes mounts the handler under /export.
func (h *ExportHandler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Export)
	r.Post("/verify", h.Verify)
}

// ExportRequest is the body of POST /export.
type ExportRequest struct {
	ScopeKey   string `json:"scope_key"`
	OutputPath string `json:"output_path"`
	Password   string `json:"password"` // optional, enables encryption
}

// VerifyRequest is the body of POST /export/verify.
type VerifyRequest struct {
	Path     string `json:"path" validate:"required"`
	Password string `json:"password"`
}

// Export handles POST /export
func (h *ExportHandler) Export(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if err := decodeJSON(r, &req); err != nil {
		respondAppError(w, err)
		return
	}
	if req.ScopeKey == "" {
		req.ScopeKey = h.scopeKey
	}

	result, err := h.exporter.Export(r.Context(), &export.Options{
		ScopeKey:   req.ScopeKey,
		OutputPath: req.OutputPath,
		Password:   req.Password,
	})
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

// Verify handles POST /export/verify
func (h *ExportHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := decodeJSON(r, &req); err != nil {
		respondAppError(w, err)
		return
	}
	if err := models.Validator().Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, errors.ErrValidation, "path is required")
		return
	}

	manifest, err := h.exporter.Verify(req.Path, req.Password)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"valid":    true,
		"manifest": manifest,
	})
}

// List handles GET /export
func (h *ExportHandler) List(w http.ResponseWriter, r *http.Request) {
	archives, err := h.archives.ListExportArchives(r.Context())
	if err != nil {
		respondAppError(w, err)
		return
	}
	if archives == nil {
		archives = []*models.ExportArchive{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items": archives,
		"total": len(archives),
	})
}
