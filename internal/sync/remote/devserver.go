package remote

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/logging"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/models"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/uuid"
)

// DevServer is an in-memory implementation of the remote REST contract,
// used for local development and tests.
type DevServer struct {
	mu       sync.RWMutex
	records  map[models.EntityType]map[string]*models.CachedRecord
	token    string
	failures []int
	requests int
	now      func() int64
	router   chi.Router
}

// NewDevServer creates a DevServer. When token is non-empty every entity
// request must carry it as a bearer token.
func NewDevServer(token string) *DevServer {
	s := &DevServer{
		records: make(map[models.EntityType]map[string]*models.CachedRecord),
		token:   token,
		now:     models.NowMillis,
	}
	for _, t := range models.EntityTypes() {
		s.records[t] = make(map[string]*models.CachedRecord)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/entities/{type}", func(r chi.Router) {
		r.Use(s.authenticate, s.injectFailures, s.requireScope)
		r.Get("/", s.list)
		r.Post("/", s.create)
		r.Patch("/{id}", s.update)
		r.Delete("/{id}", s.remove)
	})
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *DevServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Seed stores rec as if it had been created remotely.
func (s *DevServer) Seed(rec *models.CachedRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := rec.Clone()
	c.SyncStatus = ""
	s.records[c.EntityType][c.ID] = c
}

// Records returns the stored records of type t in list order.
func (s *DevServer) Records(t models.EntityType) []*models.CachedRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sorted(t, "")
}

// FailNext makes the next entity requests fail with the given statuses, in order.
func (s *DevServer) FailNext(statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, statuses...)
}

// Requests returns how many entity requests reached the server.
func (s *DevServer) Requests() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.requests
}

// =====================================================
// Middleware
// =====================================================

func (s *DevServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
			respondError(w, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *DevServer) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests++
		status := 0
		if len(s.failures) > 0 {
			status = s.failures[0]
			s.failures = s.failures[1:]
		}
		s.mu.Unlock()

		if status != 0 {
			respondError(w, status, "injected failure")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *DevServer) requireScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := models.ParseEntityType(chi.URLParam(r, "type")); err != nil {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		if r.URL.Query().Get("scope") == "" {
			respondError(w, http.StatusBadRequest, "scope query parameter is required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// =====================================================
// Handlers
// =====================================================

func (s *DevServer) list(w http.ResponseWriter, r *http.Request) {
	t := models.EntityType(chi.URLParam(r, "type"))
	scope := r.URL.Query().Get("scope")

	s.mu.RLock()
	records := s.sorted(t, scope)
	s.mu.RUnlock()

	respondJSON(w, http.StatusOK, records)
}

func (s *DevServer) create(w http.ResponseWriter, r *http.Request) {
	t := models.EntityType(chi.URLParam(r, "type"))
	scope := r.URL.Query().Get("scope")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxResponseBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	payload, err := models.DecodePayload(t, body)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := models.ValidatePayload(payload); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	var ids struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(body, &ids)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[t][ids.ID]; ok {
		if existing.ScopeKey != scope {
			respondError(w, http.StatusConflict, fmt.Sprintf("%s %s already exists", t, ids.ID))
			return
		}
		// replayed create
		respondJSON(w, http.StatusOK, existing)
		return
	}

	id := ids.ID
	if !uuid.IsValid(id) && !uuid.IsEntryID(id) {
		id = uuid.NewEntryID()
	}
	now := s.now()
	rec := &models.CachedRecord{
		ID:         id,
		EntityType: t,
		ScopeKey:   scope,
		CreatedAt:  now,
		UpdatedAt:  now,
		Payload:    payload,
	}
	s.records[t][id] = rec

	logging.Debug("dev remote created record", map[string]interface{}{
		"entity": string(t), "record_id": id, "scope": scope,
	})
	respondJSON(w, http.StatusCreated, rec)
}

func (s *DevServer) update(w http.ResponseWriter, r *http.Request) {
	t := models.EntityType(chi.URLParam(r, "type"))
	id := chi.URLParam(r, "id")
	scope := r.URL.Query().Get("scope")

	patch, err := io.ReadAll(io.LimitReader(r.Body, maxResponseBytes))
	if err != nil || len(strings.TrimSpace(string(patch))) == 0 {
		respondError(w, http.StatusBadRequest, "patch body is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[t][id]
	if !ok || rec.ScopeKey != scope {
		respondError(w, http.StatusNotFound, fmt.Sprintf("%s %s not found", t, id))
		return
	}
	next, err := models.ApplyPatch(rec.Payload, patch)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := models.ValidatePayload(next); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	updated := rec.Clone()
	updated.Payload = next
	updated.UpdatedAt = s.now()
	s.records[t][id] = updated

	respondJSON(w, http.StatusOK, updated)
}

func (s *DevServer) remove(w http.ResponseWriter, r *http.Request) {
	t := models.EntityType(chi.URLParam(r, "type"))
	id := chi.URLParam(r, "id")
	scope := r.URL.Query().Get("scope")

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[t][id]
	if !ok || rec.ScopeKey != scope {
		respondError(w, http.StatusNotFound, fmt.Sprintf("%s %s not found", t, id))
		return
	}
	delete(s.records[t], id)
	w.WriteHeader(http.StatusNoContent)
}

// sorted returns clones of the records of type t, newest first. An empty
// scope matches every record. Callers hold s.mu.
func (s *DevServer) sorted(t models.EntityType, scope string) []*models.CachedRecord {
	out := make([]*models.CachedRecord, 0, len(s.records[t]))
	for _, rec := range s.records[t] {
		if scope == "" || rec.ScopeKey == scope {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Error("failed to encode response", err, nil)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   true,
		"message": message,
		"code":    status,
	})
}
