package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/kestrelhq/memmesh/backend"
	"github.com/kestrelhq/memmesh/types"
)

// MemoryService is the slice of the mesh the handlers need.
type MemoryService interface {
	SaveMemoryTo(ctx context.Context, rec types.Memory) (id, backendUsed string)
	LoadMemoriesFrom(ctx context.Context, f types.MemoryFilter) ([]types.Memory, string)
	GetMemoryFrom(ctx context.Context, id string) (*types.Memory, string)
	BackendStatus(ctx context.Context) types.BackendStatus
	ActiveBackend() string
	Diagnostics() []backend.Attempt
}

// MemoryHandler serves the mesh surface over HTTP.
type MemoryHandler struct {
	svc    MemoryService
	logger *zap.Logger
}

// NewMemoryHandler creates the handler set.
func NewMemoryHandler(svc MemoryService, logger *zap.Logger) *MemoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryHandler{svc: svc, logger: logger.With(zap.String("component", "api"))}
}

// Register mounts the routes on mux.
func (h *MemoryHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/memories", h.Save)
	mux.HandleFunc("GET /v1/memories", h.Load)
	mux.HandleFunc("GET /v1/memories/{id}", h.Get)
	mux.HandleFunc("GET /v1/backends/status", h.Status)
	mux.HandleFunc("GET /v1/backends/active", h.Active)
	mux.HandleFunc("GET /v1/diagnostics", h.Diagnostics)
	mux.HandleFunc("GET /healthz", h.Health)
}

type saveRequest struct {
	Content    string   `json:"content"`
	Type       string   `json:"type"`
	Importance float64  `json:"importance"`
	Tags       []string `json:"tags,omitempty"`
}

type saveResponse struct {
	ID      string `json:"id"`
	Backend string `json:"backend"`
}

// Save stores one record through the fallback chain.
func (h *MemoryHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "INVALID_REQUEST", "request body is not valid JSON")
		return
	}

	m := types.Memory{
		Content:    req.Content,
		Type:       types.MemoryType(req.Type),
		Importance: req.Importance,
		Tags:       req.Tags,
	}
	m.Normalize()
	if err := m.Validate(); err != nil {
		WriteError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	id, used := h.svc.SaveMemoryTo(r.Context(), m)
	if id == "" {
		// The mesh never throws; an empty id means every tier is
		// currently out of reach.
		WriteError(w, http.StatusServiceUnavailable, "ALL_BACKENDS_UNAVAILABLE",
			"no storage tier accepted the write")
		return
	}
	WriteSuccess(w, saveResponse{ID: id, Backend: used})
}

type loadResponse struct {
	Memories []types.Memory `json:"memories"`
	Backend  string         `json:"backend,omitempty"`
}

// Load queries records. An empty result is served as success: callers
// must treat it as "temporarily no data", not "nothing exists".
func (h *MemoryHandler) Load(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	memories, used := h.svc.LoadMemoriesFrom(r.Context(), f)
	WriteSuccess(w, loadResponse{Memories: memories, Backend: used})
}

// Get fetches one record by id.
func (h *MemoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	m, used := h.svc.GetMemoryFrom(r.Context(), id)
	if m == nil {
		WriteError(w, http.StatusNotFound, "NOT_FOUND",
			"record not available from any tier")
		return
	}
	WriteSuccess(w, map[string]any{"memory": m, "backend": used})
}

// Status reports a fresh per-tier reachability snapshot.
func (h *MemoryHandler) Status(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.svc.BackendStatus(r.Context()))
}

// Active reports the informational active-backend marker.
func (h *MemoryHandler) Active(w http.ResponseWriter, _ *http.Request) {
	active := h.svc.ActiveBackend()
	WriteSuccess(w, map[string]any{"active": active})
}

// Diagnostics exposes the per-attempt outcomes of the most recent
// operation. Debug surface, separate from primary results.
func (h *MemoryHandler) Diagnostics(w http.ResponseWriter, _ *http.Request) {
	WriteSuccess(w, h.svc.Diagnostics())
}

// Health is the liveness endpoint.
func (h *MemoryHandler) Health(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func filterFromQuery(r *http.Request) (types.MemoryFilter, error) {
	q := r.URL.Query()
	var f types.MemoryFilter

	if v := q.Get("type"); v != "" {
		for _, part := range strings.Split(v, ",") {
			mt := types.MemoryType(strings.TrimSpace(part))
			if !mt.Valid() {
				return f, types.NewError(types.ErrCodeProtocol, "unknown memory type "+part)
			}
			f.Types = append(f.Types, mt)
		}
	}
	if v := q.Get("min_importance"); v != "" {
		x, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return f, types.NewError(types.ErrCodeProtocol, "min_importance is not a number")
		}
		f.MinImportance = x
	}
	if v := q.Get("tags"); v != "" {
		for _, part := range strings.Split(v, ",") {
			f.Tags = append(f.Tags, strings.TrimSpace(part))
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, types.NewError(types.ErrCodeProtocol, "limit is not a non-negative integer")
		}
		f.Limit = n
	}
	return f, nil
}
