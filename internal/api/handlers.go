// Package api exposes HTTP handlers for the conditioning log service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"example.com/conditioning/internal/access"
	"example.com/conditioning/internal/aggregate"
	"example.com/conditioning/internal/auth"
	"example.com/conditioning/internal/domain"
	"example.com/conditioning/internal/service"
)

// Handler coordinates HTTP requests with the façade service.
type Handler struct {
	service *service.Service
}

// NewHandler builds a Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{service: svc}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/logs", h.logs)
	mux.HandleFunc("/v1/logs/counts", h.activityCounts)
	mux.HandleFunc("/v1/logs/aggregate", h.aggregateLogs)
	mux.HandleFunc("/v1/logs/", h.logByID)
	mux.HandleFunc("/healthz", healthz)
	mux.HandleFunc("/readyz", h.readyz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readyz reports whether the cache has been loaded.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if !h.service.Ready() {
		writeError(w, http.StatusServiceUnavailable, "not_ready", "cache not loaded")
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) logs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createLog(w, r)
	case http.MethodGet:
		h.listLogs(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) logByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/logs/")
	if rest == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing log id")
		return
	}

	if id, ok := strings.CutSuffix(rest, "/undelete"); ok {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
			return
		}
		h.undeleteLog(w, r, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getLog(w, r, rest)
	case http.MethodPut:
		h.updateLog(w, r, rest)
	case http.MethodDelete:
		h.deleteLog(w, r, rest)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) createLog(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerContext(w, r)
	if !ok {
		return
	}

	var req LogPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	logID, err := h.service.CreateLog(r.Context(), caller, r.URL.Query().Get("user_id"), req.toDomain(""))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateLogResponse{LogID: logID})
}

func (h *Handler) getLog(w http.ResponseWriter, r *http.Request, id string) {
	caller, ok := callerContext(w, r)
	if !ok {
		return
	}

	found, err := h.service.FetchLog(r.Context(), caller, r.URL.Query().Get("user_id"), id, includeDeleted(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (h *Handler) listLogs(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerContext(w, r)
	if !ok {
		return
	}

	logs, err := h.service.FetchLogs(r.Context(), caller, r.URL.Query().Get("user_id"), parseFilter(r), includeDeleted(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListLogsResponse{Items: logs})
}

func (h *Handler) activityCounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	caller, ok := callerContext(w, r)
	if !ok {
		return
	}

	counts, err := h.service.FetchActivityCounts(r.Context(), caller, r.URL.Query().Get("user_id"), parseFilter(r), includeDeleted(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (h *Handler) aggregateLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	caller, ok := callerContext(w, r)
	if !ok {
		return
	}

	params := aggregate.Params{
		Metric: aggregate.Metric(r.URL.Query().Get("metric")),
		Op:     aggregate.Op(r.URL.Query().Get("op")),
	}
	if raw := r.URL.Query().Get("window"); raw != "" {
		window, err := time.ParseDuration(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "invalid window")
			return
		}
		params.Window = window
	}

	series, err := h.service.FetchAggregatedLogs(r.Context(), caller, params, parseFilter(r), includeDeleted(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

func (h *Handler) updateLog(w http.ResponseWriter, r *http.Request, id string) {
	caller, ok := callerContext(w, r)
	if !ok {
		return
	}

	var req LogPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	if err := h.service.UpdateLog(r.Context(), caller, r.URL.Query().Get("user_id"), req.toDomain(id)); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteLog(w http.ResponseWriter, r *http.Request, id string) {
	caller, ok := callerContext(w, r)
	if !ok {
		return
	}

	soft := r.URL.Query().Get("hard") != "true"
	if err := h.service.DeleteLog(r.Context(), caller, r.URL.Query().Get("user_id"), id, soft); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) undeleteLog(w http.ResponseWriter, r *http.Request, id string) {
	caller, ok := callerContext(w, r)
	if !ok {
		return
	}

	if err := h.service.UndeleteLog(r.Context(), caller, r.URL.Query().Get("user_id"), id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LogPayload is the request body for create and update.
type LogPayload struct {
	Activity   string             `json:"activity"`
	Start      time.Time          `json:"start"`
	End        time.Time          `json:"end"`
	Duration   domain.Quantity    `json:"duration"`
	Note       string             `json:"note,omitempty"`
	Laps       []domain.Lap       `json:"laps,omitempty"`
	SensorLogs []domain.SensorLog `json:"sensor_logs,omitempty"`
}

// Validate ensures request correctness.
func (p LogPayload) Validate() error {
	if strings.TrimSpace(p.Activity) == "" {
		return errors.New("activity is required")
	}
	if p.Start.IsZero() {
		return errors.New("start is required")
	}
	if p.Duration.Value < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

func (p LogPayload) toDomain(id string) domain.ConditioningLog {
	return domain.ConditioningLog{
		EntityID:   id,
		Activity:   domain.Activity(p.Activity),
		Start:      p.Start,
		End:        p.End,
		Duration:   p.Duration,
		Note:       p.Note,
		Laps:       p.Laps,
		SensorLogs: p.SensorLogs,
	}
}

// CreateLogResponse describes the response body for create.
type CreateLogResponse struct {
	LogID string `json:"log_id"`
}

// ListLogsResponse packages list results.
type ListLogsResponse struct {
	Items []domain.ConditioningLog `json:"items"`
}

func callerContext(w http.ResponseWriter, r *http.Request) (access.Context, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return access.Context{}, false
	}
	return access.NewContext(claims.Subject, claims.RoleList()...), true
}

func includeDeleted(r *http.Request) bool {
	return r.URL.Query().Get("include_deleted") == "true"
}

func parseFilter(r *http.Request) *domain.Filter {
	query := r.URL.Query()
	filter := domain.Filter{Activity: domain.Activity(query.Get("activity"))}
	if raw := query.Get("from"); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.From = ts
		}
	}
	if raw := query.Get("to"); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.To = ts
		}
	}
	if filter.Activity == "" && filter.From.IsZero() && filter.To.IsZero() {
		return nil
	}
	return &filter
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
