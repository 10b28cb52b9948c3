package httpadapter

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/finbotics/business-assistant/internal/core/ports"
)

// RouterConfig carries the transport-level knobs; everything semantic lives
// behind the injected use cases.
type RouterConfig struct {
	RateLimitRPS   float64
	RateLimitBurst int
	MaxInFlight    int
	QueueWait      time.Duration
}

type Router struct {
	assistant ports.Conversationalist
	plans     ports.PlanReader
	threads   ports.ThreadStore
	sessions  ports.SessionStateStore
	metrics   http.Handler
	cfg       RouterConfig
}

func NewRouter(
	assistant ports.Conversationalist,
	plans ports.PlanReader,
	threads ports.ThreadStore,
	sessions ports.SessionStateStore,
	metrics http.Handler,
	cfg RouterConfig,
) *Router {
	return &Router{
		assistant: assistant,
		plans:     plans,
		threads:   threads,
		sessions:  sessions,
		metrics:   metrics,
		cfg:       cfg,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/chat", rt.chat)
	mux.HandleFunc("/v1/plans/", rt.planByID)
	mux.HandleFunc("/v1/threads", rt.threadCollection)
	mux.HandleFunc("/v1/threads/", rt.threadByID)
	mux.HandleFunc("/v1/sessions/", rt.sessionByID)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics)
	}

	var handler http.Handler = mux
	if rt.cfg.MaxInFlight > 0 {
		handler = backpressureMiddleware(handler, rt.cfg.MaxInFlight, rt.cfg.QueueWait)
	}
	if rt.cfg.RateLimitRPS > 0 {
		handler = rateLimitMiddleware(handler, rt.cfg.RateLimitRPS, rt.cfg.RateLimitBurst)
	}
	return requestIDMiddleware(accessLogMiddleware(handler))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) chat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req ports.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	result, err := rt.assistant.HandleTurn(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// planByID serves GET /v1/plans/{id} and POST /v1/plans/{id}/approve.
func (rt *Router) planByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/plans/")
	if rest == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "plan id is required"})
		return
	}

	if planID, ok := strings.CutSuffix(rest, "/approve"); ok {
		rt.approvePlan(w, r, planID)
		return
	}
	if strings.Contains(rest, "/") {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown route"})
		return
	}
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	plan, err := rt.plans.GetPlan(r.Context(), rest)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (rt *Router) approvePlan(w http.ResponseWriter, r *http.Request, planID string) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if planID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "plan id is required"})
		return
	}

	var req struct {
		ApprovedBy string `json:"approved_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.ApprovedBy) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "approved_by is required"})
		return
	}

	if err := rt.plans.Approve(r.Context(), planID, req.ApprovedBy); err != nil {
		writeError(w, err)
		return
	}

	plan, err := rt.plans.GetPlan(r.Context(), planID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// threadCollection serves GET /v1/threads (list) and POST /v1/threads
// (start a new thread, deactivating the user's current one).
func (rt *Router) threadCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		rt.listThreads(w, r)
	case http.MethodPost:
		rt.startThread(w, r)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (rt *Router) startThread(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID     string `json:"user_id"`
		Title      string `json:"title"`
		ThreadType string `json:"thread_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id is required"})
		return
	}

	thread, err := rt.threads.StartThread(r.Context(), req.UserID, req.Title, req.ThreadType)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, thread)
}

// threadByID serves POST /v1/threads/{id}/switch, reactivating an earlier
// thread for the user.
func (rt *Router) threadByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/threads/")
	threadID, ok := strings.CutSuffix(rest, "/switch")
	if !ok || threadID == "" || strings.Contains(threadID, "/") {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown route"})
		return
	}
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id is required"})
		return
	}

	if err := rt.threads.SwitchThread(r.Context(), req.UserID, threadID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"thread_id": threadID, "status": "active"})
}

// sessionByID serves DELETE /v1/sessions/{id}, clearing the session
// scratchpad when a session ends.
func (rt *Router) sessionByID(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(r.URL.Path, "/v1/sessions/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown route"})
		return
	}
	if r.Method != http.MethodDelete {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	if err := rt.sessions.Clear(r.Context(), sessionID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": sessionID, "status": "cleared"})
}

func (rt *Router) listThreads(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id is required"})
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	threads, err := rt.threads.ListThreads(r.Context(), userID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"threads": threads})
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
