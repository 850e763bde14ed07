package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rohanbojja/ottobot-orchestrator/pkg/orcherrors"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/types"
)

var validEnvironments = map[string]bool{
	"node": true, "python": true, "full-stack": true, "data-science": true,
}

const (
	minPromptLen = 1
	maxPromptLen = 5000
	minTimeout   = 300 * time.Second
	maxTimeout   = 7200 * time.Second
)

// createSessionRequest is the POST /session request body (spec §6.1).
type createSessionRequest struct {
	InitialPrompt string `json:"initial_prompt"`
	Environment   string `json:"environment"`
	TimeoutSecs   int    `json:"timeout"`
}

// SessionResponse is the DTO every session-bearing response shapes its
// body after (spec §6.1).
type SessionResponse struct {
	SessionID     string `json:"session_id"`
	Status        string `json:"status"`
	DesktopURL    string `json:"desktop_url,omitempty"`
	ChatURL       string `json:"chat_url"`
	CreatedAt     int64  `json:"created_at"`
	ExpiresAt     int64  `json:"expires_at"`
	InitialPrompt string `json:"initial_prompt,omitempty"`
}

func (g *Gateway) toResponse(s *types.Session) SessionResponse {
	resp := SessionResponse{
		SessionID:     s.ID,
		Status:        string(s.Status),
		ChatURL:       fmt.Sprintf("ws://%s:%d/session/%s/chat", g.cfg.Host, g.cfg.Port, s.ID),
		CreatedAt:     s.CreatedAt.Unix(),
		ExpiresAt:     s.ExpiresAt.Unix(),
		InitialPrompt: s.InitialPrompt,
	}
	if s.DesktopPort != 0 {
		resp.DesktopURL = fmt.Sprintf("http://%s:%d/vnc.html", g.cfg.Host, s.DesktopPort)
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	kind := orcherrors.KindOf(err)
	writeJSON(w, orcherrors.HTTPStatus(kind), map[string]string{"error": err.Error()})
}

// createSession handles POST /session: validates the request, allocates
// a desktop port, creates the session record, and enqueues its
// CreateSession job (spec §6.1, §4.7.2 step 0).
func (g *Gateway) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, orcherrors.Wrap(orcherrors.ValidationError, "malformed request body", err))
		return
	}
	if len(req.InitialPrompt) < minPromptLen || len(req.InitialPrompt) > maxPromptLen {
		writeError(w, orcherrors.New(orcherrors.ValidationError, "initial_prompt must be 1-5000 characters"))
		return
	}
	if req.Environment == "" {
		req.Environment = "full-stack"
	}
	if !validEnvironments[req.Environment] {
		writeError(w, orcherrors.New(orcherrors.ValidationError, "unsupported environment"))
		return
	}
	timeout := time.Duration(req.TimeoutSecs) * time.Second
	if timeout == 0 {
		timeout = time.Hour
	}
	if timeout < minTimeout || timeout > maxTimeout {
		writeError(w, orcherrors.New(orcherrors.ValidationError, "timeout must be between 300 and 7200 seconds"))
		return
	}

	ctx := r.Context()
	desktopPort, err := g.desktop.Allocate(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	if desktopPort == 0 {
		writeError(w, orcherrors.New(orcherrors.ResourceExhausted, "no desktop ports available"))
		return
	}

	session, err := g.registry.Create(ctx, req.InitialPrompt, req.Environment, timeout)
	if err != nil {
		_ = g.desktop.Release(ctx, desktopPort)
		writeError(w, err)
		return
	}
	session, err = g.registry.Update(ctx, session.ID, func(s *types.Session) {
		s.DesktopPort = desktopPort
	})
	if err != nil {
		_ = g.desktop.Release(ctx, desktopPort)
		writeError(w, err)
		return
	}

	if _, err := g.queue.Enqueue(ctx, types.JobCreateSession, session.ID, nil); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, g.toResponse(session))
}

// listSessions handles GET /session: non-Terminated sessions ordered by
// creation time, most recent first (spec §6.1).
func (g *Gateway) listSessions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 0)
	offset := queryInt(r, "offset", 0)

	sessions, err := g.registry.ListActive(r.Context(), 0, 0)
	if err != nil {
		writeError(w, err)
		return
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].CreatedAt.After(sessions[j].CreatedAt) })

	if offset >= len(sessions) {
		sessions = nil
	} else {
		end := len(sessions)
		if limit > 0 && offset+limit < end {
			end = offset + limit
		}
		sessions = sessions[offset:end]
	}

	resp := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		resp = append(resp, g.toResponse(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": resp})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// getSession handles GET /session/:id.
func (g *Gateway) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	session, err := g.registry.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if session == nil {
		writeError(w, orcherrors.New(orcherrors.NotFound, "session not found"))
		return
	}
	writeJSON(w, http.StatusOK, g.toResponse(session))
}

// terminateSession handles DELETE /session/:id: marks the session
// Terminating and enqueues its TerminateSession job, returning
// immediately per spec §6.1 (the controller finishes the teardown
// asynchronously).
func (g *Gateway) terminateSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	ctx := r.Context()
	session, err := g.registry.Get(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if session == nil {
		writeError(w, orcherrors.New(orcherrors.NotFound, "session not found"))
		return
	}
	if session.Status.Terminal() {
		writeJSON(w, http.StatusAccepted, map[string]string{"message": "session already terminated", "session_id": id})
		return
	}
	if _, err := g.registry.SetStatus(ctx, id, types.SessionTerminating, ""); err != nil {
		writeError(w, err)
		return
	}
	if _, err := g.queue.Enqueue(ctx, types.JobTerminateSession, id, nil); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "termination requested", "session_id": id})
}

// getSessionLogs handles GET /session/:id/logs?limit=.
func (g *Gateway) getSessionLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	ctx := r.Context()
	session, err := g.registry.Get(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if session == nil {
		writeError(w, orcherrors.New(orcherrors.NotFound, "session not found"))
		return
	}
	limit := queryInt(r, "limit", 0)
	logs, err := g.registry.ReadLogs(ctx, id, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "logs": logs})
}

// downloadSession handles GET /download/:id: redirects to the
// sandbox's tool endpoint download route (spec §6.1, §6.3).
func (g *Gateway) downloadSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	ctx := r.Context()
	session, err := g.registry.Get(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if session == nil {
		writeError(w, orcherrors.New(orcherrors.NotFound, "session not found"))
		return
	}
	if session.ToolPort == 0 {
		writeError(w, orcherrors.New(orcherrors.ValidationError, "session has no tool endpoint yet"))
		return
	}
	http.Redirect(w, r, fmt.Sprintf("http://%s:%d/download", g.cfg.Host, session.ToolPort), http.StatusFound)
}

// health handles GET /health: a cheap liveness probe.
func (g *Gateway) health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	storeOK := g.s.Client().Ping(ctx).Err() == nil
	status := "healthy"
	if !storeOK {
		status = "degraded"
	}

	workerKeys, err := g.s.Keys(ctx, "worker:*:status")
	if err != nil {
		workerKeys = nil
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"version":   Version,
		"uptime_s":  int(time.Since(g.startedAt).Seconds()),
		"timestamp": time.Now().Unix(),
		"services": map[string]any{
			"store":           storeOK,
			"sandbox_runtime": len(workerKeys) > 0,
			"workers":         len(workerKeys),
		},
	})
}

// healthMetrics handles GET /health/metrics: the operational snapshot
// from spec §6.1 (active/total sessions, queue depth, worker roster).
func (g *Gateway) healthMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	active, err := g.registry.ListActive(ctx, 0, 0)
	if err != nil {
		writeError(w, err)
		return
	}

	queueLen, err := g.queue.Length(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	inFlight, err := g.queue.InFlightCounts(ctx)
	if err != nil {
		writeError(w, err)
		return
	}

	keys, err := g.s.Keys(ctx, "worker:*:status")
	if err != nil {
		writeError(w, err)
		return
	}
	workers := make([]map[string]any, 0, len(keys))
	for _, key := range keys {
		data, err := g.s.Get(ctx, key)
		if err != nil {
			continue
		}
		var entry types.WorkerEntry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			continue
		}
		workers = append(workers, map[string]any{
			"id":             entry.WorkerID,
			"active":         entry.Status == types.WorkerActive,
			"last_heartbeat": entry.LastHeartbeat.Unix(),
			"current_jobs":   inFlight[entry.WorkerID],
		})
	}

	totalRaw, err := g.s.Get(ctx, "metrics:total_sessions")
	total := 0
	if err == nil {
		if n, convErr := strconv.Atoi(totalRaw); convErr == nil {
			total = n
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"active_sessions": len(active),
		"total_sessions":  total,
		"queue_length":    queueLen,
		"worker_status":   workers,
		"timestamp":       time.Now().Unix(),
	})
}
