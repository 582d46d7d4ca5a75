// Package api provides HTTP handlers for Pixwave endpoints.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/Pixwave/internal/flow"
	"github.com/BTreeMap/Pixwave/internal/models"
)

// maxRequestBodyBytes bounds prompt request bodies. Form encoding can expand
// a prompt of MaxPromptLength bytes up to three times.
const maxRequestBodyBytes = 4*models.MaxPromptLength + 1024

// promptRequest is the JSON body accepted by /generate and /prompt.
type promptRequest struct {
	Prompt *string `json:"prompt"`
}

// pageHandler renders the landing page for the caller's session (GET /).
func (s *Server) pageHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.pageHandler: processing page request", "method", r.Method, "path", r.URL.Path)
	if r.URL.Path != "/" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Not found"))
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		slog.Warn("Server.pageHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	wf := s.resolveSession(w, r)
	writePage(w, r, s.catalog, wf.Snapshot())
}

// generateHandler updates the prompt and submits it (POST /generate).
func (s *Server) generateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.generateHandler: processing generate request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.generateHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	prompt, present, err := readPrompt(w, r)
	if err != nil {
		slog.Warn("Server.generateHandler: invalid prompt request", "error", err)
		writeJSONResponse(w, statusForPromptError(err), models.Error(err.Error()))
		return
	}

	wf := s.resolveSession(w, r)
	if present {
		wf.UpdatePrompt(prompt)
	}
	started := wf.Submit()
	snap := wf.Snapshot()

	if !wantsJSON(r) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	if started {
		slog.Info("Server.generateHandler: generation started", "session", snap.SessionID)
		writeJSONResponse(w, http.StatusAccepted, models.Accepted(snap))
		return
	}
	slog.Debug("Server.generateHandler: generation not started", "session", snap.SessionID, "state", snap.State)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage(notStartedReason(snap), snap))
}

// promptHandler replaces the session's prompt text without submitting (POST /prompt).
func (s *Server) promptHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.promptHandler: processing prompt update", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.promptHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	prompt, present, err := readPrompt(w, r)
	if err != nil {
		slog.Warn("Server.promptHandler: invalid prompt request", "error", err)
		writeJSONResponse(w, statusForPromptError(err), models.Error(err.Error()))
		return
	}
	if !present {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: prompt"))
		return
	}

	wf := s.resolveSession(w, r)
	wf.UpdatePrompt(prompt)
	writeJSONResponse(w, http.StatusOK, models.Success(wf.Snapshot()))
}

// stateHandler returns the snapshot for the caller's session (GET /state).
func (s *Server) stateHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.stateHandler: processing state request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.stateHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	wf, err := s.sessions.Get(sessionIDFromRequest(r))
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
			return
		}
		slog.Error("Server.stateHandler: failed to look up session", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to look up session"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(wf.Snapshot()))
}

// contentHandler returns the static page content (GET /content).
func (s *Server) contentHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.catalog))
}

// statsHandler returns aggregates over stored generation receipts (GET /stats).
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.statsHandler: processing stats request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.statsHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	receipts, err := s.st.GetGenerationReceipts()
	if err != nil {
		slog.Error("Server.statsHandler: failed to fetch receipts", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch generation receipts"))
		return
	}
	stats := models.ComputeReceiptStats(receipts)
	slog.Debug("Server.statsHandler: stats computed", "total", stats.Total, "completed", stats.Completed)
	writeJSONResponse(w, http.StatusOK, models.Success(stats))
}

// timersHandler lists pending generation timers (GET /timers, GET /timers/{id}).
func (s *Server) timersHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.timersHandler: processing timers request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	path := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, "/timers"), "/")
	if path == "" {
		timers := s.timer.ListActive()
		writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
			"timers": timers,
			"count":  len(timers),
		}))
		return
	}
	if strings.Contains(path, "/") {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown timer endpoint"))
		return
	}

	info, err := s.timer.GetTimer(path)
	if err != nil {
		slog.Warn("Server.timersHandler: timer not found", "timerID", path, "error", err)
		writeJSONResponse(w, http.StatusNotFound, models.Error("Timer not found: "+err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(info))
}

// healthHandler provides a health check endpoint for monitoring and load balancing
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	healthData := map[string]interface{}{
		"status":          "healthy",
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
		"uptime":          time.Since(s.startedAt).Round(time.Second).String(),
		"active_sessions": s.sessions.Count(),
		"pending_timers":  len(s.timer.ListActive()),
	}
	writeJSONResponse(w, http.StatusOK, healthData)
}

// resolveSession returns the caller's workflow, starting a session and
// setting the cookie when the request carries no live session.
func (s *Server) resolveSession(w http.ResponseWriter, r *http.Request) *flow.Workflow {
	wf, created := s.sessions.Resolve(sessionIDFromRequest(r))
	if created {
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookieName,
			Value:    wf.SessionID(),
			Path:     "/",
			HttpOnly: true,
			Secure:   s.secureCookies,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return wf
}

func sessionIDFromRequest(r *http.Request) string {
	c, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// readPrompt extracts the prompt from a JSON or form body. present is false
// when the request has no prompt field at all.
func readPrompt(w http.ResponseWriter, r *http.Request) (prompt string, present bool, err error) {
	if r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	}

	if isJSONContent(r) {
		var req promptRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", false, fmt.Errorf("invalid JSON format: %w", err)
		}
		if req.Prompt == nil {
			return "", false, nil
		}
		prompt, present = *req.Prompt, true
	} else {
		if err := r.ParseForm(); err != nil {
			return "", false, fmt.Errorf("invalid form body: %w", err)
		}
		if !r.PostForm.Has("prompt") {
			return "", false, nil
		}
		prompt, present = r.PostForm.Get("prompt"), true
	}

	if len(prompt) > models.MaxPromptLength {
		return "", false, fmt.Errorf("%w: %d bytes (max %d)", models.ErrPromptTooLong, len(prompt), models.MaxPromptLength)
	}
	return prompt, present, nil
}

func statusForPromptError(err error) int {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func isJSONContent(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	return err == nil && mediaType == "application/json"
}

// wantsJSON reports whether the caller is an API client rather than a browser form.
func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json") || isJSONContent(r)
}

func notStartedReason(snap models.Snapshot) string {
	switch {
	case snap.Generating():
		return "Generation already in progress"
	case models.IsBlank(snap.PromptText):
		return "Prompt is blank"
	default:
		return "Generation not started"
	}
}
