package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ukpulse/pulseboard/internal/events"
	"github.com/ukpulse/pulseboard/internal/prefs"
	"github.com/ukpulse/pulseboard/internal/pulse"
	"github.com/ukpulse/pulseboard/internal/storage"
)

// maxRequestBody bounds API request bodies. Chat messages are short.
const maxRequestBody = 1 << 20

// DashboardResponse is the full dashboard snapshot.
type DashboardResponse struct {
	State            pulse.State   `json:"state"`
	LastUpdated      string        `json:"last_updated,omitempty"`
	LastUpdatedLabel string        `json:"last_updated_label,omitempty"`
	Panels           []pulse.Panel `json:"panels"`
	Relay            RelayStatus   `json:"relay"`
}

// RelayStatus is the relay probe state inside the snapshot.
type RelayStatus struct {
	Healthy   bool   `json:"healthy"`
	LastCheck string `json:"last_check,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// handleDashboard returns the current panels and pipeline state.
// GET /api/dashboard
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	snap := s.coordinator.Snapshot()

	resp := DashboardResponse{
		State:            snap.State,
		LastUpdatedLabel: snap.LastUpdatedLabel,
		Panels:           make([]pulse.Panel, 0, len(snap.Panels)),
		Relay:            s.relayStatus(),
	}
	if !snap.LastUpdated.IsZero() {
		resp.LastUpdated = snap.LastUpdated.Format(time.RFC3339)
	}
	for _, category := range pulse.Categories() {
		if panel, ok := snap.Panels[category]; ok {
			resp.Panels = append(resp.Panels, panel)
		}
	}

	s.writeJSON(w, resp)
}

func (s *Server) relayStatus() RelayStatus {
	if s.relay == nil {
		return RelayStatus{Healthy: true}
	}
	st := RelayStatus{
		Healthy:   s.relay.Healthy(),
		LastError: s.relay.LastError(),
	}
	if t := s.relay.LastCheck(); !t.IsZero() {
		st.LastCheck = t.Format(time.RFC3339)
	}
	return st
}

// RefreshResponse reports whether a manual refresh started.
type RefreshResponse struct {
	Started bool        `json:"started"`
	State   pulse.State `json:"state"`
}

// handleRefresh triggers a manual refresh cycle. A cycle already in flight
// wins; the response then carries started:false.
// POST /api/refresh
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	started := s.coordinator.Refresh("manual")
	s.writeJSON(w, RefreshResponse{
		Started: started,
		State:   s.coordinator.Snapshot().State,
	})
}

// ChatSendRequest is one chat submission. SessionID is empty on the first
// message; the client keeps the id from the response.
type ChatSendRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// ChatSendResponse carries the assistant reply.
type ChatSendResponse struct {
	SessionID        string `json:"session_id"`
	Reply            string `json:"reply"`
	TranscriptLength int    `json:"transcript_length"`
}

// handleChatSend submits a chat message and waits for the reply.
// POST /api/chat
func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		s.writeError(w, http.StatusServiceUnavailable, "chat not available")
		return
	}

	var req ChatSendRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, http.StatusBadRequest, "message must not be empty")
		return
	}

	session := s.sessions.GetOrCreate(req.SessionID)
	reply, err := session.Send(r.Context(), req.Message)
	switch {
	case errors.Is(err, pulse.ErrEmptyMessage):
		s.writeError(w, http.StatusBadRequest, "message must not be empty")
		return
	case errors.Is(err, pulse.ErrBusy):
		s.writeError(w, http.StatusConflict, "a reply is still in progress")
		return
	case err != nil:
		s.logger.Error("chat send failed", "err", err, "session_id", session.ID)
		s.writeError(w, http.StatusInternalServerError, "chat send failed")
		return
	}

	s.writeJSON(w, ChatSendResponse{
		SessionID:        session.ID,
		Reply:            reply.Text,
		TranscriptLength: len(session.Transcript()),
	})
}

// ChatTranscriptResponse replays a session transcript.
type ChatTranscriptResponse struct {
	SessionID string          `json:"session_id"`
	Messages  []pulse.Message `json:"messages"`
}

// handleChatTranscript replays the transcript of a live session.
// GET /api/chat?session=
func (s *Server) handleChatTranscript(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		s.writeError(w, http.StatusServiceUnavailable, "chat not available")
		return
	}

	id := r.URL.Query().Get("session")
	if id == "" {
		s.writeError(w, http.StatusBadRequest, "missing session parameter")
		return
	}
	session, ok := s.sessions.Get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}

	s.writeJSON(w, ChatTranscriptResponse{
		SessionID: session.ID,
		Messages:  session.Transcript(),
	})
}

// ThemeResponse carries the persisted theme.
type ThemeResponse struct {
	Theme prefs.Theme `json:"theme"`
}

// handleThemeGet returns the persisted theme.
// GET /api/prefs/theme
func (s *Server) handleThemeGet(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, ThemeResponse{Theme: s.prefs.Theme()})
}

// handleThemePut stores the theme.
// PUT /api/prefs/theme
func (s *Server) handleThemePut(w http.ResponseWriter, r *http.Request) {
	var req ThemeResponse
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	theme, err := prefs.ParseTheme(string(req.Theme))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.prefs.SetTheme(theme); err != nil {
		// The in-memory value changed; persistence catches up on the next set.
		s.logger.Warn("failed to persist theme", "err", err)
	}
	s.writeJSON(w, ThemeResponse{Theme: theme})
}

// HistoryResponse lists recent refresh cycles, newest first.
type HistoryResponse struct {
	Cycles []storage.Cycle `json:"cycles"`
	Count  int             `json:"count"`
}

// handleHistory lists recent refresh cycles.
// GET /api/history?limit=50&trigger=&window=
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "storage not available")
		return
	}

	q := r.URL.Query()
	opts := storage.ListOptions{
		Limit:   parseInt(q.Get("limit"), 50),
		Trigger: q.Get("trigger"),
	}
	if q.Get("window") != "" {
		opts.Window = parseWindow(r)
	}

	cycles, err := s.store.List(opts)
	if err != nil {
		s.logger.Error("failed to list cycles", "err", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list cycles")
		return
	}
	if cycles == nil {
		cycles = []storage.Cycle{}
	}

	s.writeJSON(w, HistoryResponse{Cycles: cycles, Count: len(cycles)})
}

// OverviewResponse aggregates cycle statistics over a window.
type OverviewResponse struct {
	Window string `json:"window"`
	*storage.Overview
}

// handleOverview returns aggregate cycle statistics.
// GET /api/overview?window=1h|24h|7d
func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "storage not available")
		return
	}

	window := parseWindow(r)
	cacheKey := window.String()

	s.overviewCacheMu.RLock()
	if cached, ok := s.overviewCache[cacheKey]; ok && time.Now().Before(cached.expiresAt) {
		s.overviewCacheMu.RUnlock()
		s.writeJSON(w, OverviewResponse{Window: cacheKey, Overview: cached.data})
		return
	}
	s.overviewCacheMu.RUnlock()

	overview, err := s.store.Overview(window)
	if err != nil {
		s.logger.Error("failed to get overview", "err", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get overview")
		return
	}

	s.overviewCacheMu.Lock()
	s.overviewCache[cacheKey] = &cachedOverview{
		data:      overview,
		expiresAt: time.Now().Add(overviewCacheDuration),
	}
	s.overviewCacheMu.Unlock()

	s.writeJSON(w, OverviewResponse{Window: cacheKey, Overview: overview})
}

// handleEvents streams lifecycle events over SSE.
// GET /api/events
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		s.writeError(w, http.StatusServiceUnavailable, "event bus not available")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	eventCh := s.bus.Subscribe()
	defer s.bus.Unsubscribe(eventCh)

	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			sseData, err := events.FormatSSEEvent(event)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte(sseData)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleHealthz reports the relay probe state.
// GET /healthz
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.relay == nil {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"healthy":    true,
			"last_check": time.Now().Format(time.RFC3339),
		})
		return
	}

	healthy := s.relay.Healthy()
	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	response := map[string]any{
		"healthy":    healthy,
		"last_check": s.relay.LastCheck().Format(time.RFC3339),
	}
	if lastError := s.relay.LastError(); lastError != "" {
		response["last_error"] = lastError
	}
	json.NewEncoder(w).Encode(response)
}

// serveStatic serves the embedded UI. Unknown paths fall back to index.html.
func (s *Server) serveStatic(w http.ResponseWriter, r *http.Request) {
	if s.assets == nil {
		http.Error(w, "UI assets not available", http.StatusServiceUnavailable)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/")
	if path == "" {
		path = "index.html"
	}

	file, err := s.assets.Open(path)
	if err != nil {
		path = "index.html"
		file, err = s.assets.Open(path)
		if err != nil {
			http.Error(w, "UI not found", http.StatusNotFound)
			return
		}
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		http.Error(w, "failed to read UI asset", http.StatusInternalServerError)
		return
	}
	if stat.IsDir() {
		http.Error(w, "UI not found", http.StatusNotFound)
		return
	}

	contentType := "application/octet-stream"
	switch {
	case strings.HasSuffix(path, ".html"):
		contentType = "text/html; charset=utf-8"
	case strings.HasSuffix(path, ".css"):
		contentType = "text/css; charset=utf-8"
	case strings.HasSuffix(path, ".js"):
		contentType = "application/javascript; charset=utf-8"
	case strings.HasSuffix(path, ".json"):
		contentType = "application/json"
	case strings.HasSuffix(path, ".svg"):
		contentType = "image/svg+xml"
	case strings.HasSuffix(path, ".png"):
		contentType = "image/png"
	case strings.HasSuffix(path, ".ico"):
		contentType = "image/x-icon"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(stat.Size(), 10))

	// Cache static assets, never index.html.
	if !strings.HasSuffix(path, ".html") {
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	}

	if seeker, ok := file.(io.ReadSeeker); ok {
		http.ServeContent(w, r, path, stat.ModTime(), seeker)
		return
	}
	_, _ = io.Copy(w, file)
}
