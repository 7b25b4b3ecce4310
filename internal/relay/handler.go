package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/ukpulse/pulseboard/internal/config"
	"github.com/ukpulse/pulseboard/internal/metrics"
)

// Handler is an http.Handler that forwards dashboard queries to the hosted
// agent and answers CORS pre-flight locally. It serves exactly three cases:
// OPTIONS anywhere, POST on the forward path, and a 404 for everything else.
type Handler struct {
	cfg     config.RelayConfig
	agent   *url.URL
	client  *http.Client
	metrics *metrics.RelayMetrics
	logger  *slog.Logger
}

// NewHandler constructs the relay handler.
func NewHandler(cfg config.RelayConfig, m *metrics.RelayMetrics, logger *slog.Logger) (*Handler, error) {
	u, err := url.Parse(cfg.AgentURL)
	if err != nil {
		return nil, fmt.Errorf("parse agent url: %w", err)
	}

	return &Handler{
		cfg:   cfg,
		agent: u,
		client: &http.Client{
			Timeout: cfg.ForwardTimeout,
		},
		metrics: m,
		logger:  logger,
	}, nil
}

// ServeHTTP implements the relay contract.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tap := newResponseTap(w)
	h.setCORS(tap)

	// Pre-flight succeeds for any path and is never forwarded.
	if r.Method == http.MethodOptions {
		tap.WriteHeader(http.StatusOK)
		h.metrics.RecordPreflight()
		h.logger.Debug("answered preflight", "path", r.URL.Path)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == h.cfg.ForwardPath {
		h.forward(tap, r)
		return
	}

	writeError(tap, http.StatusNotFound, "not found")
	h.metrics.RecordRejected(http.StatusNotFound)
	h.logger.Debug("rejected request", "method", r.Method, "path", r.URL.Path)
}

// forward reads the full request body and replays it verbatim against the
// agent endpoint, then copies the agent's status and body back unmodified.
func (h *Handler) forward(w *responseTap, r *http.Request) {
	start := time.Now()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("read request body: %v", err))
		h.metrics.RecordForward(http.StatusInternalServerError, time.Since(start), 0, w.BytesWritten())
		h.logger.Error("failed to read request body", "err", err)
		return
	}

	meta := ParseQueryMeta(body)

	target := h.agent.ResolveReference(&url.URL{Path: r.URL.Path})
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("build forward request: %v", err))
		h.metrics.RecordForward(http.StatusInternalServerError, time.Since(start), meta.Bytes, w.BytesWritten())
		h.logger.Error("failed to build forward request", "err", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.ContentLength = meta.Bytes

	resp, err := h.client.Do(req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("forward failed: %v", err))
		h.metrics.RecordForward(http.StatusInternalServerError, time.Since(start), meta.Bytes, w.BytesWritten())
		h.logger.Error("forward failed",
			"agent", h.agent.Host,
			"err", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return
	}
	defer resp.Body.Close()

	// Agent status and body pass through as-is, including non-2xx.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Warn("copy agent response interrupted", "err", err)
	}

	h.metrics.RecordForward(resp.StatusCode, time.Since(start), meta.Bytes, w.BytesWritten())
	h.logger.Info("forwarded query",
		"status", resp.StatusCode,
		"bytes_in", meta.Bytes,
		"bytes_out", w.BytesWritten(),
		"has_query", meta.HasQuery,
		"query_chars", meta.QueryChars,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// setCORS attaches the permissive cross-origin header trio. Every response
// carries them so the browser accepts both pre-flight and the real POST.
func (h *Handler) setCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", h.cfg.CORSAllowOrigin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
