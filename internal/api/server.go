// Package api serves the dashboard HTTP surface: the JSON API under /api/,
// the embedded UI at /, and the healthz/metrics endpoints.
package api

import (
	"encoding/json"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ukpulse/pulseboard/internal/events"
	"github.com/ukpulse/pulseboard/internal/prefs"
	"github.com/ukpulse/pulseboard/internal/pulse"
	"github.com/ukpulse/pulseboard/internal/storage"
)

// Cache duration for overview responses (prevents refresh storms).
const overviewCacheDuration = 2 * time.Second

// Refresher is the coordinator surface the API needs.
type Refresher interface {
	Snapshot() pulse.Snapshot
	Refresh(trigger string) bool
}

// RelayHealth reports the relay probe state for the snapshot.
type RelayHealth interface {
	Healthy() bool
	LastCheck() time.Time
	LastError() string
}

// Server handles dashboard requests.
type Server struct {
	coordinator Refresher
	sessions    *pulse.Sessions
	prefs       *prefs.Store
	store       storage.Store
	bus         *events.Bus
	relay       RelayHealth
	assets      fs.FS
	logger      *slog.Logger

	// Overview cache to prevent refresh storms
	overviewCache   map[string]*cachedOverview
	overviewCacheMu sync.RWMutex
}

type cachedOverview struct {
	data      *storage.Overview
	expiresAt time.Time
}

// NewServer creates the dashboard server. relay and assets may be nil; the
// affected endpoints degrade instead of failing startup.
func NewServer(
	coordinator Refresher,
	sessions *pulse.Sessions,
	prefStore *prefs.Store,
	store storage.Store,
	bus *events.Bus,
	relay RelayHealth,
	assets fs.FS,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		coordinator:   coordinator,
		sessions:      sessions,
		prefs:         prefStore,
		store:         store,
		bus:           bus,
		relay:         relay,
		assets:        assets,
		logger:        logger,
		overviewCache: make(map[string]*cachedOverview),
	}
}

// ServeHTTP routes dashboard requests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if strings.HasPrefix(path, "/api/") {
		s.serveAPI(w, r, strings.TrimPrefix(path, "/api"))
		return
	}

	switch path {
	case "/healthz":
		if r.Method != http.MethodGet {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleHealthz(w, r)
	case "/metrics":
		if r.Method != http.MethodGet {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		promhttp.Handler().ServeHTTP(w, r)
	default:
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.serveStatic(w, r)
	}
}

func (s *Server) serveAPI(w http.ResponseWriter, r *http.Request, path string) {
	switch path {
	case "/dashboard":
		if r.Method != http.MethodGet {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleDashboard(w, r)
	case "/refresh":
		if r.Method != http.MethodPost {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleRefresh(w, r)
	case "/chat":
		switch r.Method {
		case http.MethodPost:
			s.handleChatSend(w, r)
		case http.MethodGet:
			s.handleChatTranscript(w, r)
		default:
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	case "/prefs/theme":
		switch r.Method {
		case http.MethodGet:
			s.handleThemeGet(w, r)
		case http.MethodPut:
			s.handleThemePut(w, r)
		default:
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	case "/history":
		if r.Method != http.MethodGet {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleHistory(w, r)
	case "/overview":
		if r.Method != http.MethodGet {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleOverview(w, r)
	case "/events":
		if r.Method != http.MethodGet {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleEvents(w, r)
	default:
		s.writeError(w, http.StatusNotFound, "not found")
	}
}

// Helper functions

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func parseWindow(r *http.Request) time.Duration {
	w := r.URL.Query().Get("window")
	switch w {
	case "1h":
		return time.Hour
	case "7d":
		return 7 * 24 * time.Hour
	case "24h", "":
		return 24 * time.Hour
	default:
		if d, err := time.ParseDuration(w); err == nil && d > 0 {
			return d
		}
		return 24 * time.Hour
	}
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	var n int
	for _, c := range s {
		if c >= '0' && c <= '9' {
			n = n*10 + int(c-'0')
		} else {
			return def
		}
	}
	return n
}
