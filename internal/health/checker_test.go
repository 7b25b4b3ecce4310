package health

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"
)

func TestChecker_Healthy(t *testing.T) {
	// Create a test relay that answers pre-flight
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	c := NewChecker(server.URL, 100*time.Millisecond, 5*time.Second, nil, logger)
	defer c.Shutdown()

	// Wait for initial check
	time.Sleep(150 * time.Millisecond)

	if !c.Healthy() {
		t.Error("expected checker to be healthy")
	}

	if c.LastError() != "" {
		t.Errorf("expected no error, got: %s", c.LastError())
	}
}

func TestChecker_Unhealthy(t *testing.T) {
	// Create a test server that returns 500
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	c := NewChecker(server.URL, 100*time.Millisecond, 5*time.Second, nil, logger)
	defer c.Shutdown()

	// Wait for initial check
	time.Sleep(150 * time.Millisecond)

	if c.Healthy() {
		t.Error("expected checker to be unhealthy")
	}

	if c.LastError() == "" {
		t.Error("expected error message")
	}
}

func TestChecker_ConnectionError(t *testing.T) {
	// Use invalid URL to cause connection error
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	c := NewChecker("http://localhost:99999", 100*time.Millisecond, 1*time.Second, nil, logger)
	defer c.Shutdown()

	// Wait for initial check
	time.Sleep(150 * time.Millisecond)

	if c.Healthy() {
		t.Error("expected checker to be unhealthy on connection error")
	}

	if c.LastError() == "" {
		t.Error("expected error message for connection failure")
	}
}

func TestChecker_Shutdown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	c := NewChecker(server.URL, 100*time.Millisecond, 5*time.Second, nil, logger)

	// Shutdown should not panic
	c.Shutdown()

	// Wait a bit to ensure goroutine stops
	time.Sleep(200 * time.Millisecond)
}
