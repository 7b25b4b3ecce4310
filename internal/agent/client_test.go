package agent

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestQuerySendsQueryBody(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Write([]byte(`{"status":"success","response":"ok","query":"hello"}`))
	}))
	defer server.Close()

	c, err := NewClient(server.URL, Options{})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	_, err = c.Query(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	if gotBody != `{"query":"hello"}` {
		t.Errorf("request body = %q, want {\"query\":\"hello\"}", gotBody)
	}
}

func TestQueryExtractsResponseField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"success","response":"Wimbledon is trending.","query":"q"}`))
	}))
	defer server.Close()

	c, _ := NewClient(server.URL, Options{})
	ans, err := c.Query(context.Background(), "q")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	if !ans.OK() {
		t.Errorf("OK() = false, want true (status %d)", ans.StatusCode)
	}
	got, ok := ans.Response()
	if !ok {
		t.Fatal("Response() ok = false, want true")
	}
	if got != "Wimbledon is trending." {
		t.Errorf("Response() = %q, want %q", got, "Wimbledon is trending.")
	}
	if ans.Text() != "Wimbledon is trending." {
		t.Errorf("Text() = %q, want response field", ans.Text())
	}
}

func TestQueryStructuredResponseReencoded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":{"mood":"Hot"}}`))
	}))
	defer server.Close()

	c, _ := NewClient(server.URL, Options{})
	ans, err := c.Query(context.Background(), "q")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	got, ok := ans.Response()
	if !ok {
		t.Fatal("Response() ok = false, want true")
	}
	if got != `{"mood":"Hot"}` {
		t.Errorf("Response() = %q, want re-encoded JSON", got)
	}
}

func TestQueryWholePayloadWhenNoResponseField(t *testing.T) {
	const body = `{"trends":["heatwave"],"region":"UK"}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer server.Close()

	c, _ := NewClient(server.URL, Options{})
	ans, err := c.Query(context.Background(), "q")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	if _, ok := ans.Response(); ok {
		t.Error("Response() ok = true, want false")
	}
	if ans.Text() != body {
		t.Errorf("Text() = %q, want whole payload", ans.Text())
	}
}

func TestQueryPlainTextPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("All quiet on the cultural front."))
	}))
	defer server.Close()

	c, _ := NewClient(server.URL, Options{})
	ans, err := c.Query(context.Background(), "q")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	if ans.Fields != nil {
		t.Errorf("Fields = %v, want nil for non-JSON payload", ans.Fields)
	}
	if ans.Text() != "All quiet on the cultural front." {
		t.Errorf("Text() = %q, want raw body", ans.Text())
	}
}

func TestQueryErrorFieldSurvivesNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"Query is required"}`))
	}))
	defer server.Close()

	c, _ := NewClient(server.URL, Options{})
	ans, err := c.Query(context.Background(), "")
	if err != nil {
		t.Fatalf("Query() error = %v, want nil for non-2xx with body", err)
	}

	if ans.OK() {
		t.Error("OK() = true, want false for 400")
	}
	msg, ok := ans.ErrorMessage()
	if !ok {
		t.Fatal("ErrorMessage() ok = false, want true")
	}
	if msg != "Query is required" {
		t.Errorf("ErrorMessage() = %q, want %q", msg, "Query is required")
	}
}

func TestQueryTransportError(t *testing.T) {
	// Nothing listens on port 1.
	c, _ := NewClient("http://127.0.0.1:1", Options{Timeout: time.Second})

	_, err := c.Query(context.Background(), "q")
	if err == nil {
		t.Error("Query() error = nil, want transport error")
	}
}

func TestQueryRetriesOn5xx(t *testing.T) {
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&hits, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"response":"recovered"}`))
	}))
	defer server.Close()

	c, _ := NewClient(server.URL, Options{RetryAttempts: 2, RetryBackoff: 10 * time.Millisecond})
	ans, err := c.Query(context.Background(), "q")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	if got := atomic.LoadInt64(&hits); got != 2 {
		t.Errorf("agent hits = %d, want 2", got)
	}
	if !ans.OK() {
		t.Errorf("OK() = false after retry, status %d", ans.StatusCode)
	}
}

func TestQuerySingleAttemptByDefault(t *testing.T) {
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	}))
	defer server.Close()

	c, _ := NewClient(server.URL, Options{})
	ans, err := c.Query(context.Background(), "q")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	if got := atomic.LoadInt64(&hits); got != 1 {
		t.Errorf("agent hits = %d, want 1 (no retry by default)", got)
	}
	if ans.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", ans.StatusCode)
	}
}

func TestQueryContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.Write([]byte(`{"response":"late"}`))
	}))
	defer server.Close()

	c, _ := NewClient(server.URL, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Query(ctx, "q")
	if err == nil {
		t.Error("Query() error = nil, want context deadline error")
	}
}
