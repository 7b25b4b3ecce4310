package relay

import (
	"net/http"
	"sync/atomic"
)

// responseTap wraps an http.ResponseWriter and counts the bytes that reach
// the client, so a forward can report payload sizes without buffering the
// agent reply.
type responseTap struct {
	http.ResponseWriter
	written int64
}

func newResponseTap(w http.ResponseWriter) *responseTap {
	return &responseTap{ResponseWriter: w}
}

// Write implements io.Writer.
func (t *responseTap) Write(b []byte) (int, error) {
	n, err := t.ResponseWriter.Write(b)
	atomic.AddInt64(&t.written, int64(n))
	return n, err
}

// BytesWritten returns the total bytes written to the client.
func (t *responseTap) BytesWritten() int64 {
	return atomic.LoadInt64(&t.written)
}

// Flush implements http.Flusher if the underlying writer supports it.
func (t *responseTap) Flush() {
	if f, ok := t.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
