package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// sseSendBuffer bounds how many frames a session may have queued. A
// consumer that stalls past it loses frames rather than blocking the
// message endpoint.
const sseSendBuffer = 16

// sseHub tracks open SSE sessions. Each session owns a frame channel
// the /message handler pushes responses into.
type sseHub struct {
	mu       sync.Mutex
	sessions map[string]chan string
}

func newSSEHub() *sseHub {
	return &sseHub{sessions: make(map[string]chan string)}
}

func (h *sseHub) create() (string, chan string) {
	id := uuid.NewString()
	ch := make(chan string, sseSendBuffer)
	h.mu.Lock()
	h.sessions[id] = ch
	h.mu.Unlock()
	return id, ch
}

func (h *sseHub) remove(id string) {
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
}

func (h *sseHub) has(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.sessions[id]
	return ok
}

// send queues one JSON payload as an SSE data frame. It reports false
// when the session is gone or its buffer is full.
func (h *sseHub) send(id string, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	h.mu.Lock()
	ch, ok := h.sessions[id]
	h.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- fmt.Sprintf("data: %s\n\n", data):
		return true
	default:
		return false
	}
}

func (h *sseHub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// handleSSE opens the MCP event stream. The first frame names the
// message endpoint the client must POST to; heartbeats keep proxies
// from reaping idle connections.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.jsonError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	id, ch := s.sse.create()
	defer s.sse.remove(id)

	if s.metrics != nil {
		s.metrics.SSEOpened()
		defer s.metrics.SSEClosed()
	}
	s.logger.Info("sse session opened", "session_id", id)
	defer s.logger.Info("sse session closed", "session_id", id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	fmt.Fprintf(w, "event: endpoint\ndata: /message?session_id=%s\n\n", id)
	flusher.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame := <-ch:
			if _, err := io.WriteString(w, frame); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
