package httpx

import (
	"net/http"
	"strings"
	"time"

	"github.com/splax/actioncounter/internal/ws"
)

const sseEventName = "counter"

// streamTopic resolves the ?source= filter to a hub topic.
func (r *Router) streamTopic(w http.ResponseWriter, req *http.Request) (string, bool) {
	if r.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "live updates disabled")
		return "", false
	}
	source := strings.TrimSpace(req.URL.Query().Get("source"))
	if source == "" {
		return ws.AllTopics, true
	}
	if !r.knownSource(source) {
		writeError(w, http.StatusNotFound, "unknown source: "+source)
		return "", false
	}
	return source, true
}

func (r *Router) handleEvents(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	topic, ok := r.streamTopic(w, req)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	client := ws.NewSSEClient(w, flusher, sseEventName, r.logger)
	r.hub.Register(topic, client)
	defer func() {
		r.hub.Unregister(topic, client)
		client.Close()
	}()
	if err := client.Heartbeat(); err != nil {
		return
	}

	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-client.Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) handleUpdatesWS(w http.ResponseWriter, req *http.Request) {
	topic, ok := r.streamTopic(w, req)
	if !ok {
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(topic, client)
	go func() {
		defer func() {
			r.hub.Unregister(topic, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
	go func() {
		ticker := time.NewTicker(r.heartbeat)
		defer ticker.Stop()
		for range ticker.C {
			if err := client.Ping(); err != nil {
				return
			}
		}
	}()
}
