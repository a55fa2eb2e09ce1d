// ABOUTME: Server-sent event stream of registry snapshots
// ABOUTME: Sends the current snapshot on connect and a fresh one after each change

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// sseKeepalive is the interval between comment frames on an idle stream.
var sseKeepalive = 15 * time.Second

// SSE event names.
const (
	eventSnapshot = "snapshot"
	eventChange   = "change"
)

// formatSSEEvent formats an SSE event as a string with the standard format:
// event: <eventType>\ndata: <data>\n\n
func formatSSEEvent(eventType, data string) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, data)
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) error {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return err
	}
	_, err = fmt.Fprint(w, formatSSEEvent(event, string(dataJSON)))
	return err
}

// handleEvents streams registry snapshots until the client disconnects or
// the gateway shuts down. Bursts of changes coalesce into one event.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.sendJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx := r.Context()
	// Subscribe before the first snapshot so no change is missed in between.
	changes := g.registry.Subscribe(ctx)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := g.writeSSEEvent(w, eventSnapshot, g.registry.Snapshot()); err != nil {
		return
	}
	flusher.Flush()

	ping := time.NewTicker(sseKeepalive)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			if err := g.writeSSEEvent(w, eventChange, g.registry.Snapshot()); err != nil {
				return
			}
			flusher.Flush()
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
