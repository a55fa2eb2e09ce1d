// ABOUTME: HTTP API exposing registry state and on-demand agent requests
// ABOUTME: Health checks, snapshot, agent list, details and save routed through the bridge

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/2389/relay-gateway/internal/bridge"
)

// maxSaveBody bounds the payload accepted by the save endpoint.
const maxSaveBody = 1 << 20

// AgentInfo is one entry of the agent list.
type AgentInfo struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	LastSeen     time.Time `json:"last_seen"`
	Connected    bool      `json:"connected"`
	ConnectionID string    `json:"connection_id,omitempty"`
}

// Handler returns the HTTP routes served by the gateway.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)
	mux.HandleFunc("GET /api/snapshot", g.handleSnapshot)
	mux.HandleFunc("GET /api/events", g.handleEvents)
	mux.HandleFunc("GET /api/agents", g.handleListAgents)
	mux.HandleFunc("GET /api/agents/{agentID}/resources/{resourceID}/details", g.handleDetails)
	mux.HandleFunc("POST /api/agents/{agentID}/save", g.handleSave)
	return mux
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if at least one agent has a live connection.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	agents := g.bridge.Connected()
	if len(agents) == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no agents connected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d agents)", len(agents))
}

func (g *Gateway) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, g.registry.Snapshot())
}

// handleListAgents returns every registered agent with its connection state.
func (g *Gateway) handleListAgents(w http.ResponseWriter, r *http.Request) {
	snap := g.registry.Snapshot()
	out := make([]AgentInfo, 0, len(snap.Agents))
	for _, a := range snap.Agents {
		info := AgentInfo{ID: a.ID, Name: a.Name, LastSeen: a.LastSeen}
		if id, ok := g.bridge.ConnectionID(a.ID); ok {
			info.Connected = true
			info.ConnectionID = id
		}
		out = append(out, info)
	}
	g.writeJSON(w, http.StatusOK, out)
}

func (g *Gateway) handleDetails(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agentID")
	resourceID := r.PathValue("resourceID")

	timeout, err := parseTimeout(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	html, err := g.bridge.RequestDetails(r.Context(), agentID, resourceID, timeout)
	if err != nil {
		g.sendBridgeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, html)
}

func (g *Gateway) handleSave(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agentID")

	timeout, err := parseTimeout(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSaveBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			g.sendJSONError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		g.sendJSONError(w, http.StatusBadRequest, "reading body: "+err.Error())
		return
	}

	result, err := g.bridge.RequestSave(r.Context(), agentID, string(body), timeout)
	if err != nil {
		g.sendBridgeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, result)
}

// parseTimeout reads the optional ?timeout= duration. Zero means the
// bridge default.
func parseTimeout(r *http.Request) (time.Duration, error) {
	raw := r.URL.Query().Get("timeout")
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q", raw)
	}
	if d <= 0 {
		return 0, fmt.Errorf("timeout must be positive")
	}
	return d, nil
}

// sendBridgeError maps bridge failures to HTTP status codes.
func (g *Gateway) sendBridgeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, bridge.ErrNotConnected):
		g.sendJSONError(w, http.StatusServiceUnavailable, "agent not connected")
	case errors.Is(err, bridge.ErrTimeout):
		g.sendJSONError(w, http.StatusGatewayTimeout, "agent did not reply in time")
	case errors.Is(err, bridge.ErrClosed):
		g.sendJSONError(w, http.StatusServiceUnavailable, "gateway shutting down")
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		// Client went away; nobody is left to read a response.
	default:
		g.logger.Warn("agent request failed", "path", r.URL.Path, "error", err)
		g.sendJSONError(w, http.StatusBadGateway, err.Error())
	}
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]string{"error": message})
}
