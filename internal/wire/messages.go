// ABOUTME: Named message catalog exchanged between agents and the gateway.
// ABOUTME: Each message name maps to exactly one JSON payload struct.

package wire

import "time"

// Message names. Agent-originated names come first, then gateway-originated.
const (
	RegisterAgent          = "RegisterAgent"
	RegisterResources      = "RegisterResources"
	PushResourceUpdate     = "PushResourceUpdate"
	ProvideResourceDetails = "ProvideResourceDetails"
	SaveCompleted          = "SaveCompleted"

	Welcome                = "Welcome"
	RequestResourceDetails = "RequestResourceDetails"
	PerformSave            = "PerformSave"
)

// WelcomeMessage is the first frame the gateway sends on every new stream.
type WelcomeMessage struct {
	ConnectionID string `json:"connection_id"`
	ServerID     string `json:"server_id"`
}

// AgentInfo announces an agent's identity. Sent on every (re)connect.
type AgentInfo struct {
	AgentID  string    `json:"agent_id"`
	Name     string    `json:"name"`
	LastSeen time.Time `json:"last_seen"`
}

// ResourceRegistration names one resource owned by an agent.
type ResourceRegistration struct {
	ResourceID string `json:"resource_id"`
	Name       string `json:"name"`
}

// ResourceList is the full resource list of an agent. A nil Resources
// slice means the list was absent.
type ResourceList struct {
	AgentID   string                 `json:"agent_id"`
	Resources []ResourceRegistration `json:"resources"`
}

// ResourceUpdate carries a new value for a single resource.
type ResourceUpdate struct {
	ResourceID string    `json:"resource_id"`
	AgentID    string    `json:"agent_id"`
	Value      float64   `json:"value"`
	Timestamp  time.Time `json:"timestamp"`
}

// DetailsRequest asks an agent for a rendered description of a resource.
type DetailsRequest struct {
	CorrelationID string `json:"correlation_id"`
	ResourceID    string `json:"resource_id"`
}

// DetailsReply answers a DetailsRequest with an HTML fragment.
type DetailsReply struct {
	CorrelationID string `json:"correlation_id"`
	HTML          string `json:"html"`
}

// SaveRequest asks an agent to persist an opaque payload.
type SaveRequest struct {
	CorrelationID string `json:"correlation_id"`
	Payload       string `json:"payload"`
}

// SaveReply reports the outcome of a SaveRequest.
type SaveReply struct {
	CorrelationID string `json:"correlation_id"`
	OK            bool   `json:"ok"`
	Message       string `json:"message,omitempty"`
}

// Correlated decodes only the correlation id of any reply payload.
type Correlated struct {
	CorrelationID string `json:"correlation_id"`
}
