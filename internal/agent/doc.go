// Package agent implements the agent side of a relay session.
//
// A Driver owns one Transport (normally a *transport.Client). Its lifecycle
// is the state table in state.go:
//
//	disconnected --start--> connecting --connected--> connected
//	connecting --connect_failed--> disconnected
//	connected --dropped--> disconnected --reconnected--> connected
//
// Every entry into connected registers the agent (RegisterAgent, then
// RegisterResources). A sampler drifts each resource value every Interval
// and pushes PushResourceUpdate only when the value moved by at least 0.1.
//
// RequestResourceDetails is answered with an HTML fragment rendered from
// Markdown by goldmark; PerformSave is delegated to a store.SettingsStore.
// Both always reply so the gateway never waits on a dropped request.
package agent
