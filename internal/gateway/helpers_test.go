// ABOUTME: Shared fixtures for gateway tests.
// ABOUTME: Builds a test gateway and an in-process agent handle that answers bridge requests.

package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/relay-gateway/internal/bridge"
	"github.com/2389/relay-gateway/internal/config"
	"github.com/2389/relay-gateway/internal/wire"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()

	cfg := config.Default()
	cfg.Server.ServerID = "gw-test"
	cfg.Bridge.RequestTimeout = time.Second

	gw, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })
	return gw
}

// scriptedAgent is a bridge.Handle that answers requests in-process.
type scriptedAgent struct {
	id     string
	bridge *bridge.Bridge
	silent bool

	mu    sync.Mutex
	saved []string
}

func (a *scriptedAgent) ID() string { return a.id }

func (a *scriptedAgent) Send(name string, payload any) error {
	if a.silent {
		return nil
	}
	var reply any
	var id string
	switch req := payload.(type) {
	case wire.DetailsRequest:
		id = req.CorrelationID
		reply = wire.DetailsReply{CorrelationID: id, HTML: "<p>" + req.ResourceID + "</p>"}
	case wire.SaveRequest:
		id = req.CorrelationID
		a.mu.Lock()
		a.saved = append(a.saved, req.Payload)
		a.mu.Unlock()
		reply = wire.SaveReply{CorrelationID: id, OK: true, Message: "Saved to memory"}
	default:
		return nil
	}
	raw, err := json.Marshal(reply)
	if err != nil {
		return err
	}
	go a.bridge.DeliverReply(id, raw)
	return nil
}

func (a *scriptedAgent) savedPayloads() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.saved...)
}

func connectScripted(t *testing.T, gw *Gateway, agentID string) *scriptedAgent {
	t.Helper()
	a := &scriptedAgent{id: "conn-" + agentID, bridge: gw.Bridge()}
	require.True(t, gw.Bridge().OnRegistered(agentID, a))
	gw.Registry().UpsertAgent(agentID, "Agent "+agentID, time.Now())
	return a
}
