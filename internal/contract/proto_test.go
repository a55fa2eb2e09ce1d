// ABOUTME: Contract tests for the agent stream surface to detect breaking wire changes.
// ABOUTME: Validates the gRPC service shape and the JSON keys of every catalog message.

package contract

import (
	"encoding/json"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/relay-gateway/internal/wire"
)

// TestServiceSurface verifies the hub service keeps its name and its single
// bidirectional stream. Agents built against an older gateway depend on both.
func TestServiceSurface(t *testing.T) {
	desc := wire.HubServiceDesc

	assert.Equal(t, "relay.v1.Hub", desc.ServiceName)
	assert.Equal(t, "/relay.v1.Hub/Connect", wire.ConnectMethod)
	assert.Empty(t, desc.Methods, "hub exposes no unary methods")

	require.Len(t, desc.Streams, 1)
	stream := desc.Streams[0]
	assert.Equal(t, "Connect", stream.StreamName)
	assert.True(t, stream.ServerStreams, "Connect must stream server to client")
	assert.True(t, stream.ClientStreams, "Connect must stream client to server")
	assert.NotNil(t, stream.Handler)
}

// expectedMessages defines the contract for every message name and the
// JSON keys of its payload.
var expectedMessages = map[string]struct {
	sample any
	keys   []string
}{
	wire.Welcome: {
		sample: wire.WelcomeMessage{ConnectionID: "c", ServerID: "s"},
		keys:   []string{"connection_id", "server_id"},
	},
	wire.RegisterAgent: {
		sample: wire.AgentInfo{AgentID: "a", Name: "n", LastSeen: time.Unix(1, 0)},
		keys:   []string{"agent_id", "last_seen", "name"},
	},
	wire.RegisterResources: {
		sample: wire.ResourceList{AgentID: "a", Resources: []wire.ResourceRegistration{{ResourceID: "r", Name: "n"}}},
		keys:   []string{"agent_id", "resources"},
	},
	wire.PushResourceUpdate: {
		sample: wire.ResourceUpdate{ResourceID: "r", AgentID: "a", Value: 1, Timestamp: time.Unix(1, 0)},
		keys:   []string{"agent_id", "resource_id", "timestamp", "value"},
	},
	wire.RequestResourceDetails: {
		sample: wire.DetailsRequest{CorrelationID: "id", ResourceID: "r"},
		keys:   []string{"correlation_id", "resource_id"},
	},
	wire.ProvideResourceDetails: {
		sample: wire.DetailsReply{CorrelationID: "id", HTML: "<p></p>"},
		keys:   []string{"correlation_id", "html"},
	},
	wire.PerformSave: {
		sample: wire.SaveRequest{CorrelationID: "id", Payload: "{}"},
		keys:   []string{"correlation_id", "payload"},
	},
	wire.SaveCompleted: {
		sample: wire.SaveReply{CorrelationID: "id", OK: true, Message: "m"},
		keys:   []string{"correlation_id", "message", "ok"},
	},
}

func jsonKeys(t *testing.T, v any) []string {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)

	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &m))

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// TestMessageCatalog verifies message payload keys, and that every frame
// survives the envelope with its name intact.
func TestMessageCatalog(t *testing.T) {
	for name, want := range expectedMessages {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, want.keys, jsonKeys(t, want.sample))

			frame, err := wire.Encode(name, want.sample)
			require.NoError(t, err)
			gotName, _, err := wire.Decode(frame)
			require.NoError(t, err)
			assert.Equal(t, name, gotName)
		})
	}
}

// TestReplyCorrelation verifies both reply kinds expose the correlation id
// at the same key, which the hub relies on to route them.
func TestReplyCorrelation(t *testing.T) {
	for _, reply := range []any{
		wire.DetailsReply{CorrelationID: "abc"},
		wire.SaveReply{CorrelationID: "abc"},
	} {
		raw, err := json.Marshal(reply)
		require.NoError(t, err)

		var c wire.Correlated
		require.NoError(t, json.Unmarshal(raw, &c))
		assert.Equal(t, "abc", c.CorrelationID)
	}
}
