// ABOUTME: Change-driven sampler that drifts resource values and pushes only real changes.
// ABOUTME: A push happens when a value moves by at least 0.1 from the last value sent.

package agent

import (
	"fmt"
	"math"
	"strings"

	"github.com/2389/relay-gateway/internal/wire"
)

const (
	driftRange    = 0.8 // drift is uniform in [-0.4, 0.4)
	pushThreshold = 0.1
	floatSlack    = 1e-9
)

var defaultBases = map[string]float64{
	"nyc": 22,
	"lon": 18,
	"tky": 25,
}

// DefaultBase returns the starting value for a resource id without a configured base.
func DefaultBase(id string) float64 {
	if v, ok := defaultBases[strings.ToLower(id)]; ok {
		return v
	}
	return 20
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// changed reports whether next differs enough from prev to be pushed.
func changed(prev, next float64) bool {
	return math.Abs(next-prev) >= pushThreshold-floatSlack
}

// sample runs one sampler pass over every owned resource.
func (d *Driver) sample() {
	for _, r := range d.cfg.Resources {
		prev, _ := d.Value(r.ID)
		next := round1(prev + (d.rng.Float64()-0.5)*driftRange)
		d.observe(r.ID, prev, next)
	}
}

// observe stores and pushes next when it moved far enough from prev.
// The send is an enqueue and never waits on the network.
func (d *Driver) observe(resourceID string, prev, next float64) bool {
	if !changed(prev, next) {
		return false
	}

	d.valuesMu.Lock()
	d.values[strings.ToLower(resourceID)] = next
	d.valuesMu.Unlock()

	update := wire.ResourceUpdate{
		ResourceID: resourceID,
		AgentID:    d.cfg.AgentID,
		Value:      next,
		Timestamp:  d.now().UTC(),
	}
	if err := d.transport.Send(wire.PushResourceUpdate, update); err != nil {
		d.logger.Debug("push dropped", "resource_id", resourceID, "error", err)
		return true
	}

	d.status.Note(fmt.Sprintf("Pushed %s:%.1f", resourceID, next))
	return true
}
