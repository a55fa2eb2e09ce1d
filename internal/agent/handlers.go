// ABOUTME: Handlers for gateway-originated requests: resource details and save.
// ABOUTME: Every request with a readable correlation id gets a reply, even when decoding, rendering, or saving fails.

package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/2389/relay-gateway/internal/store"
	"github.com/2389/relay-gateway/internal/transport"
	"github.com/2389/relay-gateway/internal/wire"
)

type detailsRenderer struct {
	md goldmark.Markdown
}

func newDetailsRenderer() *detailsRenderer {
	return &detailsRenderer{md: goldmark.New(goldmark.WithExtensions(extension.Table))}
}

// escapeMarkdown backslash-escapes ASCII punctuation so untrusted text is
// rendered literally. Raw HTML in the input therefore becomes text.
func escapeMarkdown(s string) string {
	s = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)

	var b strings.Builder
	for _, r := range s {
		if r < 128 && strings.ContainsRune("!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~", r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (r *detailsRenderer) render(res Resource, agentID string, value float64, at time.Time, saved *time.Time) (string, error) {
	var src strings.Builder
	fmt.Fprintf(&src, "### %s\n\n", escapeMarkdown(res.Name))
	src.WriteString("| Field | Value |\n|---|---|\n")
	fmt.Fprintf(&src, "| Resource | %s |\n", escapeMarkdown(res.ID))
	fmt.Fprintf(&src, "| Agent | %s |\n", escapeMarkdown(agentID))
	fmt.Fprintf(&src, "| Value | %.1f |\n", value)
	fmt.Fprintf(&src, "| As of | %s |\n", escapeMarkdown(at.UTC().Format(time.RFC3339)))
	if saved != nil {
		fmt.Fprintf(&src, "| Settings saved | %s |\n", escapeMarkdown(saved.UTC().Format(time.RFC3339)))
	}

	var out bytes.Buffer
	if err := r.md.Convert([]byte(src.String()), &out); err != nil {
		return "", fmt.Errorf("rendering details: %w", err)
	}
	return out.String(), nil
}

func errorFragment(message string) string {
	return `<p class="error">Error: ` + html.EscapeString(message) + `</p>`
}

// lastSaved returns when this agent last saved settings, or nil if it never
// has or the store cannot say.
func (d *Driver) lastSaved(ctx context.Context) *time.Time {
	if d.cfg.Store == nil {
		return nil
	}
	st, err := d.cfg.Store.LatestSettings(ctx, d.cfg.AgentID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			d.logger.Warn("reading saved settings failed", "error", err)
		}
		return nil
	}
	return &st.Timestamp
}

// renderDetails never fails; errors and panics become an error fragment.
func (d *Driver) renderDetails(ctx context.Context, resourceID string) (out string) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("details rendering panicked", "resource_id", resourceID, "panic", r)
			out = errorFragment(fmt.Sprint(r))
		}
	}()

	res := d.resource(resourceID)
	value, ok := d.Value(res.ID)
	if !ok {
		value = res.Base
	}

	fragment, err := d.details.render(res, d.cfg.AgentID, value, d.now(), d.lastSaved(ctx))
	if err != nil {
		d.logger.Warn("details rendering failed", "resource_id", resourceID, "error", err)
		return errorFragment(err.Error())
	}
	return fragment
}

func (d *Driver) handleDetails(ctx context.Context, msg transport.Message) error {
	var req wire.DetailsRequest
	if err := msg.Decode(&req); err != nil {
		return d.replyMalformed(msg, err, func(id string) (string, any) {
			return wire.ProvideResourceDetails, wire.DetailsReply{CorrelationID: id, HTML: errorFragment(err.Error())}
		})
	}

	reply := wire.DetailsReply{CorrelationID: req.CorrelationID, HTML: d.renderDetails(ctx, req.ResourceID)}
	if err := msg.Conn.Send(wire.ProvideResourceDetails, reply); err != nil {
		return fmt.Errorf("replying to details request %s: %w", req.CorrelationID, err)
	}
	return nil
}

// save never fails; errors and panics become a negative result.
func (d *Driver) save(ctx context.Context, payload string) (ok bool, message string) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("save panicked", "panic", r)
			ok, message = false, fmt.Sprint(r)
		}
	}()

	if d.cfg.Store == nil {
		return false, "no settings store configured"
	}

	loc, err := d.cfg.Store.SaveSettings(ctx, &store.Settings{
		AgentID:   d.cfg.AgentID,
		Name:      d.cfg.Name,
		Timestamp: d.now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		d.logger.Warn("save failed", "error", err)
		return false, err.Error()
	}
	return true, "Saved to " + loc
}

func (d *Driver) handleSave(ctx context.Context, msg transport.Message) error {
	var req wire.SaveRequest
	if err := msg.Decode(&req); err != nil {
		return d.replyMalformed(msg, err, func(id string) (string, any) {
			return wire.SaveCompleted, wire.SaveReply{CorrelationID: id, OK: false, Message: err.Error()}
		})
	}

	ok, message := d.save(ctx, req.Payload)
	if ok {
		d.status.Note(message)
	} else {
		d.status.Note("Error: " + message)
	}

	reply := wire.SaveReply{CorrelationID: req.CorrelationID, OK: ok, Message: message}
	if err := msg.Conn.Send(wire.SaveCompleted, reply); err != nil {
		return fmt.Errorf("replying to save request %s: %w", req.CorrelationID, err)
	}
	return nil
}

// replyMalformed answers a request whose payload did not decode, as long as
// its correlation id can still be read. Without an id there is no one to
// answer and decodeErr is returned as is.
func (d *Driver) replyMalformed(msg transport.Message, decodeErr error, build func(correlationID string) (string, any)) error {
	var c wire.Correlated
	if err := json.Unmarshal(msg.Payload, &c); err != nil || c.CorrelationID == "" {
		return decodeErr
	}

	name, reply := build(c.CorrelationID)
	d.logger.Warn("replying to malformed request",
		"message", msg.Name, "correlation_id", c.CorrelationID, "error", decodeErr)
	if err := msg.Conn.Send(name, reply); err != nil {
		return fmt.Errorf("replying to malformed %s %s: %w", msg.Name, c.CorrelationID, errors.Join(decodeErr, err))
	}
	return nil
}
