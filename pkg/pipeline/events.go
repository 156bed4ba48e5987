package pipeline

import (
	"time"

	"github.com/fctr-id/okta-ai-agent-sub001/pkg/models"
)

// EventSink receives lifecycle events for delivery to clients. The HTTP
// layer's SSE emitter implements it; the CLI uses a printing sink.
type EventSink interface {
	Publish(processID string, event models.EventType, payload any)
}

// NopSink discards events.
type NopSink struct{}

// Publish discards the event.
func (NopSink) Publish(string, models.EventType, any) {}

// basePayload stamps the common event fields.
func basePayload(event models.EventType, processID string) models.BasePayload {
	return models.BasePayload{
		Type:      event,
		ProcessID: processID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
