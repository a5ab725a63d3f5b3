package wsmarshaller

import (
	"encoding/json"

	"github.com/freelancing-solutions/jobfinders-event-service/internal/domain/event"
)

// WSEvent is a generic wrapper for WebSocket frames to give clients a
// consistent structure regardless of payload family.
type WSEvent struct {
	Event    string         `json:"event"` // e.g. "match.created"
	ID       string         `json:"id"`
	SentAt   int64          `json:"sent_at"`
	Priority string         `json:"priority"`
	Payload  any            `json:"payload,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MarshallFeedEvent prepares a domain event for WebSocket transmission.
func MarshallFeedEvent(ev *event.Event) ([]byte, error) {
	res := &WSEvent{
		Event:    string(ev.Type),
		ID:       ev.ID,
		SentAt:   ev.Timestamp.UnixMilli(),
		Priority: ev.Priority.String(),
		Payload:  ev.Payload,
		Metadata: ev.Metadata,
	}
	return json.Marshal(res)
}
