package lpmarshaller

import (
	"encoding/json"

	"github.com/freelancing-solutions/jobfinders-event-service/internal/domain/event"
)

// LPEvent represents a single event structured for long-polling consumers.
type LPEvent struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	SentAt   int64  `json:"sent_at"`
	Priority string `json:"priority"`
	Payload  any    `json:"payload,omitempty"`
}

// Response defines the top-level JSON object to support event batching.
type Response struct {
	Events []LPEvent `json:"events"`
}

// MarshallEvents converts a slice of domain events into a single JSON batch.
func MarshallEvents(events []*event.Event) ([]byte, error) {
	res := Response{
		Events: make([]LPEvent, 0, len(events)),
	}

	for _, ev := range events {
		res.Events = append(res.Events, LPEvent{
			Type:     string(ev.Type),
			ID:       ev.ID,
			SentAt:   ev.Timestamp.UnixMilli(),
			Priority: ev.Priority.String(),
			Payload:  ev.Payload,
		})
	}

	return json.Marshal(res)
}
