package lp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/freelancing-solutions/jobfinders-event-service/internal/domain/event"
	lpmarshaller "github.com/freelancing-solutions/jobfinders-event-service/internal/handler/marshaller/lp"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/service"
)

const (
	pollTimeout = 30 * time.Second
	batchLimit  = 15
)

type LPHandler struct {
	feeder service.Feeder
}

func NewLPHandler(feeder service.Feeder) *LPHandler {
	return &LPHandler{
		feeder: feeder,
	}
}

// Poll handles the long-polling request. It holds the connection until
// an event arrives or the poll window closes.
func (h *LPHandler) Poll(w http.ResponseWriter, r *http.Request) {
	// 1. Extract identity (validated via middleware in production).
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	// 2. Temporary subscription living only for this HTTP request.
	conn, err := h.feeder.Subscribe(r.Context(), userID)
	if err != nil {
		http.Error(w, "failed to subscribe", http.StatusInternalServerError)
		return
	}
	defer h.feeder.Unsubscribe(userID, conn.GetID())

	var events []*event.Event

	// 3. Wait for data or timeout.
	select {
	case <-r.Context().Done():
		// Client disconnected.
		return

	case <-time.After(pollTimeout):
		w.WriteHeader(http.StatusNoContent)
		return

	case ev, ok := <-conn.Recv():
		if !ok {
			return
		}
		events = append(events, ev)

		// Drain buffered events to batch the response and cut down on
		// follow-up requests.
	drainLoop:
		for range batchLimit {
			select {
			case nextEv, ok := <-conn.Recv():
				if !ok {
					break drainLoop
				}
				events = append(events, nextEv)
			default:
				break drainLoop
			}
		}
	}

	// 4. Final transmission.
	data, err := lpmarshaller.MarshallEvents(events)
	if err != nil {
		http.Error(w, "marshal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
