package ws

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	wsmarshaller "github.com/freelancing-solutions/jobfinders-event-service/internal/handler/marshaller/ws"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/service"
)

type WSHandler struct {
	logger   *slog.Logger
	feeder   service.Feeder
	upgrader websocket.Upgrader
}

func NewWSHandler(logger *slog.Logger, feeder service.Feeder) *WSHandler {
	return &WSHandler{
		logger: logger,
		feeder: feeder,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // Security: adjust for production
		},
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 1. EXTRACT USER ID (In production: from JWT/Cookie)
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		http.Error(w, "missing user id", http.StatusBadRequest)
		return
	}

	// 2. UPGRADE TO WEBSOCKET
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WS_UPGRADE_FAILED", "err", err)
		return
	}
	defer ws.Close()

	// 3. SUBSCRIBE VIA THE FEED SERVICE
	conn, err := h.feeder.Subscribe(r.Context(), userID)
	if err != nil {
		return
	}
	defer h.feeder.Unsubscribe(userID, conn.GetID())

	h.logger.Info("WS_OPENED", "user_id", userID, "conn_id", conn.GetID())

	// Reader goroutine: the client sends nothing meaningful, but reads
	// surface close frames and errors promptly.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// 4. MAIN WS PUMP LOOP
	for {
		select {
		case <-r.Context().Done():
			return
		case <-clientGone:
			return
		case ev, ok := <-conn.Recv():
			if !ok {
				return
			}

			data, err := wsmarshaller.MarshallFeedEvent(ev)
			if err != nil {
				h.logger.Error("WS_MARSHAL_FAILED", "err", err, "event_id", ev.ID)
				continue
			}

			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Warn("WS_SEND_FAILED", "err", err, "user_id", userID)
				return
			}
		}
	}
}
