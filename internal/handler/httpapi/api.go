// Package httpapi exposes the operational REST surface: health, metrics,
// alerts, reports and stored-event queries, plus the live feed mounts.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/freelancing-solutions/jobfinders-event-service/internal/bus"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/domain/event"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/handler/lp"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/handler/ws"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/monitor"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/storage"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

type API struct {
	bus     *bus.Bus
	store   storage.Store
	monitor *monitor.Monitor
	logger  *slog.Logger
}

func NewAPI(b *bus.Bus, store storage.Store, m *monitor.Monitor, logger *slog.Logger) *API {
	return &API{bus: b, store: store, monitor: m, logger: logger}
}

// Routes assembles the full HTTP surface, including the live feed
// transports.
func (a *API) Routes(wsHandler *ws.WSHandler, lpHandler *lp.LPHandler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/metrics", a.metrics)
		r.Get("/report", a.report)

		r.Get("/alerts", a.listAlerts)
		r.Post("/alerts/{alertID}/resolve", a.resolveAlert)

		r.Post("/events", a.publishEvent)
		r.Get("/events", a.queryEvents)
		r.Get("/events/{eventID}", a.getEvent)
	})

	// Live feed transports are long-lived and stay outside the timeout.
	r.Handle("/ws/{userID}", wsHandler)
	r.Get("/poll/{userID}", lpHandler.Poll)

	return r
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	hc := a.monitor.GetHealthCheck(r.Context())
	code := http.StatusOK
	if hc.Status == monitor.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	a.respond(w, code, hc)
}

func (a *API) metrics(w http.ResponseWriter, r *http.Request) {
	a.respond(w, http.StatusOK, a.monitor.CollectMetrics())
}

func (a *API) report(w http.ResponseWriter, r *http.Request) {
	a.respond(w, http.StatusOK, a.monitor.GenerateReport(r.Context()))
}

func (a *API) listAlerts(w http.ResponseWriter, r *http.Request) {
	var resolved *bool
	if v := r.URL.Query().Get("resolved"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			a.fail(w, http.StatusBadRequest, "invalid resolved flag")
			return
		}
		resolved = &b
	}
	a.respond(w, http.StatusOK, a.monitor.Alerts(resolved))
}

func (a *API) resolveAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "alertID")
	if err := a.monitor.ResolveAlert(id); err != nil {
		if errors.Is(err, monitor.ErrAlertNotFound) {
			a.fail(w, http.StatusNotFound, "alert not found")
			return
		}
		a.fail(w, http.StatusInternalServerError, "resolve failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// publishEvent accepts a draft event and routes it through the bus, the
// same path broker ingestion takes.
func (a *API) publishEvent(w http.ResponseWriter, r *http.Request) {
	var ev event.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		a.fail(w, http.StatusBadRequest, "malformed event")
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	if err := a.bus.Publish(r.Context(), &ev); err != nil {
		if errors.Is(err, event.ErrValidation) {
			a.fail(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		a.logger.Error("HTTP_PUBLISH_FAILED", "err", err, "event_id", ev.ID)
		a.fail(w, http.StatusInternalServerError, "publish failed")
		return
	}
	a.respond(w, http.StatusAccepted, map[string]string{"id": ev.ID})
}

func (a *API) queryEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := clamp(parseInt(q.Get("limit"), defaultLimit), 1, maxLimit)
	offset := parseInt(q.Get("offset"), 0)
	if offset < 0 {
		offset = 0
	}

	f := &event.Filter{
		UserID: q.Get("user_id"),
		Source: q.Get("source"),
	}
	if t := q.Get("type"); t != "" {
		typ := event.Type(t)
		if !typ.Known() {
			a.fail(w, http.StatusBadRequest, "unknown event type")
			return
		}
		f.Types = []event.Type{typ}
	}
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			a.fail(w, http.StatusBadRequest, "invalid since timestamp")
			return
		}
		f.Since = ts
	}

	events, err := a.store.GetEvents(r.Context(), f, limit, offset)
	if err != nil {
		a.logger.Error("EVENT_QUERY_FAILED", "err", err)
		a.fail(w, http.StatusInternalServerError, "query failed")
		return
	}
	a.respond(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

func (a *API) getEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "eventID")
	ev, err := a.store.GetEventByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			a.fail(w, http.StatusNotFound, "event not found")
			return
		}
		a.logger.Error("EVENT_LOOKUP_FAILED", "err", err, "event_id", id)
		a.fail(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	a.respond(w, http.StatusOK, ev)
}

func (a *API) respond(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("RESPONSE_ENCODE_FAILED", "err", err)
	}
}

func (a *API) fail(w http.ResponseWriter, code int, msg string) {
	a.respond(w, code, map[string]string{"error": msg})
}

func parseInt(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
