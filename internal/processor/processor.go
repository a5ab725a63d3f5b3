// Package processor is the domain facade over the event stream: it
// republishes business events with indexable metadata, classifies each
// into a work priority and hands a work item to the real-time queue.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/freelancing-solutions/jobfinders-event-service/internal/domain/event"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/monitor"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/stream"
)

var (
	ErrUnknownFamily   = errors.New("event type outside this processor family")
	ErrHandlerExists   = errors.New("handler name already registered")
	ErrHandlerNotFound = errors.New("handler not registered")
	ErrProcessorClosed = errors.New("processor is closed")
	ErrNilQueue        = errors.New("real-time queue is required")
)

// WorkPriority orders items on the real-time queue.
type WorkPriority string

const (
	WorkLow      WorkPriority = "low"
	WorkMedium   WorkPriority = "medium"
	WorkHigh     WorkPriority = "high"
	WorkCritical WorkPriority = "critical"
)

// WorkItem is the unit handed to the real-time processor.
type WorkItem struct {
	Type     string         `json:"type"`
	UserID   string         `json:"user_id"`
	Data     map[string]any `json:"data"`
	Priority WorkPriority   `json:"priority"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RealTimeQueuer receives priority-classified work items.
type RealTimeQueuer interface {
	Enqueue(ctx context.Context, item *WorkItem) error
}

// Handler reacts to a stream event delivered back to this processor.
type Handler func(ev *event.Event)

type namedHandler struct {
	name      string
	eventType event.Type
	fn        Handler
}

// Processor republishes business events and feeds the real-time queue.
// It is both producer and subscriber of the same stream: the handler
// registry receives every event the stream delivers, including events
// this processor published itself.
type Processor struct {
	stream  *stream.Stream
	queue   RealTimeQueuer
	monitor *monitor.Monitor
	log     *slog.Logger

	mu       sync.RWMutex
	handlers []namedHandler
	subID    string
	closed   bool
}

func New(s *stream.Stream, queue RealTimeQueuer, mon *monitor.Monitor, log *slog.Logger) (*Processor, error) {
	if queue == nil {
		return nil, ErrNilQueue
	}
	if log == nil {
		log = slog.Default()
	}
	p := &Processor{
		stream:  s,
		queue:   queue,
		monitor: mon,
		log:     log,
	}
	// One dispatch path: a single stream subscription fans out to the
	// named handlers, so an event is never delivered twice.
	id, err := s.Subscribe(nil, p.dispatch)
	if err != nil {
		return nil, err
	}
	p.subID = id
	return p, nil
}

func (p *Processor) dispatch(ev *event.Event) {
	p.mu.RLock()
	handlers := make([]namedHandler, len(p.handlers))
	copy(handlers, p.handlers)
	p.mu.RUnlock()

	for _, h := range handlers {
		if h.eventType != "" && h.eventType != ev.Type {
			continue
		}
		h.fn(ev)
	}
}

// RegisterEventHandler adds a named handler. An empty eventType matches
// every event.
func (p *Processor) RegisterEventHandler(name string, eventType event.Type, fn Handler) error {
	if fn == nil {
		return fmt.Errorf("%w: nil handler %q", ErrHandlerNotFound, name)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrProcessorClosed
	}
	for _, h := range p.handlers {
		if h.name == name {
			return fmt.Errorf("%w: %q", ErrHandlerExists, name)
		}
	}
	p.handlers = append(p.handlers, namedHandler{name: name, eventType: eventType, fn: fn})
	return nil
}

// RemoveEventHandler removes the handler registered under name.
func (p *Processor) RemoveEventHandler(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, h := range p.handlers {
		if h.name == name {
			p.handlers = append(p.handlers[:i], p.handlers[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrHandlerNotFound, name)
}

// Close cancels the stream subscription and rejects further processing.
func (p *Processor) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.handlers = nil
	p.mu.Unlock()
	p.stream.Unsubscribe(p.subID)
}

// DeterminePriority maps an event subtype and optional score into a
// work priority. The subtype rules outrank the score thresholds; the
// score only decides when the subtype is neutral.
func DeterminePriority(t event.Type, score float64, hasScore bool) WorkPriority {
	switch t {
	case event.MatchCreated, event.MatchAccepted, event.ApplicationShortlisted:
		return WorkHigh
	case event.MatchRejected, event.ApplicationRejected:
		return WorkCritical
	}
	if hasScore {
		switch {
		case score >= 0.9:
			return WorkCritical
		case score >= 0.7:
			return WorkHigh
		case score >= 0.5:
			return WorkMedium
		}
	}
	switch t {
	case event.ProfileCompleted, event.JobPosted:
		return WorkMedium
	}
	return WorkLow
}

// process publishes the draft onto the stream, then enqueues the
// priority-classified work item. Outcomes are reported to the monitor.
func (p *Processor) process(ctx context.Context, t event.Type, userID string,
	payload event.Payload, data, metadata map[string]any, score float64, hasScore bool) error {

	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return ErrProcessorClosed
	}

	start := time.Now()
	ev, err := p.stream.Publish(ctx, &event.Event{
		Type:     t,
		UserID:   userID,
		Metadata: metadata,
		Payload:  payload,
	})
	if err == nil {
		err = p.queue.Enqueue(ctx, &WorkItem{
			Type:     string(t),
			UserID:   userID,
			Data:     data,
			Priority: DeterminePriority(t, score, hasScore),
			Metadata: metadata,
		})
	}

	if p.monitor != nil {
		reported := ev
		if reported == nil {
			reported = &event.Event{Type: t, UserID: userID}
		}
		p.monitor.RecordEvent(reported, time.Since(start), err)
	}
	if err != nil {
		return fmt.Errorf("process %s: %w", t, err)
	}
	p.log.Debug("BUSINESS_EVENT_PROCESSED", "event_id", ev.ID, "event_type", t, "user_id", userID)
	return nil
}

// ProcessMatchEvent handles the match lifecycle family. The match score
// participates in priority classification.
func (p *Processor) ProcessMatchEvent(ctx context.Context, t event.Type, userID string, payload event.MatchPayload) error {
	if payload.Family() != t.Family() {
		return fmt.Errorf("%w: %s", ErrUnknownFamily, t)
	}
	return p.process(ctx, t, userID, payload,
		map[string]any{
			"match_id":     payload.MatchID,
			"job_id":       payload.JobID,
			"candidate_id": payload.CandidateID,
			"score":        payload.Score,
			"status":       payload.Status,
		},
		map[string]any{
			"match_id": payload.MatchID,
			"job_id":   payload.JobID,
		},
		payload.Score, payload.Score > 0)
}

// ProcessApplicationEvent handles the application lifecycle family.
func (p *Processor) ProcessApplicationEvent(ctx context.Context, t event.Type, userID string, payload event.ApplicationPayload) error {
	if payload.Family() != t.Family() {
		return fmt.Errorf("%w: %s", ErrUnknownFamily, t)
	}
	return p.process(ctx, t, userID, payload,
		map[string]any{
			"application_id": payload.ApplicationID,
			"job_id":         payload.JobID,
			"candidate_id":   payload.CandidateID,
			"status":         payload.Status,
		},
		map[string]any{
			"application_id": payload.ApplicationID,
			"job_id":         payload.JobID,
		},
		0, false)
}

// ProcessProfileEvent handles the profile lifecycle family. Profile
// completeness acts as the score.
func (p *Processor) ProcessProfileEvent(ctx context.Context, t event.Type, userID string, payload event.ProfilePayload) error {
	if payload.Family() != t.Family() {
		return fmt.Errorf("%w: %s", ErrUnknownFamily, t)
	}
	return p.process(ctx, t, userID, payload,
		map[string]any{
			"profile_id":   payload.ProfileID,
			"completeness": payload.Completeness,
			"fields":       payload.Fields,
		},
		map[string]any{"profile_id": payload.ProfileID},
		0, false)
}

// ProcessJobEvent handles the job lifecycle family.
func (p *Processor) ProcessJobEvent(ctx context.Context, t event.Type, userID string, payload event.JobPayload) error {
	if payload.Family() != t.Family() {
		return fmt.Errorf("%w: %s", ErrUnknownFamily, t)
	}
	return p.process(ctx, t, userID, payload,
		map[string]any{
			"job_id":      payload.JobID,
			"employer_id": payload.EmployerID,
			"title":       payload.Title,
			"status":      payload.Status,
		},
		map[string]any{
			"job_id":      payload.JobID,
			"employer_id": payload.EmployerID,
		},
		0, false)
}

// ProcessFeedbackEvent handles feedback submissions. The rating is
// normalized onto the score scale for priority purposes.
func (p *Processor) ProcessFeedbackEvent(ctx context.Context, t event.Type, userID string, payload event.FeedbackPayload) error {
	if payload.Family() != t.Family() {
		return fmt.Errorf("%w: %s", ErrUnknownFamily, t)
	}
	score := float64(payload.Rating) / 5.0
	return p.process(ctx, t, userID, payload,
		map[string]any{
			"feedback_id": payload.FeedbackID,
			"match_id":    payload.MatchID,
			"rating":      payload.Rating,
		},
		map[string]any{
			"feedback_id": payload.FeedbackID,
			"match_id":    payload.MatchID,
		},
		score, payload.Rating > 0)
}
