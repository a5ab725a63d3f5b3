package event

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrValidation marks publish-time rejections. Events failing validation
// never enter the system; the caller decides whether to fix and retry.
var ErrValidation = errors.New("event validation failed")

// Type is the closed vocabulary of event kinds flowing through the platform.
type Type string

const (
	// Match lifecycle [BUSINESS]
	MatchCreated  Type = "match.created"
	MatchUpdated  Type = "match.updated"
	MatchAccepted Type = "match.accepted"
	MatchRejected Type = "match.rejected"
	MatchExpired  Type = "match.expired"

	// Application lifecycle [BUSINESS]
	ApplicationSubmitted   Type = "application.submitted"
	ApplicationViewed      Type = "application.viewed"
	ApplicationShortlisted Type = "application.shortlisted"
	ApplicationRejected    Type = "application.rejected"
	ApplicationWithdrawn   Type = "application.withdrawn"

	// Profile lifecycle [BUSINESS]
	ProfileUpdated   Type = "profile.updated"
	ProfileCompleted Type = "profile.completed"

	// Job lifecycle [BUSINESS]
	JobPosted  Type = "job.posted"
	JobUpdated Type = "job.updated"
	JobExpired Type = "job.expired"

	// Feedback [BUSINESS]
	FeedbackSubmitted Type = "feedback.submitted"

	// System [SYSTEM]
	SystemHealth Type = "system.health"
	SystemAlert  Type = "system.alert"
)

var knownTypes = map[Type]struct{}{
	MatchCreated: {}, MatchUpdated: {}, MatchAccepted: {}, MatchRejected: {}, MatchExpired: {},
	ApplicationSubmitted: {}, ApplicationViewed: {}, ApplicationShortlisted: {},
	ApplicationRejected: {}, ApplicationWithdrawn: {},
	ProfileUpdated: {}, ProfileCompleted: {},
	JobPosted: {}, JobUpdated: {}, JobExpired: {},
	FeedbackSubmitted: {},
	SystemHealth:      {}, SystemAlert: {},
}

// Known reports whether t belongs to the recognized vocabulary.
func (t Type) Known() bool {
	_, ok := knownTypes[t]
	return ok
}

// Family returns the leading segment of the type ("match", "job", ...).
// It is the discriminant used for payload decoding and processor routing.
func (t Type) Family() string {
	for i := 0; i < len(t); i++ {
		if t[i] == '.' {
			return string(t[:i])
		}
	}
	return string(t)
}

// Types returns the full vocabulary. Order is not guaranteed.
func Types() []Type {
	out := make([]Type, 0, len(knownTypes))
	for t := range knownTypes {
		out = append(out, t)
	}
	return out
}

// Priority orders delivery and eviction decisions.
type Priority int32

const (
	PriorityLow    Priority = 10
	PriorityNormal Priority = 20
	PriorityHigh   Priority = 30
	PriorityUrgent Priority = 40
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "unknown"
	}
}

// ParsePriority maps the wire form back to a Priority. Unrecognized
// values fall back to normal.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "urgent":
		return PriorityUrgent
	default:
		return PriorityNormal
	}
}

// Event is the envelope shared by every component: common routing and
// correlation fields wrapped around a type-specific payload.
type Event struct {
	ID            string         `json:"id"`
	Type          Type           `json:"type"`
	Timestamp     time.Time      `json:"timestamp"`
	Priority      Priority       `json:"priority"`
	Source        string         `json:"source"`
	UserID        string         `json:"user_id,omitempty"`
	SessionID     string         `json:"session_id,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Version       int            `json:"version,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Payload       Payload        `json:"payload,omitempty"`
}

// Validate enforces the required envelope fields. Enrichment defaults
// (priority, source, correlation id) are NOT required here; id, type and
// timestamp are, and the type must be a member of the known set.
func (e *Event) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil event", ErrValidation)
	}
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrValidation)
	}
	if e.Type == "" {
		return fmt.Errorf("%w: missing type", ErrValidation)
	}
	if !e.Type.Known() {
		return fmt.Errorf("%w: unknown type %q", ErrValidation, e.Type)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrValidation)
	}
	return nil
}

// Enrich fills envelope defaults in place. The payload is never touched.
func (e *Event) Enrich(defaultSource string) {
	if e.Priority == 0 {
		e.Priority = PriorityNormal
	}
	if e.Source == "" {
		e.Source = defaultSource
	}
	if e.CorrelationID == "" {
		// Fresh correlation root: derived events inherit this id.
		e.CorrelationID = uuid.NewString()
	}
}

// Clone returns a deep-enough copy for fan-out: metadata is copied so a
// subscriber mutating it cannot poison siblings. Payloads are treated as
// immutable by convention.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	cp := *e
	if e.Metadata != nil {
		cp.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// RoutingKey derives the export topic for this event.
// [PATTERN] jobfinders.v1.{type}
func (e *Event) RoutingKey() string {
	return "jobfinders.v1." + string(e.Type)
}
