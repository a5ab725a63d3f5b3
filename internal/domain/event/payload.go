package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload is the tagged-union half of the envelope. The Type field of the
// surrounding Event is the discriminant; Family ties a payload record back
// to the type segment it serves.
type Payload interface {
	Family() string
}

// MatchPayload carries match lifecycle data (match.*).
type MatchPayload struct {
	MatchID     string  `json:"match_id"`
	JobID       string  `json:"job_id,omitempty"`
	CandidateID string  `json:"candidate_id,omitempty"`
	Score       float64 `json:"score,omitempty"`
	Status      string  `json:"status,omitempty"`
}

func (MatchPayload) Family() string { return "match" }

// ApplicationPayload carries application lifecycle data (application.*).
type ApplicationPayload struct {
	ApplicationID string `json:"application_id"`
	JobID         string `json:"job_id,omitempty"`
	CandidateID   string `json:"candidate_id,omitempty"`
	Status        string `json:"status,omitempty"`
}

func (ApplicationPayload) Family() string { return "application" }

// ProfilePayload carries candidate profile changes (profile.*).
type ProfilePayload struct {
	ProfileID    string   `json:"profile_id"`
	Completeness float64  `json:"completeness,omitempty"`
	Fields       []string `json:"fields,omitempty"`
}

func (ProfilePayload) Family() string { return "profile" }

// JobPayload carries job posting changes (job.*).
type JobPayload struct {
	JobID      string `json:"job_id"`
	EmployerID string `json:"employer_id,omitempty"`
	Title      string `json:"title,omitempty"`
	Status     string `json:"status,omitempty"`
}

func (JobPayload) Family() string { return "job" }

// FeedbackPayload carries match/application feedback (feedback.*).
type FeedbackPayload struct {
	FeedbackID string `json:"feedback_id"`
	MatchID    string `json:"match_id,omitempty"`
	Rating     int    `json:"rating,omitempty"`
	Comment    string `json:"comment,omitempty"`
}

func (FeedbackPayload) Family() string { return "feedback" }

// SystemPayload carries internal signals (system.*).
type SystemPayload struct {
	Component string         `json:"component"`
	Detail    string         `json:"detail,omitempty"`
	At        time.Time      `json:"at,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

func (SystemPayload) Family() string { return "system" }

// payloadFactories maps a type family to its concrete payload record.
var payloadFactories = map[string]func() Payload{
	"match":       func() Payload { return &MatchPayload{} },
	"application": func() Payload { return &ApplicationPayload{} },
	"profile":     func() Payload { return &ProfilePayload{} },
	"job":         func() Payload { return &JobPayload{} },
	"feedback":    func() Payload { return &FeedbackPayload{} },
	"system":      func() Payload { return &SystemPayload{} },
}

// DecodePayload unmarshals raw JSON into the payload record associated
// with t. Empty input yields a nil payload, not an error.
func DecodePayload(t Type, raw []byte) (Payload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	factory, ok := payloadFactories[t.Family()]
	if !ok {
		return nil, fmt.Errorf("no payload record for type family %q", t.Family())
	}
	p := factory()
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t.Family(), err)
	}
	return p, nil
}

// eventAlias avoids UnmarshalJSON recursion.
type eventAlias Event

type eventWire struct {
	eventAlias
	RawPayload json.RawMessage `json:"payload,omitempty"`
}

// UnmarshalJSON decodes the envelope, then dispatches the payload on the
// type discriminant.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w eventWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = Event(w.eventAlias)
	p, err := DecodePayload(e.Type, w.RawPayload)
	if err != nil {
		return err
	}
	e.Payload = p
	return nil
}
