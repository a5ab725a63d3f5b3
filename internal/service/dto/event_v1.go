// Package dto declares the wire payloads produced by the upstream
// jobfinders services, versioned independently from the domain model.
package dto

import (
	"time"

	"github.com/freelancing-solutions/jobfinders-event-service/internal/domain/event"
)

// [BROKER_V1] Match lifecycle payload from matching-service.
type MatchV1 struct {
	MatchID     string  `json:"match_id"`
	JobID       string  `json:"job_id"`
	UserID      string  `json:"user_id"`
	CandidateID string  `json:"candidate_id"`
	Score       float64 `json:"score"`
	Status      string  `json:"status"`
	OccurredAt  string  `json:"occurred_at"`
	Correlation string  `json:"correlation_id"`
}

func (d *MatchV1) ToDomain(t event.Type) *event.Event {
	return draft(t, d.UserID, d.OccurredAt, d.Correlation, &event.MatchPayload{
		MatchID:     d.MatchID,
		JobID:       d.JobID,
		CandidateID: d.CandidateID,
		Score:       d.Score,
		Status:      d.Status,
	})
}

// [BROKER_V1] Application lifecycle payload from application-service.
type ApplicationV1 struct {
	ApplicationID string `json:"application_id"`
	JobID         string `json:"job_id"`
	UserID        string `json:"user_id"`
	CandidateID   string `json:"candidate_id"`
	Status        string `json:"status"`
	OccurredAt    string `json:"occurred_at"`
	Correlation   string `json:"correlation_id"`
}

func (d *ApplicationV1) ToDomain(t event.Type) *event.Event {
	return draft(t, d.UserID, d.OccurredAt, d.Correlation, &event.ApplicationPayload{
		ApplicationID: d.ApplicationID,
		JobID:         d.JobID,
		CandidateID:   d.CandidateID,
		Status:        d.Status,
	})
}

// [BROKER_V1] Profile change payload from profile-service.
type ProfileV1 struct {
	ProfileID    string   `json:"profile_id"`
	UserID       string   `json:"user_id"`
	Completeness float64  `json:"completeness"`
	Fields       []string `json:"fields"`
	OccurredAt   string   `json:"occurred_at"`
	Correlation  string   `json:"correlation_id"`
}

func (d *ProfileV1) ToDomain(t event.Type) *event.Event {
	return draft(t, d.UserID, d.OccurredAt, d.Correlation, &event.ProfilePayload{
		ProfileID:    d.ProfileID,
		Completeness: d.Completeness,
		Fields:       d.Fields,
	})
}

// [BROKER_V1] Job posting payload from job-service.
type JobV1 struct {
	JobID       string `json:"job_id"`
	EmployerID  string `json:"employer_id"`
	UserID      string `json:"user_id"`
	Title       string `json:"title"`
	Status      string `json:"status"`
	OccurredAt  string `json:"occurred_at"`
	Correlation string `json:"correlation_id"`
}

func (d *JobV1) ToDomain(t event.Type) *event.Event {
	return draft(t, d.UserID, d.OccurredAt, d.Correlation, &event.JobPayload{
		JobID:      d.JobID,
		EmployerID: d.EmployerID,
		Title:      d.Title,
		Status:     d.Status,
	})
}

// [BROKER_V1] Feedback payload from feedback-service.
type FeedbackV1 struct {
	FeedbackID  string `json:"feedback_id"`
	MatchID     string `json:"match_id"`
	UserID      string `json:"user_id"`
	Rating      int    `json:"rating"`
	Comment     string `json:"comment"`
	OccurredAt  string `json:"occurred_at"`
	Correlation string `json:"correlation_id"`
}

func (d *FeedbackV1) ToDomain(t event.Type) *event.Event {
	return draft(t, d.UserID, d.OccurredAt, d.Correlation, &event.FeedbackPayload{
		FeedbackID: d.FeedbackID,
		MatchID:    d.MatchID,
		Rating:     d.Rating,
		Comment:    d.Comment,
	})
}

// draft assembles a domain event without an id; the ingest pipeline
// assigns identity before publishing.
func draft(t event.Type, userID, occurredAt, correlation string, p event.Payload) *event.Event {
	ts := time.Now().UTC()
	if occurredAt != "" {
		if parsed, err := time.Parse(time.RFC3339, occurredAt); err == nil {
			ts = parsed
		}
	}
	return &event.Event{
		Type:          t,
		Timestamp:     ts,
		UserID:        userID,
		CorrelationID: correlation,
		Payload:       p,
	}
}
