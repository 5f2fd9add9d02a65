package types

import "time"

// Category is the civic-issue bucket a transcript is classified into.
type Category string

const (
	CategoryInfrastructure Category = "infrastructure"
	CategorySecurity       Category = "security"
	CategoryHealth         Category = "health"
	CategoryEducation      Category = "education"
	CategoryWaste          Category = "waste"
	CategoryOther          Category = "other"
)

// Categories lists every category in tie-break order: earlier wins.
var Categories = []Category{
	CategoryInfrastructure,
	CategorySecurity,
	CategoryHealth,
	CategoryEducation,
	CategoryWaste,
	CategoryOther,
}

// Valid reports whether c is one of the enumerated categories.
func (c Category) Valid() bool {
	for _, k := range Categories {
		if k == c {
			return true
		}
	}
	return false
}

// Priority is the urgency level of a report.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Priorities lists priority levels from least to most urgent.
var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}

// NotificationStatus tracks delivery of a report's notification.
type NotificationStatus string

const (
	StatusPending   NotificationStatus = "pending"
	StatusDelivered NotificationStatus = "delivered"
	StatusFailed    NotificationStatus = "failed"
)

// CanTransition reports whether a report may move from one notification
// status to another. Delivered is terminal; failed may only go back to pending.
func CanTransition(from, to NotificationStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusPending || to == StatusDelivered || to == StatusFailed
	case StatusFailed:
		return to == StatusPending || to == StatusFailed
	default:
		return false
	}
}

// CallEvent is a validated inbound transcription event.
type CallEvent struct {
	EventType           string    `json:"event_type"`
	CallControlID       string    `json:"call_control_id"`
	TranscriptText      string    `json:"transcription_text"`
	CallDurationSeconds int       `json:"call_duration"`
	ReceivedAt          time.Time `json:"received_at"`
}

type ClassificationResult struct {
	Category        Category `json:"category"`
	MatchedKeywords []string `json:"matched_keywords"`
}

type PriorityResult struct {
	Priority Priority `json:"priority"`
	Reason   string   `json:"reason"`
}

// Report is the durable record produced for a single call.
type Report struct {
	ID                   string             `json:"id"`
	CallControlID        string             `json:"call_control_id"`
	Category             Category           `json:"category"`
	Priority             Priority           `json:"priority"`
	PriorityReason       string             `json:"priority_reason,omitempty"`
	MatchedKeywords      []string           `json:"matched_keywords,omitempty"`
	TranscriptText       string             `json:"transcript_text"`
	Location             string             `json:"location,omitempty"`
	CallDurationSeconds  int                `json:"call_duration"`
	CreatedAt            time.Time          `json:"created_at"`
	NotificationStatus   NotificationStatus `json:"notification_status"`
	NotificationAttempts int                `json:"notification_attempts"`
}

// NotificationResult is the outcome of one delivery attempt.
type NotificationResult string

const (
	ResultSuccess NotificationResult = "success"
	ResultFailure NotificationResult = "failure"
)

// NotificationRecord is one entry of the append-only delivery log.
type NotificationRecord struct {
	ReportID      string             `json:"report_id"`
	Channel       string             `json:"channel"`
	AttemptNumber int                `json:"attempt_number"`
	Result        NotificationResult `json:"result"`
	Error         string             `json:"error,omitempty"`
	Timestamp     time.Time          `json:"timestamp"`
}
