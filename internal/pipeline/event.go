package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"civic-voice-go/internal/types"
)

// EventTranscriptionReceived is the only event type that produces reports.
const EventTranscriptionReceived = "call.transcription.received"

type webhookEnvelope struct {
	Data *struct {
		EventType *string `json:"event_type"`
		Payload   *struct {
			TranscriptionText *string         `json:"transcription_text"`
			CallControlID     *string         `json:"call_control_id"`
			CallDuration      json.RawMessage `json:"call_duration"`
		} `json:"payload"`
	} `json:"data"`
}

// ParseEvent validates a raw webhook body and returns the call event it
// carries. Errors are *ValidationError.
func ParseEvent(raw []byte, receivedAt time.Time) (types.CallEvent, error) {
	var env webhookEnvelope
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return types.CallEvent{}, malformed("body is not valid JSON: " + err.Error())
	}
	if env.Data == nil {
		return types.CallEvent{}, malformed("missing data")
	}
	if env.Data.EventType == nil || strings.TrimSpace(*env.Data.EventType) == "" {
		return types.CallEvent{}, malformed("missing data.event_type")
	}
	eventType := strings.TrimSpace(*env.Data.EventType)
	if eventType != EventTranscriptionReceived {
		return types.CallEvent{}, &ValidationError{
			Kind:    KindUnsupportedEvent,
			Message: fmt.Sprintf("event type %q is not supported", eventType),
		}
	}
	p := env.Data.Payload
	if p == nil {
		return types.CallEvent{}, malformed("missing data.payload")
	}
	if p.TranscriptionText == nil || strings.TrimSpace(*p.TranscriptionText) == "" {
		return types.CallEvent{}, malformed("missing data.payload.transcription_text")
	}
	if p.CallControlID == nil || strings.TrimSpace(*p.CallControlID) == "" {
		return types.CallEvent{}, malformed("missing data.payload.call_control_id")
	}
	duration, err := parseDuration(p.CallDuration)
	if err != nil {
		return types.CallEvent{}, err
	}
	return types.CallEvent{
		EventType:           eventType,
		CallControlID:       strings.TrimSpace(*p.CallControlID),
		TranscriptText:      strings.TrimSpace(*p.TranscriptionText),
		CallDurationSeconds: duration,
		ReceivedAt:          receivedAt,
	}, nil
}

// parseDuration accepts an absent or null call_duration as 0 and otherwise
// requires a non-negative JSON integer. Quoted numbers are rejected.
func parseDuration(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	var num json.Number
	if raw[0] == '"' || json.Unmarshal(raw, &num) != nil {
		return 0, malformed("data.payload.call_duration must be an integer")
	}
	n, err := num.Int64()
	if err != nil {
		return 0, malformed("data.payload.call_duration must be an integer")
	}
	if n < 0 {
		return 0, malformed("data.payload.call_duration must be >= 0")
	}
	return int(n), nil
}

// NewEvent builds a webhook body for a transcription event. It is the
// inverse of ParseEvent and is used by replay tooling.
func NewEvent(callControlID, transcript string, durationSeconds int) ([]byte, error) {
	return json.Marshal(map[string]any{
		"data": map[string]any{
			"event_type": EventTranscriptionReceived,
			"payload": map[string]any{
				"transcription_text": transcript,
				"call_control_id":    callControlID,
				"call_duration":      durationSeconds,
			},
		},
	})
}
