package convai

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"alara-platform/internal/calls"
	"alara-platform/internal/transcript"
)

type EventType string

const (
	EventPostCallTranscription EventType = "post_call_transcription"
	EventCallFailed            EventType = "call_failed"
	EventCallError             EventType = "call_error"
	EventCallStarted           EventType = "call_started"
	EventCallInProgress        EventType = "call_in_progress"
)

// StatusForEvent maps a provider event type to the call status it implies.
// The set is closed; unknown types return ok=false.
func StatusForEvent(t EventType) (calls.Status, bool) {
	switch t {
	case EventPostCallTranscription:
		return calls.StatusCompleted, true
	case EventCallFailed, EventCallError:
		return calls.StatusFailed, true
	case EventCallStarted, EventCallInProgress:
		return calls.StatusInProgress, true
	default:
		return "", false
	}
}

// ParsedWebhookEvent is the fully-typed view of a provider webhook.
// ParseWebhook either returns all required fields or an error.
type ParsedWebhookEvent struct {
	Type                   EventType
	ExternalCallID         string
	ExternalConversationID string
	ExternalAgentID        string
	Status                 calls.Status

	DurationSecs int
	Cost         *float64
	StartTime    *time.Time

	// Optional context used to enrich records created from webhooks.
	ToNumber          string
	UserID            string
	TerminationReason string

	Transcript []transcript.Message
}

var ErrMalformedPayload = errors.New("convai: malformed webhook payload")

// MalformedPayloadError names the offending field.
// errors.Is(err, ErrMalformedPayload) holds for it.
type MalformedPayloadError struct {
	Field  string
	Reason string
}

func (e *MalformedPayloadError) Error() string {
	return "convai: malformed webhook payload: " + e.Reason
}

func (e *MalformedPayloadError) Is(target error) bool { return target == ErrMalformedPayload }

func malformed(field, reason string) error {
	return &MalformedPayloadError{Field: field, Reason: reason}
}

// DecodeWebhook decodes a raw body into the untyped boundary and parses it.
func DecodeWebhook(body []byte) (ParsedWebhookEvent, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return ParsedWebhookEvent{}, malformed("body", "invalid json")
	}
	return ParseWebhook(raw)
}

// ParseWebhook validates an untyped payload (as produced by encoding/json)
// and returns the typed event.
func ParseWebhook(raw any) (ParsedWebhookEvent, error) {
	root, ok := raw.(map[string]any)
	if !ok {
		return ParsedWebhookEvent{}, malformed("", "payload is not an object")
	}
	data, ok := root["data"].(map[string]any)
	if !ok {
		return ParsedWebhookEvent{}, malformed("data", "missing data")
	}
	eventType, ok := nonEmptyString(root["type"])
	if !ok {
		return ParsedWebhookEvent{}, malformed("type", "missing type")
	}
	conversationID, ok := nonEmptyString(data["conversation_id"])
	if !ok {
		return ParsedWebhookEvent{}, malformed("data.conversation_id", "missing conversation_id")
	}
	agentID, ok := nonEmptyString(data["agent_id"])
	if !ok {
		return ParsedWebhookEvent{}, malformed("data.agent_id", "missing agent_id")
	}

	metadata, _ := data["metadata"].(map[string]any)
	phoneCall, _ := metadata["phone_call"].(map[string]any)
	callSID, ok := nonEmptyString(phoneCall["call_sid"])
	if !ok {
		return ParsedWebhookEvent{}, malformed("data.metadata.phone_call.call_sid", "missing call_sid")
	}

	rawTranscript, ok := data["transcript"].([]any)
	if !ok {
		return ParsedWebhookEvent{}, malformed("data.transcript", "missing or non-array transcript")
	}

	status, ok := StatusForEvent(EventType(eventType))
	if !ok {
		return ParsedWebhookEvent{}, malformed("type", fmt.Sprintf("unknown event type %q", eventType))
	}

	msgs := make([]transcript.Message, 0, len(rawTranscript))
	for i, entry := range rawTranscript {
		m, ok := entry.(map[string]any)
		if !ok {
			return ParsedWebhookEvent{}, malformed(fmt.Sprintf("data.transcript[%d]", i), "transcript entry is not an object")
		}
		msgs = append(msgs, normalizeMessage(m))
	}

	ev := ParsedWebhookEvent{
		Type:                   EventType(eventType),
		ExternalCallID:         callSID,
		ExternalConversationID: conversationID,
		ExternalAgentID:        agentID,
		Status:                 status,
		Transcript:             msgs,
	}

	if d, ok := number(metadata["call_duration_secs"]); ok && d >= 0 && d <= math.MaxInt32 {
		ev.DurationSecs = int(math.Round(d))
	}
	if c, ok := number(metadata["cost"]); ok {
		ev.Cost = &c
	}
	if st, ok := number(metadata["start_time_unix_secs"]); ok && st > 0 && st <= maxUnixSeconds {
		t := time.Unix(int64(st), 0).UTC()
		ev.StartTime = &t
	}
	ev.TerminationReason, _ = nonEmptyString(metadata["termination_reason"])
	ev.ToNumber, _ = nonEmptyString(phoneCall["external_number"])

	if initData, ok := data["conversation_initiation_client_data"].(map[string]any); ok {
		if vars, ok := initData["dynamic_variables"].(map[string]any); ok {
			ev.UserID, _ = nonEmptyString(vars["user_id"])
		}
	}
	return ev, nil
}

func normalizeMessage(m map[string]any) transcript.Message {
	role, _ := m["role"].(string)
	out := transcript.Message{
		Role:         transcript.NormalizeRole(role),
		Message:      optionalString(m["message"]),
		ToolCalls:    []transcript.ToolCall{},
		ToolResults:  []transcript.ToolResult{},
		Interrupted:  boolValue(m["interrupted"]),
		SourceMedium: stringValue(m["source_medium"]),
	}
	out.OriginalMessage = optionalString(m["original_message"])
	if t, ok := number(m["time_in_call_secs"]); ok {
		out.TimeInCallSecs = t
	}

	if list, ok := m["tool_calls"].([]any); ok {
		for _, item := range list {
			tc, ok := item.(map[string]any)
			if !ok {
				continue
			}
			call := transcript.ToolCall{
				ToolName:          stringValue(tc["tool_name"]),
				RequestID:         stringValue(tc["request_id"]),
				ParamsAsJSON:      jsonText(tc["params_as_json"]),
				ToolHasBeenCalled: boolValue(tc["tool_has_been_called"]),
			}
			if det, ok := tc["tool_details"].(map[string]any); ok {
				call.ToolDetails = &transcript.ToolDetails{
					Type:       stringValue(det["type"]),
					Parameters: jsonText(det["parameters"]),
				}
			}
			out.ToolCalls = append(out.ToolCalls, call)
		}
	}

	if list, ok := m["tool_results"].([]any); ok {
		for _, item := range list {
			tr, ok := item.(map[string]any)
			if !ok {
				continue
			}
			out.ToolResults = append(out.ToolResults, transcript.ToolResult{
				ToolName:    stringValue(tr["tool_name"]),
				RequestID:   stringValue(tr["request_id"]),
				ResultValue: jsonText(tr["result_value"]),
				IsError:     boolValue(tr["is_error"]),
			})
		}
	}
	return out
}

func nonEmptyString(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func optionalString(v any) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return &s
}

func boolValue(v any) bool {
	b, _ := v.(bool)
	return b
}

// number accepts json.Number (UseNumber decoding) and float64 (default decoding).
func number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// jsonText returns strings as-is and re-encodes structured values, so
// providers that inline parameter objects still yield a JSON document.
func jsonText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
