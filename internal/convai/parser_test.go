package convai

import (
	"errors"
	"strings"
	"testing"

	"alara-platform/internal/calls"
	"alara-platform/internal/transcript"
)

const fullPayload = `{
  "type": "post_call_transcription",
  "event_timestamp": 1735740000,
  "data": {
    "agent_id": "agent_1",
    "conversation_id": "conv_1",
    "conversation_initiation_client_data": {"dynamic_variables": {"user_id": "user_42"}},
    "metadata": {
      "call_duration_secs": 62.6,
      "cost": 412,
      "start_time_unix_secs": 1735739900,
      "termination_reason": "end_call tool was called",
      "phone_call": {"call_sid": "CA123", "external_number": "+15551230000"}
    },
    "transcript": [
      {"role": "agent", "message": "Hi, how can I help?", "time_in_call_secs": 0},
      {"role": "user", "message": "Remind me to buy milk tomorrow at nine.", "time_in_call_secs": 3.5},
      {"role": "assistant", "message": null, "time_in_call_secs": 6,
       "tool_calls": [{"tool_name": "create_task", "request_id": "req_1",
         "params_as_json": "{\"title\":\"Buy milk\",\"due\":\"2025-01-01T09:00:00-05:00\",\"timezone\":\"America/New_York\"}",
         "tool_has_been_called": true,
         "tool_details": {"type": "client", "parameters": {"title": "Buy milk"}}}],
       "tool_results": [{"tool_name": "create_task", "request_id": "req_1", "result_value": "ok", "is_error": false}]}
    ]
  }
}`

func TestDecodeWebhook_FullPayload(t *testing.T) {
	ev, err := DecodeWebhook([]byte(fullPayload))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if ev.Type != EventPostCallTranscription || ev.Status != calls.StatusCompleted {
		t.Fatalf("unexpected type/status: %q %q", ev.Type, ev.Status)
	}
	if ev.ExternalCallID != "CA123" || ev.ExternalConversationID != "conv_1" || ev.ExternalAgentID != "agent_1" {
		t.Fatalf("unexpected ids: %+v", ev)
	}
	if ev.DurationSecs != 63 {
		t.Fatalf("expected rounded duration 63, got %d", ev.DurationSecs)
	}
	if ev.Cost == nil || *ev.Cost != 412 {
		t.Fatalf("expected cost 412, got %v", ev.Cost)
	}
	if ev.StartTime == nil || ev.StartTime.Unix() != 1735739900 {
		t.Fatalf("unexpected start time: %v", ev.StartTime)
	}
	if ev.UserID != "user_42" || ev.ToNumber != "+15551230000" || ev.TerminationReason == "" {
		t.Fatalf("unexpected optional context: %+v", ev)
	}
	if len(ev.Transcript) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(ev.Transcript))
	}

	last := ev.Transcript[2]
	if last.Role != transcript.RoleAgent {
		t.Fatalf("assistant must normalize to agent, got %q", last.Role)
	}
	if last.Message != nil {
		t.Fatalf("null message must stay nil")
	}
	if last.TimeInCallSecs != 6 {
		t.Fatalf("unexpected time_in_call_secs: %v", last.TimeInCallSecs)
	}
	if len(last.ToolCalls) != 1 || last.ToolCalls[0].RequestID != "req_1" || !last.ToolCalls[0].ToolHasBeenCalled {
		t.Fatalf("unexpected tool calls: %+v", last.ToolCalls)
	}
	if det := last.ToolCalls[0].ToolDetails; det == nil || det.Parameters != `{"title":"Buy milk"}` {
		t.Fatalf("structured tool_details parameters must be re-encoded, got %+v", det)
	}
	if len(last.ToolResults) != 1 || last.ToolResults[0].ResultValue != "ok" {
		t.Fatalf("unexpected tool results: %+v", last.ToolResults)
	}
	if got := ev.Transcript[0].ToolCalls; got == nil || len(got) != 0 {
		t.Fatalf("absent tool_calls must be an empty slice, got %#v", got)
	}

	tasks, warnings := transcript.ExtractTasks(ev.Transcript)
	if len(warnings) != 0 || len(tasks) != 1 || tasks[0].Title != "Buy milk" {
		t.Fatalf("unexpected tasks %+v warnings %+v", tasks, warnings)
	}
}

func TestParseWebhook_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		reason string
		field  string
	}{
		{name: "empty object", body: `{}`, reason: "missing data", field: "data"},
		{name: "array root", body: `[]`, reason: "payload is not an object"},
		{name: "invalid json", body: `{`, reason: "invalid json", field: "body"},
		{name: "missing type", body: `{"data":{}}`, reason: "missing type", field: "type"},
		{name: "missing conversation id", body: `{"data":{},"type":"x"}`, reason: "missing conversation_id", field: "data.conversation_id"},
		{name: "missing agent id", body: `{"type":"call_failed","data":{"conversation_id":"c"}}`, reason: "missing agent_id", field: "data.agent_id"},
		{name: "missing call sid", body: `{"type":"call_failed","data":{"conversation_id":"c","agent_id":"a","metadata":{}}}`, reason: "missing call_sid", field: "data.metadata.phone_call.call_sid"},
		{
			name:   "transcript not array",
			body:   `{"type":"call_failed","data":{"conversation_id":"c","agent_id":"a","metadata":{"phone_call":{"call_sid":"CA1"}},"transcript":{}}}`,
			reason: "missing or non-array transcript", field: "data.transcript",
		},
		{
			name:   "unknown event",
			body:   `{"type":"unknown_event","data":{"conversation_id":"c","agent_id":"a","metadata":{"phone_call":{"call_sid":"CA1"}},"transcript":[]}}`,
			reason: `unknown event type "unknown_event"`, field: "type",
		},
		{
			name:   "transcript entry not object",
			body:   `{"type":"call_failed","data":{"conversation_id":"c","agent_id":"a","metadata":{"phone_call":{"call_sid":"CA1"}},"transcript":["hi"]}}`,
			reason: "transcript entry is not an object", field: "data.transcript[0]",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeWebhook([]byte(tc.body))
			if !errors.Is(err, ErrMalformedPayload) {
				t.Fatalf("expected ErrMalformedPayload, got %v", err)
			}
			var mp *MalformedPayloadError
			if !errors.As(err, &mp) {
				t.Fatalf("expected *MalformedPayloadError, got %T", err)
			}
			if mp.Reason != tc.reason || mp.Field != tc.field {
				t.Fatalf("expected %q/%q, got %q/%q", tc.field, tc.reason, mp.Field, mp.Reason)
			}
			if !strings.HasSuffix(err.Error(), tc.reason) {
				t.Fatalf("error text must carry the reason: %v", err)
			}
		})
	}
}

func TestParseWebhook_EventStatusMapping(t *testing.T) {
	tests := map[EventType]calls.Status{
		EventPostCallTranscription: calls.StatusCompleted,
		EventCallFailed:            calls.StatusFailed,
		EventCallError:             calls.StatusFailed,
		EventCallStarted:           calls.StatusInProgress,
		EventCallInProgress:        calls.StatusInProgress,
	}
	for et, want := range tests {
		raw := map[string]any{
			"type": string(et),
			"data": map[string]any{
				"conversation_id": "c",
				"agent_id":        "a",
				"metadata":        map[string]any{"phone_call": map[string]any{"call_sid": "CA1"}, "call_duration_secs": 12.0},
				"transcript":      []any{},
			},
		}
		ev, err := ParseWebhook(raw)
		if err != nil {
			t.Fatalf("%s: unexpected err: %v", et, err)
		}
		if ev.Status != want {
			t.Fatalf("%s: expected %q, got %q", et, want, ev.Status)
		}
		if ev.DurationSecs != 12 {
			t.Fatalf("%s: float64 durations must be accepted, got %d", et, ev.DurationSecs)
		}
	}
}

func TestParseWebhook_IgnoresBadOptionalFields(t *testing.T) {
	body := `{"type":"call_failed","data":{"conversation_id":"c","agent_id":"a",
	  "metadata":{"phone_call":{"call_sid":"CA1"},"call_duration_secs":"long","cost":-1,"start_time_unix_secs":0},
	  "transcript":[]}}`
	ev, err := DecodeWebhook([]byte(body))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if ev.DurationSecs != 0 || ev.StartTime != nil {
		t.Fatalf("invalid optional fields must be ignored: %+v", ev)
	}
	if ev.Cost == nil || *ev.Cost != -1 {
		t.Fatalf("cost is passed through as given, got %v", ev.Cost)
	}
}

func TestParseWebhook_IgnoresOutOfRangeNumbers(t *testing.T) {
	body := `{"type":"post_call_transcription","data":{"conversation_id":"c","agent_id":"a",
	  "metadata":{"phone_call":{"call_sid":"CA1"},"call_duration_secs":1e300,"start_time_unix_secs":9.3e18},
	  "transcript":[]}}`
	ev, err := DecodeWebhook([]byte(body))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if ev.DurationSecs != 0 || ev.StartTime != nil {
		t.Fatalf("out of range numbers must be ignored: %+v", ev)
	}

	body = `{"type":"post_call_transcription","data":{"conversation_id":"c","agent_id":"a",
	  "metadata":{"phone_call":{"call_sid":"CA1"},"call_duration_secs":2147483647,"start_time_unix_secs":253402300799},
	  "transcript":[]}}`
	ev, err = DecodeWebhook([]byte(body))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if ev.DurationSecs != 2147483647 || ev.StartTime == nil || ev.StartTime.Year() != 9999 {
		t.Fatalf("boundary values must be kept: %+v", ev)
	}
}
