package transcript

import (
	"errors"
	"testing"
)

func strPtr(s string) *string { return &s }

func taskCall(id, params string) ToolCall {
	return ToolCall{ToolName: CreateTaskTool, RequestID: id, ParamsAsJSON: params}
}

func TestNormalizeRole(t *testing.T) {
	cases := map[string]Role{
		"agent":     RoleAgent,
		"Assistant": RoleAgent,
		"ai":        RoleAgent,
		"bot":       RoleAgent,
		"user":      RoleUser,
		"human":     RoleUser,
		"caller":    RoleUser,
		"narrator":  RoleUser,
		"":          RoleUser,
	}
	for in, want := range cases {
		if got := NormalizeRole(in); got != want {
			t.Fatalf("NormalizeRole(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExtractToolCalls_PositionalMetadata(t *testing.T) {
	msgs := []Message{
		{Role: RoleUser, Message: strPtr("remind me to buy milk"), TimeInCallSecs: 3},
		{Role: RoleAgent, TimeInCallSecs: 7, ToolCalls: []ToolCall{
			{ToolName: "lookup_calendar", ParamsAsJSON: `{}`},
			taskCall("r1", `{"title":"Buy milk"}`),
		}},
	}

	got, warnings := ExtractToolCalls(msgs, CreateTaskTool)
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 call, got %d", len(got))
	}
	c := got[0]
	if c.MessageIndex != 1 || c.CallIndex != 1 || c.Timestamp != 7 || c.Role != RoleAgent {
		t.Fatalf("unexpected metadata: %+v", c)
	}
	if c.Params["title"] != "Buy milk" {
		t.Fatalf("expected parsed params, got %v", c.Params)
	}
	if c.DetailParams != nil {
		t.Fatalf("expected no detail params")
	}
}

func TestExtractToolCalls_MalformedParamsIsolated(t *testing.T) {
	msgs := []Message{
		{Role: RoleAgent, ToolCalls: []ToolCall{
			{ToolName: CreateTaskTool, ParamsAsJSON: `{not json`, ToolDetails: &ToolDetails{Type: "client", Parameters: `{"title":"x"}`}},
			{ToolName: CreateTaskTool, ParamsAsJSON: `{"title":"ok"}`, ToolDetails: &ToolDetails{Parameters: `[`}},
		}},
	}

	got, warnings := ExtractToolCalls(msgs, CreateTaskTool)
	if len(got) != 2 {
		t.Fatalf("expected both calls kept, got %d", len(got))
	}
	if len(warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %d", len(warnings))
	}
	if got[0].Params != nil || got[0].DetailParams["title"] != "x" {
		t.Fatalf("unexpected first call: %+v", got[0])
	}
	if got[1].Params["title"] != "ok" || got[1].DetailParams != nil {
		t.Fatalf("unexpected second call: %+v", got[1])
	}
	if warnings[0].Field != "params_as_json" || warnings[1].Field != "tool_details.parameters" {
		t.Fatalf("unexpected warning fields: %v", warnings)
	}
}

func TestExtractTasks_DropsInvalidAndIncomplete(t *testing.T) {
	msgs := []Message{
		{Role: RoleAgent, TimeInCallSecs: 10, ToolCalls: []ToolCall{
			taskCall("a", `{"title":"Buy milk","due":"2025-01-01T09:00:00-05:00","timezone":"America/New_York"}`),
			taskCall("b", `{"title":"broken"`),
		}},
		{Role: RoleAgent, TimeInCallSecs: 20, ToolCalls: []ToolCall{
			taskCall("c", `{"title":"Call mom","due":"2025-01-02T18:00:00+01:00","timezone":"Europe/Paris"}`),
			taskCall("d", `{"title":"No due","timezone":"UTC"}`),
		}},
	}

	tasks, warnings := ExtractTasks(msgs)
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d: %+v", len(tasks), tasks)
	}
	if tasks[0].Title != "Buy milk" || tasks[0].RequestID != "a" {
		t.Fatalf("unexpected first task: %+v", tasks[0])
	}
	if tasks[1].Title != "Call mom" || tasks[1].Timezone != "Europe/Paris" {
		t.Fatalf("unexpected second task: %+v", tasks[1])
	}
	if len(warnings) != 1 || warnings[0].MessageIndex != 0 || warnings[0].CallIndex != 1 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
}

func TestExtractTasks_FallsBackToToolDetails(t *testing.T) {
	msgs := []Message{{Role: RoleAgent, ToolCalls: []ToolCall{{
		ToolName:    CreateTaskTool,
		ToolDetails: &ToolDetails{Parameters: `{"title":"Stretch","due":"2025-03-01T07:00:00Z","timezone":"UTC"}`},
	}}}}

	tasks, _ := ExtractTasks(msgs)
	if len(tasks) != 1 || tasks[0].Title != "Stretch" {
		t.Fatalf("expected fallback task, got %+v", tasks)
	}
}

func TestExtractToolCallsJSON_AcceptsBothEnvelopes(t *testing.T) {
	bare := []byte(`[{"role":"assistant","message":null,"time_in_call_secs":4,
		"tool_calls":[{"tool_name":"create_task","params_as_json":"{\"title\":\"t\"}"}]}]`)
	wrapped := []byte(`{"data":{"transcript":[{"role":"assistant","message":null,"time_in_call_secs":4,
		"tool_calls":[{"tool_name":"create_task","params_as_json":"{\"title\":\"t\"}"}]}]}}`)

	for name, raw := range map[string][]byte{"bare": bare, "wrapped": wrapped} {
		got, _, err := ExtractToolCallsJSON(raw, CreateTaskTool)
		if err != nil {
			t.Fatalf("%s: unexpected err: %v", name, err)
		}
		if len(got) != 1 || got[0].Role != RoleAgent || got[0].Params["title"] != "t" {
			t.Fatalf("%s: unexpected result: %+v", name, got)
		}
	}
}

func TestDecodeMessages_RejectsUnknownShape(t *testing.T) {
	for _, raw := range []string{``, `"x"`, `{"data":{}}`, `{"transcript":[]}`} {
		if _, err := DecodeMessages([]byte(raw)); !errors.Is(err, ErrInvalidTranscript) {
			t.Fatalf("DecodeMessages(%q): expected ErrInvalidTranscript, got %v", raw, err)
		}
	}
}

func TestExtractTasksJSON_ToleratesNonStringParams(t *testing.T) {
	raw := []byte(`[
 {"role":"agent","message":null,"time_in_call_secs":2,"tool_calls":[
  {"tool_name":"create_task","request_id":"r1","params_as_json":"{\"title\":\"Buy milk\",\"due\":\"2025-01-01T09:00:00-05:00\",\"timezone\":\"America/New_York\"}"},
  {"tool_name":"create_task","request_id":"r2","params_as_json":{"title":"Call mom","due":"2025-01-02T18:00:00-05:00","timezone":"America/New_York"}},
  {"tool_name":"create_task","request_id":"r3","params_as_json":42,"tool_details":{"type":"client","parameters":["x"]}}
 ]},
 {"role":"agent","message":null,"time_in_call_secs":5,"tool_calls":[
  {"tool_name":"create_task","request_id":"r4","params_as_json":"{\"title\":\"Stretch\",\"due\":\"2025-01-03T07:00:00-05:00\",\"timezone\":\"America/New_York\"}"}
 ],"tool_results":[{"tool_name":"create_task","request_id":"r4","result_value":{"ok":true}}]}
]`)

	tasks, warnings, err := ExtractTasksJSON(raw)
	if err != nil {
		t.Fatalf("non-string parameters must not fail the transcript: %v", err)
	}
	if len(tasks) != 3 || tasks[0].RequestID != "r1" || tasks[1].Title != "Call mom" || tasks[2].RequestID != "r4" {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}
	if len(warnings) != 2 {
		t.Fatalf("expected warnings for both fields of r3, got %+v", warnings)
	}
	for _, w := range warnings {
		if w.MessageIndex != 0 || w.CallIndex != 2 {
			t.Fatalf("warning points at the wrong call: %+v", w)
		}
	}

	msgs, err := DecodeMessages(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := msgs[1].ToolResults[0].ResultValue; got != `{"ok":true}` {
		t.Fatalf("inlined result value should be kept as JSON text, got %q", got)
	}
}
