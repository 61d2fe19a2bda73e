package transcript

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Role is the closed set of speakers in a normalized transcript.
type Role string

const (
	RoleAgent Role = "agent"
	RoleUser  Role = "user"
)

// NormalizeRole maps provider role labels onto Role.
// Unrecognized labels become RoleUser; transcript roles are advisory.
func NormalizeRole(raw string) Role {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "agent", "assistant", "ai", "bot":
		return RoleAgent
	default:
		return RoleUser
	}
}

// Message is one normalized transcript turn.
// Message is nil for tool-only turns.
type Message struct {
	Role            Role         `json:"role"`
	Message         *string      `json:"message"`
	ToolCalls       []ToolCall   `json:"tool_calls"`
	ToolResults     []ToolResult `json:"tool_results"`
	TimeInCallSecs  float64      `json:"time_in_call_secs"`
	Interrupted     bool         `json:"interrupted"`
	OriginalMessage *string      `json:"original_message,omitempty"`
	SourceMedium    string       `json:"source_medium,omitempty"`
}

// ToolCall is a named invocation the voice agent emitted mid-call.
// ParamsAsJSON and ToolDetails.Parameters are JSON documents encoded as strings.
type ToolCall struct {
	ToolName          string       `json:"tool_name"`
	RequestID         string       `json:"request_id,omitempty"`
	ParamsAsJSON      string       `json:"params_as_json,omitempty"`
	ToolHasBeenCalled bool         `json:"tool_has_been_called,omitempty"`
	ToolDetails       *ToolDetails `json:"tool_details,omitempty"`
}

// UnmarshalJSON accepts params_as_json either as a string or inlined as any
// JSON value, which is kept as its JSON text. Bad parameters then surface as
// extraction warnings instead of failing the whole transcript.
func (tc *ToolCall) UnmarshalJSON(b []byte) error {
	type plain ToolCall
	var w struct {
		plain
		ParamsAsJSON json.RawMessage `json:"params_as_json"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*tc = ToolCall(w.plain)
	tc.ParamsAsJSON = rawText(w.ParamsAsJSON)
	return nil
}

type ToolDetails struct {
	Type       string `json:"type,omitempty"`
	Parameters string `json:"parameters,omitempty"`
}

func (d *ToolDetails) UnmarshalJSON(b []byte) error {
	type plain ToolDetails
	var w struct {
		plain
		Parameters json.RawMessage `json:"parameters"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*d = ToolDetails(w.plain)
	d.Parameters = rawText(w.Parameters)
	return nil
}

type ToolResult struct {
	ToolName    string `json:"tool_name"`
	RequestID   string `json:"request_id,omitempty"`
	ResultValue string `json:"result_value,omitempty"`
	IsError     bool   `json:"is_error,omitempty"`
}

func (r *ToolResult) UnmarshalJSON(b []byte) error {
	type plain ToolResult
	var w struct {
		plain
		ResultValue json.RawMessage `json:"result_value"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*r = ToolResult(w.plain)
	r.ResultValue = rawText(w.ResultValue)
	return nil
}

// rawText unquotes JSON strings and returns other values as compact JSON.
func rawText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// Text returns the spoken text or "" for tool-only turns.
func (m Message) Text() string {
	if m.Message == nil {
		return ""
	}
	return *m.Message
}
