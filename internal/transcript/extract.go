package transcript

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// CreateTaskTool is the tool name the agent uses for task directives.
const CreateTaskTool = "create_task"

var ErrInvalidTranscript = errors.New("transcript: invalid transcript")

// EnhancedToolCall is a ToolCall annotated with its position in the transcript
// and its decoded parameter documents. Params and DetailParams are nil when the
// corresponding field is empty or failed to decode.
type EnhancedToolCall struct {
	ToolCall

	MessageIndex int     `json:"message_index"`
	CallIndex    int     `json:"call_index"`
	Timestamp    float64 `json:"timestamp"`
	Role         Role    `json:"role"`

	Params       map[string]any `json:"params,omitempty"`
	DetailParams map[string]any `json:"detail_params,omitempty"`
}

// ExtractionWarning reports one tool-call field that could not be decoded.
// Warnings never abort an extraction.
type ExtractionWarning struct {
	MessageIndex int
	CallIndex    int
	Field        string
	Err          error
}

func (w ExtractionWarning) Error() string {
	return fmt.Sprintf("message %d tool call %d: %s: %v", w.MessageIndex, w.CallIndex, w.Field, w.Err)
}

func (w ExtractionWarning) Unwrap() error { return w.Err }

// ExtractToolCalls returns every tool call named toolName, in transcript order.
func ExtractToolCalls(msgs []Message, toolName string) ([]EnhancedToolCall, []ExtractionWarning) {
	var (
		out      []EnhancedToolCall
		warnings []ExtractionWarning
	)
	for mi, m := range msgs {
		for ci, tc := range m.ToolCalls {
			if tc.ToolName != toolName {
				continue
			}
			e := EnhancedToolCall{
				ToolCall:     tc,
				MessageIndex: mi,
				CallIndex:    ci,
				Timestamp:    m.TimeInCallSecs,
				Role:         m.Role,
			}

			params, err := decodeParams(tc.ParamsAsJSON)
			if err != nil {
				warnings = append(warnings, ExtractionWarning{MessageIndex: mi, CallIndex: ci, Field: "params_as_json", Err: err})
			}
			e.Params = params

			if tc.ToolDetails != nil {
				details, err := decodeParams(tc.ToolDetails.Parameters)
				if err != nil {
					warnings = append(warnings, ExtractionWarning{MessageIndex: mi, CallIndex: ci, Field: "tool_details.parameters", Err: err})
				}
				e.DetailParams = details
			}

			out = append(out, e)
		}
	}
	return out, warnings
}

// ExtractToolCallsJSON accepts either a bare message array or a
// {"data": {"transcript": [...]}} envelope.
func ExtractToolCallsJSON(raw []byte, toolName string) ([]EnhancedToolCall, []ExtractionWarning, error) {
	msgs, err := DecodeMessages(raw)
	if err != nil {
		return nil, nil, err
	}
	calls, warnings := ExtractToolCalls(msgs, toolName)
	return calls, warnings, nil
}

// DecodeMessages decodes a transcript in either accepted envelope and
// normalizes roles.
func DecodeMessages(raw []byte) ([]Message, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidTranscript)
	}

	var wire []wireMessage
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &wire); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTranscript, err)
		}
	case '{':
		var env struct {
			Data *struct {
				Transcript []wireMessage `json:"transcript"`
			} `json:"data"`
		}
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTranscript, err)
		}
		if env.Data == nil || env.Data.Transcript == nil {
			return nil, fmt.Errorf("%w: missing data.transcript", ErrInvalidTranscript)
		}
		wire = env.Data.Transcript
	default:
		return nil, fmt.Errorf("%w: expected array or object", ErrInvalidTranscript)
	}

	out := make([]Message, 0, len(wire))
	for _, w := range wire {
		m := w.Message
		m.Role = NormalizeRole(w.Role)
		out = append(out, m)
	}
	return out, nil
}

type wireMessage struct {
	Message
	Role string `json:"role"`
}

func decodeParams(s string) (map[string]any, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}
