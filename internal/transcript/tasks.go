package transcript

import "strings"

// ParsedTask is a task directive mined from a create_task tool call.
// Due is ISO-8601 with an explicit offset; Timezone is an IANA name.
type ParsedTask struct {
	Title     string `json:"title"`
	Due       string `json:"due"`
	Timezone  string `json:"timezone"`
	RequestID string `json:"request_id,omitempty"`
}

// ExtractTasks returns the create_task directives that carry a non-empty
// title, due and timezone. Incomplete directives are dropped silently.
func ExtractTasks(msgs []Message) ([]ParsedTask, []ExtractionWarning) {
	calls, warnings := ExtractToolCalls(msgs, CreateTaskTool)

	var out []ParsedTask
	for _, c := range calls {
		t, ok := taskFromParams(c.Params)
		if !ok {
			t, ok = taskFromParams(c.DetailParams)
		}
		if !ok {
			continue
		}
		t.RequestID = c.RequestID
		out = append(out, t)
	}
	return out, warnings
}

// ExtractTasksJSON is ExtractTasks over a raw transcript in either envelope.
func ExtractTasksJSON(raw []byte) ([]ParsedTask, []ExtractionWarning, error) {
	msgs, err := DecodeMessages(raw)
	if err != nil {
		return nil, nil, err
	}
	tasks, warnings := ExtractTasks(msgs)
	return tasks, warnings, nil
}

func taskFromParams(p map[string]any) (ParsedTask, bool) {
	if p == nil {
		return ParsedTask{}, false
	}
	t := ParsedTask{
		Title:    stringParam(p, "title"),
		Due:      stringParam(p, "due"),
		Timezone: stringParam(p, "timezone"),
	}
	if t.Title == "" || t.Due == "" || t.Timezone == "" {
		return ParsedTask{}, false
	}
	return t, true
}

func stringParam(p map[string]any, key string) string {
	s, _ := p[key].(string)
	return strings.TrimSpace(s)
}
