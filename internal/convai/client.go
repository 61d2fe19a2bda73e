package convai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	DefaultBaseURL    = "https://api.elevenlabs.io"
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3

	outboundCallPath = "/v1/convai/twilio/outbound-call"
	apiKeyHeader     = "xi-api-key"
)

// PlaceCallRequest asks the provider to dial ToNumber with an agent profile.
type PlaceCallRequest struct {
	AgentID            string
	AgentPhoneNumberID string
	ToNumber           string
	DynamicVariables   map[string]any
}

// PlaceCallResult carries the provider ids for the new call.
// ExternalConversationID may be empty.
type PlaceCallResult struct {
	ExternalCallID         string
	ExternalConversationID string
}

// APIError is a non-2xx response, or a 2xx response reporting failure.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("convai api error %d: %s", e.StatusCode, e.Message)
}

// IsRateLimitError reports a 429 from the provider.
func IsRateLimitError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

// IsAuthError reports a rejected API credential.
func IsAuthError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden)
}

// Client calls the voice provider's API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
}

type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = d }
}

func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = h }
}

func WithMaxRetries(n int) ClientOption {
	return func(c *Client) { c.maxRetries = n }
}

// WithBackoff sets the first retry delay; later retries double it.
func WithBackoff(d time.Duration) ClientOption {
	return func(c *Client) { c.backoff = d }
}

func NewClient(apiKey string, opts ...ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("convai: API key is required")
	}
	c := &Client{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		maxRetries: DefaultMaxRetries,
		backoff:    time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type outboundCallBody struct {
	AgentID            string `json:"agent_id"`
	AgentPhoneNumberID string `json:"agent_phone_number_id"`
	ToNumber           string `json:"to_number"`
	InitiationData     *struct {
		DynamicVariables map[string]any `json:"dynamic_variables"`
	} `json:"conversation_initiation_client_data,omitempty"`
}

type outboundCallResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
	CallSID        string `json:"callSid"`
}

// PlaceCall starts an outbound call. Only 429 responses and failures to
// connect are retried; anything after the request was sent is returned.
func (c *Client) PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error) {
	if req.AgentID == "" || req.AgentPhoneNumberID == "" || req.ToNumber == "" {
		return PlaceCallResult{}, errors.New("convai: agent_id, agent_phone_number_id and to_number are required")
	}
	body := outboundCallBody{
		AgentID:            req.AgentID,
		AgentPhoneNumberID: req.AgentPhoneNumberID,
		ToNumber:           req.ToNumber,
	}
	if len(req.DynamicVariables) > 0 {
		body.InitiationData = &struct {
			DynamicVariables map[string]any `json:"dynamic_variables"`
		}{DynamicVariables: req.DynamicVariables}
	}

	var resp outboundCallResponse
	if err := c.do(ctx, http.MethodPost, outboundCallPath, body, &resp); err != nil {
		return PlaceCallResult{}, err
	}
	if !resp.Success || resp.CallSID == "" {
		msg := resp.Message
		if msg == "" {
			msg = "call was not placed"
		}
		return PlaceCallResult{}, &APIError{StatusCode: http.StatusOK, Message: msg}
	}
	return PlaceCallResult{ExternalCallID: resp.CallSID, ExternalConversationID: resp.ConversationID}, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("convai: marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.backoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		status, respBody, err := c.execute(ctx, method, path, payload)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("convai: %s %s: %w", method, path, err)
			if isDialError(err) {
				continue
			}
			return lastErr
		}
		if status == http.StatusTooManyRequests {
			lastErr = &APIError{StatusCode: status, Message: errorMessage(respBody)}
			continue
		}
		if status >= 400 {
			return &APIError{StatusCode: status, Message: errorMessage(respBody)}
		}
		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("convai: decode response: %w", err)
			}
		}
		return nil
	}
	return lastErr
}

func (c *Client) execute(ctx context.Context, method, path string, payload []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

// isDialError reports a failure to open the connection.
func isDialError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

const maxErrorMessageRunes = 256

// errorMessage pulls a message out of {"detail": "..."} or
// {"detail": {"message": "..."}} bodies, falling back to the raw text.
func errorMessage(body []byte) string {
	var env struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &env); err == nil && len(env.Detail) > 0 {
		var s string
		if json.Unmarshal(env.Detail, &s) == nil && s != "" {
			return s
		}
		var obj struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(env.Detail, &obj) == nil && obj.Message != "" {
			return obj.Message
		}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return http.StatusText(http.StatusInternalServerError)
	}
	if utf8.RuneCountInString(msg) > maxErrorMessageRunes {
		msg = string([]rune(msg)[:maxErrorMessageRunes])
	}
	return msg
}
