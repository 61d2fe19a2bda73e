package dialer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"alara-platform/internal/calls"
	"alara-platform/internal/convai"
	"alara-platform/internal/conversations"
	"alara-platform/pkg/logger"
	"alara-platform/pkg/metrics"
)

// Placer starts outbound calls at the voice provider.
//
// Rules:
// - No provider SDK calls outside this interface.
// - PlaceCall must not be retried by callers on 4xx errors.
type Placer interface {
	PlaceCall(ctx context.Context, req convai.PlaceCallRequest) (convai.PlaceCallResult, error)
}

// PlaceRequest asks for an outbound call on behalf of a user.
// AgentID and AgentPhoneNumberID fall back to the dialer defaults.
type PlaceRequest struct {
	UserID             string         `json:"-"`
	ToNumber           string         `json:"to_number"`
	Purpose            string         `json:"purpose,omitempty"`
	AgentID            string         `json:"agent_id,omitempty"`
	AgentPhoneNumberID string         `json:"agent_phone_number_id,omitempty"`
	DynamicVariables   map[string]any `json:"dynamic_variables,omitempty"`
}

type Dialer struct {
	calls              *calls.Service
	conversations      *conversations.Service
	placer             Placer
	agentID            string
	agentPhoneNumberID string
	log                *slog.Logger
	metrics            *metrics.Metrics
}

type Option func(*Dialer)

func WithDefaults(agentID, agentPhoneNumberID string) Option {
	return func(d *Dialer) {
		d.agentID = agentID
		d.agentPhoneNumberID = agentPhoneNumberID
	}
}

func WithLogger(l *slog.Logger) Option { return func(d *Dialer) { d.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(d *Dialer) { d.metrics = m } }

func New(callSvc *calls.Service, convSvc *conversations.Service, placer Placer, opts ...Option) *Dialer {
	d := &Dialer{calls: callSvc, conversations: convSvc, placer: placer}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Place asks the provider to dial and records the call under the provider's
// call id. A webhook for the same call may land before PlaceCall returns; the
// record it created is adopted and given the caller's owner fields, so one
// phone call is always one Call. If the provider refuses, a failed call
// carrying the provider's message is recorded and returned with the error.
func (d *Dialer) Place(ctx context.Context, req PlaceRequest) (calls.Call, error) {
	if d.placer == nil {
		return calls.Call{}, errors.New("dialer: provider not configured")
	}
	log := logger.From(ctx, d.log)

	agentID := firstNonEmpty(req.AgentID, d.agentID)
	phoneID := firstNonEmpty(req.AgentPhoneNumberID, d.agentPhoneNumberID)
	if agentID == "" || phoneID == "" {
		return calls.Call{}, fmt.Errorf("%w: agent_id and agent_phone_number_id are required", calls.ErrInvalidArgument)
	}
	owner := calls.Owner{
		UserID:   strings.TrimSpace(req.UserID),
		ToNumber: strings.TrimSpace(req.ToNumber),
		Purpose:  req.Purpose,
		AgentID:  agentID,
	}
	if owner.UserID == "" || owner.ToNumber == "" {
		return calls.Call{}, fmt.Errorf("%w: user_id and to_number are required", calls.ErrInvalidArgument)
	}

	vars := make(map[string]any, len(req.DynamicVariables)+1)
	for k, v := range req.DynamicVariables {
		vars[k] = v
	}
	vars["user_id"] = owner.UserID

	res, err := d.placer.PlaceCall(ctx, convai.PlaceCallRequest{
		AgentID:            agentID,
		AgentPhoneNumberID: phoneID,
		ToNumber:           owner.ToNumber,
		DynamicVariables:   vars,
	})
	if err != nil {
		d.metrics.Placement("failed")
		log.Error("call placement failed", "err", err)
		return d.recordFailed(ctx, owner, err)
	}
	d.metrics.Placement("placed")

	call, err := d.record(ctx, owner, res.ExternalCallID)
	if err != nil {
		return calls.Call{}, fmt.Errorf("record placed call: %w", err)
	}
	log = log.With("call_id", call.ID, "external_call_id", call.ExternalCallID)

	if res.ExternalConversationID == "" {
		return call, nil
	}
	linked, err := d.linkConversation(ctx, call, agentID, res.ExternalConversationID)
	if err != nil {
		log.Warn("link conversation failed", "external_conversation_id", res.ExternalConversationID, "err", err)
		return call, nil
	}
	return linked, nil
}

// record stores a placed call. When a webhook already created the call for
// externalCallID, that record is completed with the owner fields instead.
func (d *Dialer) record(ctx context.Context, owner calls.Owner, externalCallID string) (calls.Call, error) {
	if externalCallID == "" {
		return d.calls.Create(ctx, calls.CreateRequest{
			UserID:   owner.UserID,
			ToNumber: owner.ToNumber,
			Purpose:  owner.Purpose,
			AgentID:  owner.AgentID,
		})
	}
	call, created, err := d.calls.UpsertByExternalCallID(ctx, calls.UpsertRequest{
		ExternalCallID: externalCallID,
		UserID:         owner.UserID,
		ToNumber:       owner.ToNumber,
		Purpose:        owner.Purpose,
		AgentID:        owner.AgentID,
	})
	if err != nil || created {
		return call, err
	}
	logger.From(ctx, d.log).Info("adopting call recorded by webhook", "call_id", call.ID, "external_call_id", externalCallID)
	return d.calls.FillOwner(ctx, call.ID, owner)
}

func (d *Dialer) recordFailed(ctx context.Context, owner calls.Owner, placeErr error) (calls.Call, error) {
	call, err := d.calls.Create(ctx, calls.CreateRequest{
		UserID:   owner.UserID,
		ToNumber: owner.ToNumber,
		Purpose:  owner.Purpose,
		AgentID:  owner.AgentID,
	})
	if err != nil {
		return calls.Call{}, errors.Join(fmt.Errorf("place call: %w", placeErr), err)
	}
	failed, err := d.calls.Transition(ctx, call.ID, calls.StatusFailed, calls.TransitionContext{ErrorMessage: placementError(placeErr)})
	if err != nil {
		logger.From(ctx, d.log).Error("mark call failed", "call_id", call.ID, "err", err)
		return call, fmt.Errorf("place call: %w", placeErr)
	}
	return failed, fmt.Errorf("place call: %w", placeErr)
}

func (d *Dialer) linkConversation(ctx context.Context, call calls.Call, agentID, externalConversationID string) (calls.Call, error) {
	conv, _, err := d.conversations.EnsureByExternalID(ctx, conversations.EnsureRequest{
		ExternalConversationID: externalConversationID,
		CallID:                 call.ID,
		UserID:                 call.UserID,
		AgentID:                agentID,
	})
	if err != nil {
		return call, err
	}
	if conv.CallID != call.ID {
		if _, err := d.conversations.LinkCall(ctx, conv.ID, call.ID); err != nil {
			return call, err
		}
	}
	if conv.UserID != call.UserID {
		if _, err := d.conversations.LinkUser(ctx, conv.ID, call.UserID); err != nil {
			return call, err
		}
	}
	return d.calls.LinkConversation(ctx, call.ID, conv.ID)
}

func placementError(err error) string {
	var apiErr *convai.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
