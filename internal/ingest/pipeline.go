package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"alara-platform/internal/calls"
	"alara-platform/internal/convai"
	"alara-platform/internal/conversations"
	"alara-platform/internal/events"
	"alara-platform/internal/transcript"
	"alara-platform/pkg/logger"
	"alara-platform/pkg/metrics"
)

// Locker serializes work per key. The returned func releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// TaskSink receives tasks extracted from a conversation snapshot.
type TaskSink interface {
	PublishTasks(ctx context.Context, batch events.TaskBatch) error
}

// ConflictRecorder persists terminal status conflicts for operators.
type ConflictRecorder interface {
	LogTransitionConflict(ctx context.Context, callID, conversationID, stored, incoming, eventType string) error
}

// TransitionResult classifies what a webhook did to the call status.
type TransitionResult string

const (
	TransitionApplied   TransitionResult = "applied"
	TransitionDuplicate TransitionResult = "duplicate"
	// TransitionTerminalConflict means the call is terminal and the webhook
	// names a different terminal status. The stored status wins.
	TransitionTerminalConflict TransitionResult = "terminal_conflict"
	TransitionOutOfOrder       TransitionResult = "out_of_order"
)

// Outcome summarizes one processed webhook.
type Outcome struct {
	CallID         string
	CallCreated    bool
	Status         calls.Status
	Transition     TransitionResult
	ConversationID string
	Appended       int
	Tasks          int
	Warnings       int
}

// Pipeline applies authenticated webhook events to calls and conversations.
// It implements convai.Processor.
type Pipeline struct {
	Calls         *calls.Service
	Conversations *conversations.Service
	Locker        Locker
	Tasks         TaskSink
	Audit         ConflictRecorder
	Log           *slog.Logger
	Metrics       *metrics.Metrics
}

var _ convai.Processor = (*Pipeline)(nil)

func (p *Pipeline) Process(ctx context.Context, ev convai.ParsedWebhookEvent) error {
	_, err := p.Ingest(ctx, ev)
	return err
}

// Ingest runs every step it can. A failure to load or create the call is
// returned immediately; later step failures are joined into the error and
// the remaining steps still run.
func (p *Pipeline) Ingest(ctx context.Context, ev convai.ParsedWebhookEvent) (Outcome, error) {
	if p.Calls == nil || p.Conversations == nil {
		return Outcome{}, errors.New("ingest: pipeline not configured")
	}
	log := logger.From(ctx, p.Log)

	if p.Locker != nil {
		unlock, err := p.Locker.Lock(ctx, "call:"+ev.ExternalCallID)
		if err != nil {
			// Upserts and status CAS stay correct without the lock.
			log.Warn("ingest lock unavailable, continuing unserialized", "err", err)
		} else {
			defer unlock()
		}
	}

	userID := ev.UserID
	if userID == "" {
		if conv, err := p.Conversations.GetByExternalID(ctx, ev.ExternalConversationID); err == nil {
			userID = conv.UserID
		} else if !errors.Is(err, conversations.ErrNotFound) {
			log.Warn("ingest conversation lookup failed", "err", err)
		}
	}

	call, created, err := p.Calls.UpsertByExternalCallID(ctx, calls.UpsertRequest{
		ExternalCallID: ev.ExternalCallID,
		UserID:         userID,
		ToNumber:       ev.ToNumber,
		AgentID:        ev.ExternalAgentID,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("upsert call %s: %w", ev.ExternalCallID, err)
	}
	if userID == "" {
		userID = call.UserID
	}
	out := Outcome{CallID: call.ID, CallCreated: created}
	log = log.With("call_id", call.ID)
	if created {
		log.Info("call created from webhook")
	}

	var errs []error

	call, out.Transition, err = p.transition(ctx, log, call, ev)
	if err != nil {
		errs = append(errs, err)
	}
	out.Status = call.Status

	conv, appended, err := p.syncConversation(ctx, log, call, userID, ev)
	if err != nil {
		errs = append(errs, err)
	}
	out.ConversationID = conv.ID
	out.Appended = appended

	out.Tasks, out.Warnings, err = p.publishTasks(ctx, log, call, conv, userID, ev)
	if err != nil {
		errs = append(errs, err)
	}

	log.Info("webhook ingested",
		"created", out.CallCreated,
		"status", out.Status,
		"transition", out.Transition,
		"appended", out.Appended,
		"tasks", out.Tasks,
	)
	return out, errors.Join(errs...)
}

func (p *Pipeline) transition(ctx context.Context, log *slog.Logger, call calls.Call, ev convai.ParsedWebhookEvent) (calls.Call, TransitionResult, error) {
	next, err := p.Calls.Transition(ctx, call.ID, ev.Status, transitionContext(ev))
	if err == nil {
		p.Metrics.Transition(string(ev.Status), string(TransitionApplied))
		log.Info("call transitioned", "from", call.Status, "to", next.Status)
		return next, TransitionApplied, nil
	}

	var ite *calls.IllegalTransitionError
	if !errors.As(err, &ite) {
		p.Metrics.Transition(string(ev.Status), "error")
		return call, "", fmt.Errorf("transition call %s: %w", call.ID, err)
	}

	// The stored status may be newer than the one we upserted.
	stored := ite.From
	if cur, getErr := p.Calls.Get(ctx, call.ID); getErr == nil {
		call = cur
	}
	result := classify(stored, ev.Status)
	p.Metrics.Transition(string(ev.Status), string(result))

	switch result {
	case TransitionDuplicate:
		log.Info("duplicate status notification ignored", "status", stored)
	case TransitionTerminalConflict:
		log.Warn("terminal status conflict ignored", "stored", stored, "incoming", ev.Status)
		if p.Audit != nil {
			if err := p.Audit.LogTransitionConflict(ctx, call.ID, call.ConversationID, string(stored), string(ev.Status), string(ev.Type)); err != nil {
				log.Error("audit transition conflict failed", "err", err)
			}
		}
	default:
		log.Info("out of order status notification ignored", "stored", stored, "incoming", ev.Status)
	}
	return call, result, nil
}

func classify(stored, incoming calls.Status) TransitionResult {
	switch {
	case stored == incoming:
		return TransitionDuplicate
	case stored.IsTerminal() && incoming.IsTerminal():
		return TransitionTerminalConflict
	default:
		return TransitionOutOfOrder
	}
}

func transitionContext(ev convai.ParsedWebhookEvent) calls.TransitionContext {
	tc := calls.TransitionContext{StartedAt: ev.StartTime, Cost: ev.Cost}
	if ev.DurationSecs > 0 {
		d := ev.DurationSecs
		tc.DurationSecs = &d
		if ev.StartTime != nil && ev.Status.IsTerminal() {
			done := ev.StartTime.Add(time.Duration(d) * time.Second)
			tc.CompletedAt = &done
		}
	}
	if ev.Status == calls.StatusFailed {
		tc.ErrorMessage = ev.TerminationReason
		if tc.ErrorMessage == "" {
			tc.ErrorMessage = string(ev.Type)
		}
	}
	return tc
}

// syncConversation ensures the conversation exists, extends its transcript
// from the snapshot and links it to the call and the user.
func (p *Pipeline) syncConversation(ctx context.Context, log *slog.Logger, call calls.Call, userID string, ev convai.ParsedWebhookEvent) (conversations.Conversation, int, error) {
	conv, created, err := p.Conversations.EnsureByExternalID(ctx, conversations.EnsureRequest{
		ExternalConversationID: ev.ExternalConversationID,
		CallID:                 call.ID,
		UserID:                 userID,
		AgentID:                ev.ExternalAgentID,
	})
	if err != nil {
		return conversations.Conversation{}, 0, fmt.Errorf("ensure conversation %s: %w", ev.ExternalConversationID, err)
	}
	if created {
		log.Info("conversation created from webhook", "conversation_id", conv.ID)
	}

	var errs []error
	appended := 0
	if len(ev.Transcript) > 0 {
		next, n, err := p.Conversations.ExtendFromSnapshot(ctx, conv.ID, ev.Transcript)
		if err != nil {
			errs = append(errs, fmt.Errorf("extend transcript %s: %w", conv.ID, err))
		} else {
			conv, appended = next, n
			stored := len(conv.Transcript) - n
			if k := conversations.OutOfOrder(conv.Transcript[:stored], conv.Transcript[stored:]); k > 0 {
				log.Warn("transcript snapshot out of order, kept as received", "conversation_id", conv.ID, "messages", k)
			}
		}
	}

	if conv.CallID != call.ID {
		if next, err := p.Conversations.LinkCall(ctx, conv.ID, call.ID); err != nil {
			errs = append(errs, fmt.Errorf("link conversation %s to call %s: %w", conv.ID, call.ID, err))
		} else {
			conv = next
		}
	}
	if userID != "" && conv.UserID != userID {
		if next, err := p.Conversations.LinkUser(ctx, conv.ID, userID); err != nil {
			errs = append(errs, fmt.Errorf("link conversation %s to user: %w", conv.ID, err))
		} else {
			conv = next
		}
	}
	if call.ConversationID != conv.ID {
		if _, err := p.Calls.LinkConversation(ctx, call.ID, conv.ID); err != nil {
			errs = append(errs, fmt.Errorf("link call %s to conversation %s: %w", call.ID, conv.ID, err))
		}
	}
	return conv, appended, errors.Join(errs...)
}

func (p *Pipeline) publishTasks(ctx context.Context, log *slog.Logger, call calls.Call, conv conversations.Conversation, userID string, ev convai.ParsedWebhookEvent) (int, int, error) {
	tasks, warnings := transcript.ExtractTasks(ev.Transcript)
	for _, w := range warnings {
		log.Warn("tool call parameters skipped",
			"message_index", w.MessageIndex,
			"call_index", w.CallIndex,
			"field", w.Field,
			"err", w.Err,
		)
	}
	p.Metrics.TasksExtracted(len(tasks), len(warnings))
	if len(tasks) == 0 || p.Tasks == nil || conv.ID == "" {
		return len(tasks), len(warnings), nil
	}

	err := p.Tasks.PublishTasks(ctx, events.TaskBatch{
		ConversationID:         conv.ID,
		ExternalConversationID: ev.ExternalConversationID,
		CallID:                 call.ID,
		UserID:                 userID,
		Tasks:                  tasks,
	})
	if err != nil {
		return len(tasks), len(warnings), fmt.Errorf("publish tasks: %w", err)
	}
	return len(tasks), len(warnings), nil
}
