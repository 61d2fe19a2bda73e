package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"alara-platform/internal/transcript"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	DefaultStream      = "ALARA_TASKS"
	DefaultTaskSubject = "alara.tasks.extracted"

	// DuplicateWindow bounds how long JetStream remembers message ids.
	// Provider webhook redeliveries arrive well within it.
	DuplicateWindow = 24 * time.Hour
)

// TaskBatch is every task extracted from one conversation snapshot.
type TaskBatch struct {
	ConversationID         string
	ExternalConversationID string
	CallID                 string
	UserID                 string
	Tasks                  []transcript.ParsedTask
}

// DedupeID is stable across redeliveries of the same snapshot: it keys on the
// conversation and the tool request id, falling back to the task position.
func (b TaskBatch) DedupeID(i int) string {
	key := b.Tasks[i].RequestID
	if key == "" {
		key = "idx-" + strconv.Itoa(i)
	}
	return "task:" + b.ConversationID + ":" + key
}

// TaskMessage is the JSON body published for each task.
type TaskMessage struct {
	ConversationID         string    `json:"conversation_id"`
	ExternalConversationID string    `json:"external_conversation_id,omitempty"`
	CallID                 string    `json:"call_id,omitempty"`
	UserID                 string    `json:"user_id,omitempty"`
	Title                  string    `json:"title"`
	Due                    string    `json:"due"`
	Timezone               string    `json:"timezone"`
	RequestID              string    `json:"request_id,omitempty"`
	ExtractedAt            time.Time `json:"extracted_at"`
}

type publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// TaskPublisher hands extracted tasks to downstream consumers over JetStream.
type TaskPublisher struct {
	js      publisher
	subject string
	clock   func() time.Time
}

func NewTaskPublisher(js publisher, subject string) *TaskPublisher {
	if subject == "" {
		subject = DefaultTaskSubject
	}
	return &TaskPublisher{js: js, subject: subject, clock: time.Now}
}

// PublishTasks publishes one message per task. Every task is attempted;
// failures are joined. Duplicates acknowledged by the server are not errors.
func (p *TaskPublisher) PublishTasks(ctx context.Context, batch TaskBatch) error {
	if batch.ConversationID == "" {
		return errors.New("events: conversation id is required")
	}
	now := p.clock().UTC()
	var errs []error
	for i, t := range batch.Tasks {
		body, err := json.Marshal(TaskMessage{
			ConversationID:         batch.ConversationID,
			ExternalConversationID: batch.ExternalConversationID,
			CallID:                 batch.CallID,
			UserID:                 batch.UserID,
			Title:                  t.Title,
			Due:                    t.Due,
			Timezone:               t.Timezone,
			RequestID:              t.RequestID,
			ExtractedAt:            now,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("encode task %d: %w", i, err))
			continue
		}
		if _, err := p.js.Publish(ctx, p.subject, body, jetstream.WithMsgID(batch.DedupeID(i))); err != nil {
			errs = append(errs, fmt.Errorf("publish task %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

type streamManager interface {
	CreateOrUpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
}

// EnsureStream creates or updates the task stream at startup.
func EnsureStream(ctx context.Context, js streamManager, name, subject string) error {
	if name == "" {
		name = DefaultStream
	}
	if subject == "" {
		subject = DefaultTaskSubject
	}
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       name,
		Subjects:   []string{subject},
		Storage:    jetstream.FileStorage,
		Duplicates: DuplicateWindow,
	})
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", name, err)
	}
	return nil
}

// Connect dials NATS and returns a JetStream handle. Close the conn on shutdown.
func Connect(url string) (*nats.Conn, jetstream.JetStream, error) {
	if url == "" {
		return nil, nil, errors.New("events: NATS url is required")
	}
	nc, err := nats.Connect(url, nats.Name("alara-api"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
