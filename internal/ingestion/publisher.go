package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// OutboundPublisher publishes applied instructions to NATS for downstream
// consumers. Outbound notifications are published after persistence is
// confirmed. Subjects follow the pattern: pred.ledger.applied.{kind}
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan AppliedNotice
}

// AppliedNotice is an applied instruction ready for outbound publishing.
type AppliedNotice struct {
	Sequence       int64       `json:"sequence"`
	Kind           string      `json:"kind"`
	IdempotencyKey string      `json:"idempotency_key"`
	EventID        *uint64     `json:"event_id,omitempty"`
	Payload        interface{} `json:"payload"`
	StateHash      []byte      `json:"state_hash"`
	Timestamp      time.Time   `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan AppliedNotice) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
	}
}

// Run starts the outbound publisher loop.
// Publishes to pred.ledger.applied.{kind}.{event_id}
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case notice, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, notice); err != nil {
				log.Printf("WARN: outbound publish failed seq=%d: %v", notice.Sequence, err)
				// Non-fatal: downstream consumers can query the instruction log directly
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, notice AppliedNotice) error {
	data, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}

	// Build subject: pred.ledger.applied.{kind}.{event_id}
	subject := fmt.Sprintf("pred.ledger.applied.%s", notice.Kind)
	if notice.EventID != nil {
		subject = fmt.Sprintf("%s.%d", subject, *notice.EventID)
	}

	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound notifications stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "PRED_LEDGER_APPLIED",
		Subjects:  []string{"pred.ledger.applied.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Println("INFO: ensured outbound stream PRED_LEDGER_APPLIED")
	return nil
}
