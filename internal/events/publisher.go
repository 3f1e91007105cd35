package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/models"
)

// Subjects published by the sync engine
const (
	SubjectSessionStarted   = "inventory.sync.started"
	SubjectBatchCompleted   = "inventory.sync.batch_completed"
	SubjectSessionCompleted = "inventory.sync.completed"
	SubjectSessionFailed    = "inventory.sync.failed"
	SubjectSessionKilled    = "inventory.sync.killed"
)

// SessionEvent is published on every session state change
type SessionEvent struct {
	EventType    string               `json:"event_type"`
	SessionID    uuid.UUID            `json:"session_id"`
	Status       models.SessionStatus `json:"status"`
	BatchIndex   int                  `json:"batch_index"`
	TotalBatches int                  `json:"total_batches"`
	Succeeded    int                  `json:"succeeded"`
	Failed       int                  `json:"failed"`
	DryRun       bool                 `json:"dry_run,omitempty"`
	Error        string               `json:"error,omitempty"`
	Timestamp    time.Time            `json:"timestamp"`
}

type natsConn interface {
	Publish(subj string, data []byte) error
}

// Publisher sends session events to NATS. A nil *Publisher is a no-op.
type Publisher struct {
	conn   natsConn
	close  func()
	logger *logrus.Entry
}

// NewPublisher connects to NATS
func NewPublisher(natsURL string, logger *logrus.Logger) (*Publisher, error) {
	if natsURL == "" {
		return nil, fmt.Errorf("NATS_URL not set")
	}

	conn, err := nats.Connect(natsURL,
		nats.Name("inventory-sync-publisher"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Publisher{
		conn:   conn,
		close:  conn.Close,
		logger: logger.WithField("component", "events.publisher"),
	}, nil
}

func newPublisherWithConn(conn natsConn) *Publisher {
	return &Publisher{
		conn:   conn,
		close:  func() {},
		logger: logrus.WithField("component", "events.publisher"),
	}
}

// PublishSessionEvent publishes event on subject. Failures are logged and
// returned; callers treat them as non-fatal.
func (p *Publisher) PublishSessionEvent(ctx context.Context, subject string, event SessionEvent) error {
	if p == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.EventType == "" {
		event.EventType = subject
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.WithError(err).WithField("subject", subject).Warn("Failed to publish event")
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	return nil
}

// Close closes the NATS connection
func (p *Publisher) Close() {
	if p == nil || p.close == nil {
		return
	}
	p.close()
}
