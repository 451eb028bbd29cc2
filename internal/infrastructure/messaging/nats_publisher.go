package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/garyjia/budget-approval/internal/domain/event"
)

// Conn is the part of *nats.Conn the publisher needs
type Conn interface {
	PublishMsg(msg *nats.Msg) error
}

// message is the wire form of a workflow event
type message struct {
	ID            string                 `json:"id"`
	Type          string                 `json:"type"`
	RequestID     string                 `json:"request_id"`
	CorrelationID string                 `json:"correlation_id"`
	Timestamp     time.Time              `json:"timestamp"`
	Payload       map[string]interface{} `json:"payload"`
}

// Publisher forwards workflow events to NATS subjects <prefix>.<event type>
type Publisher struct {
	conn          Conn
	subjectPrefix string
	logger        *zap.Logger
}

// NewPublisher creates a publisher on an established connection
func NewPublisher(conn Conn, subjectPrefix string, logger *zap.Logger) *Publisher {
	return &Publisher{
		conn:          conn,
		subjectPrefix: strings.TrimSuffix(subjectPrefix, "."),
		logger:        logger,
	}
}

// Subject returns the subject an event type is published on
func (p *Publisher) Subject(t event.Type) string {
	if p.subjectPrefix == "" {
		return t.String()
	}
	return p.subjectPrefix + "." + t.String()
}

// Handle is a dispatcher.Handler publishing the event as JSON
func (p *Publisher) Handle(ctx context.Context, evt *event.Event) error {
	if evt == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(message{
		ID:            evt.ID,
		Type:          evt.Type.String(),
		RequestID:     evt.RequestID,
		CorrelationID: evt.CorrelationID,
		Timestamp:     evt.Timestamp,
		Payload:       evt.Payload,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", evt.ID, err)
	}

	msg := nats.NewMsg(p.Subject(evt.Type))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, evt.ID)
	msg.Header.Set("Content-Type", "application/json")

	if err := p.conn.PublishMsg(msg); err != nil {
		p.logger.Error("Failed to publish event",
			zap.String("subject", msg.Subject),
			zap.String("event_id", evt.ID),
			zap.Error(err))
		return fmt.Errorf("failed to publish event %s: %w", evt.ID, err)
	}

	p.logger.Debug("Event published",
		zap.String("subject", msg.Subject),
		zap.String("event_id", evt.ID))
	return nil
}

// Connect dials NATS with reconnect logging
func Connect(url, name string, logger *zap.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	logger.Info("Connected to NATS", zap.String("url", url))
	return conn, nil
}
