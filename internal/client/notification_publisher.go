// Package client holds outbound collaborators: the NATS notification
// publisher and its no-op stand-in for environments without a bus.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/openprocure/be-marketplace/internal/logger"
)

// NotificationPublisher publishes workflow events to NATS for consumption by
// the notifications service.
//
// Subject convention: notifications.marketplace.<event_type>
//
// All publish operations are non-fatal. Errors are logged but never propagated
// to the caller, so notification failures never interrupt a committed status
// transition.
type NotificationPublisher struct {
	conn *nats.Conn
	log  *logger.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType  string         `json:"event_type"`
	ResourceID string         `json:"resource_id"`
	ActorID    string         `json:"actor_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher connects to NATS and returns a publisher. An empty
// URL returns a disabled publisher that drops every event.
func NewNotificationPublisher(url string, log *logger.Logger) (*NotificationPublisher, error) {
	if url == "" {
		log.Warn().Msg("NATS URL not configured, notifications disabled")
		return &NotificationPublisher{log: log}, nil
	}

	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NotificationPublisher{conn: conn, log: log}, nil
}

// Close drains the connection.
func (p *NotificationPublisher) Close() {
	if p.conn != nil {
		_ = p.conn.Drain()
	}
}

// Publish sends one workflow event. Subject: notifications.marketplace.<eventType>
func (p *NotificationPublisher) Publish(ctx context.Context, eventType string, resourceID, actorID uuid.UUID, payload map[string]any) {
	if p.conn == nil {
		return
	}

	event := &NotificationEvent{
		EventType:  eventType,
		ResourceID: resourceID.String(),
		ActorID:    actorID.String(),
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.marketplace.%s", eventType)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("resource_id", event.ResourceID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("resource_id", event.ResourceID).
		Msg("notification: event published")
}
