package clients

import (
	"encoding/json"
	"fmt"
	"time"

	"hotspot-captive-svc/src/internal/config"
	"hotspot-captive-svc/src/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// EventPublisher publishes session lifecycle events to RabbitMQ.
type EventPublisher struct {
	channel *amqp.Channel
	cfg     *config.RabbitMQConfig
}

// NewEventPublisher creates a publisher on an already open channel.
func NewEventPublisher(channel *amqp.Channel, cfg *config.Configuration) *EventPublisher {
	return &EventPublisher{
		channel: channel,
		cfg:     &cfg.Queue.RabbitMQ,
	}
}

// PublishSessionEvent publishes one lifecycle event message.
func (p *EventPublisher) PublishSessionEvent(session *models.Session, action, reason string) error {
	message := models.SessionEventMessage{
		EventID:   uuid.NewString(),
		SessionID: session.SessionID,
		MAC:       session.MAC,
		Wallet:    session.Wallet,
		HotspotID: session.HotspotID,
		Action:    action,
		Reason:    reason,
		QuotaMB:   session.QuotaMB,
		Timestamp: time.Now(),
	}

	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal session event: %w", err)
	}

	err = p.channel.Publish(
		p.cfg.Exchange,
		p.cfg.RoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
			Timestamp:   time.Now(),
		},
	)

	if err != nil {
		logrus.WithError(err).Error("Failed to publish session event")
		return fmt.Errorf("failed to publish session event: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"event_id":    message.EventID,
		"session_id":  session.SessionID,
		"mac":         session.MAC,
		"action":      action,
		"exchange":    p.cfg.Exchange,
		"routing_key": p.cfg.RoutingKey,
	}).Debug("Session event published")

	return nil
}
