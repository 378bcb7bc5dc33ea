package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"power-backend/internal/models"
)

// publishClient is the part of the paho client used for publishing
type publishClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Publisher mirrors device events onto per-device MQTT topics
type Publisher struct {
	client publishClient

	// Topic pattern
	eventTopic string // e.g., "power/{device_id}/events"
}

// PublisherConfig holds configuration for MQTT publisher
type PublisherConfig struct {
	EventTopic string // e.g., "power/{device_id}/events"
}

// NewPublisher creates a new MQTT event publisher
func NewPublisher(client publishClient, config PublisherConfig) *Publisher {
	return &Publisher{
		client:     client,
		eventTopic: config.EventTopic,
	}
}

// Name identifies the sink in logs and metrics
func (p *Publisher) Name() string { return "mqtt" }

// WriteEvent publishes one device event
func (p *Publisher) WriteEvent(ctx context.Context, ev *models.DeviceEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal device event: %w", err)
	}

	topic := formatTopic(p.eventTopic, ev.DeviceID)
	if err := waitToken(ctx, p.client.Publish(topic, 1, false, payload)); err != nil {
		return fmt.Errorf("failed to publish device event: %w", err)
	}
	return nil
}

// waitToken blocks until the broker acknowledges or ctx ends
func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// formatTopic replaces {device_id} placeholder with actual device ID
func formatTopic(topicPattern, deviceID string) string {
	return strings.ReplaceAll(topicPattern, "{device_id}", deviceID)
}
