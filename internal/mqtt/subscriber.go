package mqtt

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	apperrors "power-backend/internal/errors"
	"power-backend/internal/models"
)

// brokerClient is the part of the paho client used by Subscriber
type brokerClient interface {
	publishClient
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
}

// HeartbeatHandler authenticates a poll and drains the device's mailbox
type HeartbeatHandler interface {
	Heartbeat(id, token string, reported models.PowerState) (models.Commands, error)
}

// HeartbeatPayload is the JSON body a device publishes on its heartbeat topic
type HeartbeatPayload struct {
	Token      string `json:"token"`
	PowerState string `json:"powerState,omitempty"`
}

// Subscriber accepts heartbeats over MQTT and answers with pending commands
type Subscriber struct {
	client  brokerClient
	handler HeartbeatHandler

	// Topic patterns
	heartbeatTopic string // e.g., "power/+/heartbeat"
	commandTopic   string // e.g., "power/{device_id}/commands"

	closed atomic.Bool
}

// SubscriberConfig holds configuration for MQTT subscriber
type SubscriberConfig struct {
	HeartbeatTopic string
	CommandTopic   string
}

// NewSubscriber creates a new MQTT heartbeat subscriber
func NewSubscriber(client brokerClient, config SubscriberConfig, handler HeartbeatHandler) *Subscriber {
	return &Subscriber{
		client:         client,
		handler:        handler,
		heartbeatTopic: config.HeartbeatTopic,
		commandTopic:   config.CommandTopic,
	}
}

// SubscribeAll subscribes to the heartbeat topic. It is safe to call again
// after a reconnect and does nothing once the subscriber is closed.
func (s *Subscriber) SubscribeAll() error {
	if s.heartbeatTopic == "" || s.closed.Load() {
		return nil
	}

	token := s.client.Subscribe(s.heartbeatTopic, 1, s.handleHeartbeat)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to heartbeat topic: %w", token.Error())
	}
	log.Printf("Subscribed to heartbeat topic: %s", s.heartbeatTopic)
	return nil
}

// Close unsubscribes so no more heartbeats reach the registry
func (s *Subscriber) Close() {
	if s.closed.Swap(true) || s.heartbeatTopic == "" {
		return
	}
	token := s.client.Unsubscribe(s.heartbeatTopic)
	if token.Wait() && token.Error() != nil {
		log.Printf("MQTT Subscriber: Failed to unsubscribe: %v", token.Error())
		return
	}
	log.Println("MQTT Subscriber: Unsubscribed")
}

// handleHeartbeat processes a device heartbeat and publishes the reply
func (s *Subscriber) handleHeartbeat(_ mqtt.Client, msg mqtt.Message) {
	replyTopic, reply, err := s.processHeartbeat(msg.Topic(), msg.Payload())
	if err != nil {
		log.Printf("Rejected MQTT heartbeat on %s: %v", msg.Topic(), err)
		if reply == nil || apperrors.IsCode(err, apperrors.CodeUnauthorized) {
			return
		}
	}

	token := s.client.Publish(replyTopic, 1, false, reply)
	if token.Wait() && token.Error() != nil {
		log.Printf("Error publishing commands to %s: %v", replyTopic, token.Error())
	}
}

// processHeartbeat returns the reply topic and payload for a heartbeat
// message. Failures carry an error body; handleHeartbeat never sends one to a
// caller that failed authentication.
func (s *Subscriber) processHeartbeat(topic string, payload []byte) (string, []byte, error) {
	deviceID := extractDeviceID(s.heartbeatTopic, topic)
	if deviceID == "" {
		return "", nil, apperrors.InvalidInput("could not extract device id from topic %q", topic)
	}
	replyTopic := formatTopic(s.commandTopic, deviceID)

	var hb HeartbeatPayload
	if err := json.Unmarshal(payload, &hb); err != nil {
		err = apperrors.InvalidInput("malformed heartbeat payload: %v", err)
		return replyTopic, errorBody(err), err
	}

	cmds, err := s.handler.Heartbeat(deviceID, hb.Token, models.PowerState(hb.PowerState))
	if err != nil {
		return replyTopic, errorBody(err), err
	}

	body, err := json.Marshal(cmds)
	if err != nil {
		return replyTopic, nil, fmt.Errorf("failed to marshal commands: %w", err)
	}
	return replyTopic, body, nil
}

func errorBody(err error) []byte {
	code, message := apperrors.ToCodeAndMessage(err)
	body, _ := json.Marshal(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
	return body
}

// extractDeviceID returns the topic segment matched by the pattern's "+"
// Example: ("site/+/heartbeat", "site/esp-1/heartbeat") -> "esp-1"
func extractDeviceID(pattern, topic string) string {
	patternParts := strings.Split(pattern, "/")
	parts := strings.Split(topic, "/")
	if len(parts) != len(patternParts) {
		return ""
	}
	id := ""
	for i, segment := range patternParts {
		switch segment {
		case "+":
			id = parts[i]
		case parts[i]:
		default:
			return ""
		}
	}
	return id
}
