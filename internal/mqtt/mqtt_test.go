package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"power-backend/internal/clock"
	"power-backend/internal/models"
	"power-backend/internal/registry"
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func completedToken(err error) *fakeToken {
	done := make(chan struct{})
	close(done)
	return &fakeToken{err: err, done: done}
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return t.Wait() }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	payload []byte
}

type fakeBroker struct {
	mu         sync.Mutex
	published  []published
	handlers   map[string]mqtt.MessageHandler
	publishErr error
	pending    bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: map[string]mqtt.MessageHandler{}}
}

func (b *fakeBroker) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending {
		return &fakeToken{done: make(chan struct{})}
	}
	b.published = append(b.published, published{topic: topic, payload: payload.([]byte)})
	return completedToken(b.publishErr)
}

func (b *fakeBroker) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = callback
	return completedToken(nil)
}

func (b *fakeBroker) Unsubscribe(topics ...string) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, topic := range topics {
		delete(b.handlers, topic)
	}
	return completedToken(nil)
}

// deliver routes a message to the handler registered under pattern
func (b *fakeBroker) deliver(pattern, topic string, payload []byte) {
	b.mu.Lock()
	handler := b.handlers[pattern]
	b.mu.Unlock()
	handler(nil, &fakeMessage{topic: topic, payload: payload})
}

func (b *fakeBroker) last() published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published[len(b.published)-1]
}

func (b *fakeBroker) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

const (
	heartbeatPattern = "power/+/heartbeat"
	commandPattern   = "power/{device_id}/commands"
)

func newSubscriberFixture(t *testing.T) (*fakeBroker, *registry.Registry, string) {
	t.Helper()
	reg := registry.New(registry.WithClock(clock.Fake(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))))
	dev, err := reg.Register("esp-1", "", models.DeviceTypeDesktop)
	require.NoError(t, err)

	broker := newFakeBroker()
	sub := NewSubscriber(broker, SubscriberConfig{HeartbeatTopic: heartbeatPattern, CommandTopic: commandPattern}, reg)
	require.NoError(t, sub.SubscribeAll())
	return broker, reg, dev.Token
}

func heartbeatJSON(t *testing.T, token, powerState string) []byte {
	t.Helper()
	body, err := json.Marshal(HeartbeatPayload{Token: token, PowerState: powerState})
	require.NoError(t, err)
	return body
}

func TestSubscriber_NestedHeartbeatTopic(t *testing.T) {
	reg := registry.New(registry.WithClock(clock.Fake(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))))
	dev, err := reg.Register("esp-1", "", models.DeviceTypeDesktop)
	require.NoError(t, err)

	const pattern = "site/power/+/heartbeat"
	broker := newFakeBroker()
	sub := NewSubscriber(broker, SubscriberConfig{HeartbeatTopic: pattern, CommandTopic: "site/power/{device_id}/commands"}, reg)
	require.NoError(t, sub.SubscribeAll())

	broker.deliver(pattern, "site/power/esp-1/heartbeat", heartbeatJSON(t, dev.Token, ""))
	require.Equal(t, 1, broker.count())
	assert.Equal(t, "site/power/esp-1/commands", broker.last().topic)
	assert.JSONEq(t, `{"shutdown":false,"wakeup":false}`, string(broker.last().payload))
}

func TestSubscriber_HeartbeatDeliversCommands(t *testing.T) {
	broker, reg, token := newSubscriberFixture(t)

	broker.deliver(heartbeatPattern, "power/esp-1/heartbeat", heartbeatJSON(t, token, "on"))
	require.Equal(t, 1, broker.count())
	assert.Equal(t, "power/esp-1/commands", broker.last().topic)
	assert.JSONEq(t, `{"shutdown":false,"wakeup":false}`, string(broker.last().payload))

	require.NoError(t, reg.RequestCommand("esp-1", models.TaskKindShutdown))
	broker.deliver(heartbeatPattern, "power/esp-1/heartbeat", heartbeatJSON(t, token, ""))
	assert.JSONEq(t, `{"shutdown":true,"wakeup":false}`, string(broker.last().payload))

	dev, err := reg.Get("esp-1")
	require.NoError(t, err)
	assert.True(t, dev.Online)
	assert.Equal(t, models.PowerStateOn, dev.PowerState)
}

func TestSubscriber_BadTokenGetsNoReply(t *testing.T) {
	broker, reg, _ := newSubscriberFixture(t)
	require.NoError(t, reg.Raise("esp-1", models.TaskKindWakeup, models.SourceAdmin))

	broker.deliver(heartbeatPattern, "power/esp-1/heartbeat", heartbeatJSON(t, "forged", ""))
	assert.Equal(t, 0, broker.count())

	dev, err := reg.Get("esp-1")
	require.NoError(t, err)
	assert.True(t, dev.Wakeup, "mailbox untouched by a rejected poll")
}

func TestSubscriber_MalformedPayloadGetsError(t *testing.T) {
	broker, _, _ := newSubscriberFixture(t)

	broker.deliver(heartbeatPattern, "power/esp-1/heartbeat", []byte("not json"))
	require.Equal(t, 1, broker.count())
	assert.Contains(t, string(broker.last().payload), "request.invalid_input")
}

func TestSubscriber_UnknownDeviceGetsNotFound(t *testing.T) {
	broker, _, token := newSubscriberFixture(t)

	broker.deliver(heartbeatPattern, "power/ghost/heartbeat", heartbeatJSON(t, token, ""))
	require.Equal(t, 1, broker.count())
	assert.Equal(t, "power/ghost/commands", broker.last().topic)
	assert.Contains(t, string(broker.last().payload), "resource.not_found")
}

func TestSubscriber_CloseUnsubscribes(t *testing.T) {
	broker := newFakeBroker()
	sub := NewSubscriber(broker, SubscriberConfig{HeartbeatTopic: heartbeatPattern, CommandTopic: commandPattern}, nil)
	require.NoError(t, sub.SubscribeAll())
	require.Contains(t, broker.handlers, heartbeatPattern)

	sub.Close()
	assert.NotContains(t, broker.handlers, heartbeatPattern)

	require.NoError(t, sub.SubscribeAll(), "reconnect after close")
	assert.NotContains(t, broker.handlers, heartbeatPattern)
}

func TestPublisher_WriteEvent(t *testing.T) {
	broker := newFakeBroker()
	pub := NewPublisher(broker, PublisherConfig{EventTopic: "power/{device_id}/events"})
	assert.Equal(t, "mqtt", pub.Name())

	ev := &models.DeviceEvent{
		Type:      models.EventCommandRaised,
		DeviceID:  "esp-1",
		Kind:      models.TaskKindShutdown,
		Source:    models.SourceScheduler,
		Timestamp: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, pub.WriteEvent(context.Background(), ev))

	require.Equal(t, 1, broker.count())
	assert.Equal(t, "power/esp-1/events", broker.last().topic)

	var decoded models.DeviceEvent
	require.NoError(t, json.Unmarshal(broker.last().payload, &decoded))
	assert.Equal(t, *ev, decoded)
}

func TestPublisher_Errors(t *testing.T) {
	broker := newFakeBroker()
	broker.publishErr = errors.New("not connected")
	pub := NewPublisher(broker, PublisherConfig{EventTopic: "power/{device_id}/events"})

	err := pub.WriteEvent(context.Background(), &models.DeviceEvent{DeviceID: "esp-1"})
	assert.ErrorContains(t, err, "not connected")

	broker.publishErr = nil
	broker.pending = true
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = pub.WriteEvent(ctx, &models.DeviceEvent{DeviceID: "esp-1"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTopicHelpers(t *testing.T) {
	assert.Equal(t, "power/esp-1/commands", formatTopic("power/{device_id}/commands", "esp-1"))
	assert.Equal(t, "esp-1", extractDeviceID(heartbeatPattern, "power/esp-1/heartbeat"))
	assert.Equal(t, "esp-1", extractDeviceID("site/power/+/heartbeat", "site/power/esp-1/heartbeat"))
	assert.Equal(t, "", extractDeviceID(heartbeatPattern, "heartbeat"))
	assert.Equal(t, "", extractDeviceID(heartbeatPattern, "other/esp-1/heartbeat"))
	assert.Equal(t, "", extractDeviceID("site/power/+/heartbeat", "site/esp-1/heartbeat"))
}
