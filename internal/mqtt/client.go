package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	defaultConnectTimeout = 10 * time.Second
	disconnectQuiesceMs   = 250
)

// Client owns the broker connection shared by Subscriber and Publisher
type Client struct {
	native mqtt.Client
	broker string

	mu          sync.Mutex
	onReconnect []func()
}

// ClientConfig holds MQTT client configuration
type ClientConfig struct {
	Broker         string
	ClientID       string // random "power-backend-xxxxxxxx" when empty
	Username       string
	Password       string
	ConnectTimeout time.Duration
}

// NewClient connects to the broker and blocks until the first connection
// succeeds or the connect timeout expires
func NewClient(config ClientConfig) (*Client, error) {
	if config.ClientID == "" {
		config.ClientID = "power-backend-" + uuid.NewString()[:8]
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = defaultConnectTimeout
	}

	c := &Client{broker: config.Broker}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)
	opts.SetUsername(config.Username)
	opts.SetPassword(config.Password)
	opts.SetDefaultPublishHandler(unroutedHandler)
	opts.SetOnConnectHandler(c.handleConnect)
	opts.SetConnectionLostHandler(connectLostHandler)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(false)
	opts.SetConnectTimeout(config.ConnectTimeout)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	c.native = mqtt.NewClient(opts)

	token := c.native.Connect()
	if !token.WaitTimeout(config.ConnectTimeout) {
		return nil, fmt.Errorf("timed out connecting to MQTT broker %s", config.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	log.Printf("MQTT Client: Connected to broker %s as %s", config.Broker, config.ClientID)
	return c, nil
}

// Native returns the paho client for Subscriber and Publisher
func (c *Client) Native() mqtt.Client {
	return c.native
}

// OnReconnect registers fn to run after every reconnect. Subscriptions
// survive on brokers that keep the session, but not on all of them.
func (c *Client) OnReconnect(fn func()) {
	c.mu.Lock()
	c.onReconnect = append(c.onReconnect, fn)
	c.mu.Unlock()
}

// Connected reports whether the broker connection is currently up
func (c *Client) Connected() bool {
	return c.native.IsConnectionOpen()
}

// Close disconnects after letting in-flight work finish
func (c *Client) Close() {
	c.native.Disconnect(disconnectQuiesceMs)
	log.Println("MQTT Client: Disconnected")
}

// handleConnect runs on the first connect too, when no callbacks exist yet
func (c *Client) handleConnect(mqtt.Client) {
	c.mu.Lock()
	callbacks := append([]func(){}, c.onReconnect...)
	c.mu.Unlock()

	log.Printf("MQTT: Connection to %s established", c.broker)
	for _, fn := range callbacks {
		go fn()
	}
}

var unroutedHandler mqtt.MessageHandler = func(_ mqtt.Client, msg mqtt.Message) {
	log.Printf("MQTT: Dropping message on unsubscribed topic %s", msg.Topic())
}

var connectLostHandler mqtt.ConnectionLostHandler = func(_ mqtt.Client, err error) {
	log.Printf("MQTT: Connection lost, reconnecting: %v", err)
}
