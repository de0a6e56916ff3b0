package mqtt

import (
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sortline/sortline-core/internal/infrastructure/config"
	"github.com/sortline/sortline-core/internal/infrastructure/logging"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// Client wraps the paho MQTT client with reconnect handling and
// subscription restoration.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	logger *logging.Logger

	mu            sync.RWMutex
	subscriptions map[string]pahomqtt.MessageHandler
}

// Connect establishes the broker connection. It blocks until the first
// connection succeeds or times out; after that, reconnects happen in
// the background.
func Connect(cfg config.MQTTConfig, logger *logging.Logger) (*Client, error) {
	c := &Client{
		cfg:           cfg,
		logger:        logger.With("component", "mqtt"),
		subscriptions: make(map[string]pahomqtt.MessageHandler),
	}

	opts := c.buildOptions()
	c.client = pahomqtt.NewClient(opts)

	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: broker %s:%d did not answer", ErrNotConnected, cfg.Broker.Host, cfg.Broker.Port)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to broker: %w", err)
	}

	return c, nil
}

func (c *Client) buildOptions() *pahomqtt.ClientOptions {
	scheme := "tcp"
	if c.cfg.Broker.TLS {
		scheme = "ssl"
	}
	broker := fmt.Sprintf("%s://%s:%d", scheme, c.cfg.Broker.Host, c.cfg.Broker.Port)

	opts := pahomqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(c.cfg.Broker.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(c.cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(c.cfg.Reconnect.MaxDelay) * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(c.handleConnect).
		SetConnectionLostHandler(c.handleDisconnect).
		SetWill(StatusTopic, "offline", byte(c.cfg.QoS), true)

	if c.cfg.Auth.Username != "" {
		opts.SetUsername(c.cfg.Auth.Username)
		opts.SetPassword(c.cfg.Auth.Password)
	}

	return opts
}

// handleConnect runs on every successful connection, including
// reconnects. It announces the service and restores subscriptions.
func (c *Client) handleConnect(client pahomqtt.Client) {
	c.logger.Info("connected to broker",
		"host", c.cfg.Broker.Host, "port", c.cfg.Broker.Port)

	token := client.Publish(StatusTopic, byte(c.cfg.QoS), true, "online")
	if token.WaitTimeout(publishTimeout) && token.Error() != nil {
		c.logger.Warn("status announce failed", "error", token.Error())
	}

	c.restoreSubscriptions(client)
}

func (c *Client) handleDisconnect(_ pahomqtt.Client, err error) {
	c.logger.Warn("broker connection lost", "error", err)
}

// restoreSubscriptions re-establishes every registered subscription
// after a reconnect.
func (c *Client) restoreSubscriptions(client pahomqtt.Client) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for topic, handler := range c.subscriptions {
		token := client.Subscribe(topic, byte(c.cfg.QoS), handler)
		if token.WaitTimeout(publishTimeout) && token.Error() != nil {
			c.logger.Error("restoring subscription failed",
				"topic", topic, "error", token.Error())
		}
	}
}

// Subscribe registers a handler for a topic filter. The subscription
// survives reconnects.
func (c *Client) Subscribe(topic string, handler pahomqtt.MessageHandler) error {
	c.mu.Lock()
	c.subscriptions[topic] = handler
	c.mu.Unlock()

	token := c.client.Subscribe(topic, byte(c.cfg.QoS), handler)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: %s", ErrSubscribeFailed, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSubscribeFailed, topic, err)
	}

	c.logger.Info("subscribed", "topic", topic)
	return nil
}

// IsConnected reports whether the broker connection is currently up.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnectionOpen()
}

// Close announces the service offline and disconnects cleanly.
func (c *Client) Close() {
	if c.client == nil {
		return
	}

	token := c.client.Publish(StatusTopic, byte(c.cfg.QoS), true, "offline")
	token.WaitTimeout(publishTimeout)

	c.client.Disconnect(250)
	c.logger.Info("disconnected from broker")
}
