package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ibsfleet/controller/internal/config"
	"github.com/ibsfleet/controller/internal/logging"
)

// Publisher is the narrow surface the dispatcher needs from an MQTT
// session, letting tests substitute a fake instead of a real broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error
}

// Client maintains the single long-lived MQTT session: one connection,
// auto-reconnect, and a best-effort last-known-status map populated from
// the iot/+/status subscription.
type Client struct {
	cfg    config.MQTTConfig
	logger *logging.Logger
	client mqtt.Client

	mu         sync.RWMutex
	lastStatus map[string][]byte
}

// NewClient builds a Client from cfg; call Connect to open the session.
func NewClient(cfg config.MQTTConfig, logger *logging.Logger) *Client {
	return &Client{cfg: cfg, logger: logger, lastStatus: map[string][]byte{}}
}

// Connect opens the MQTT session and subscribes to the status filter.
func (c *Client) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", c.cfg.BrokerHost, c.cfg.BrokerPort)).
		SetClientID(c.cfg.ClientID).
		SetKeepAlive(c.cfg.KeepAlive).
		SetConnectTimeout(c.cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(c.cfg.ReconnectMinDelay).
		SetMaxReconnectInterval(c.cfg.ReconnectMaxDelay).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			c.logger.WithError(err).Warn("mqtt connection lost, reconnecting")
		}).
		SetOnConnectHandler(c.onConnect)

	c.client = mqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		return fmt.Errorf("device: mqtt connect timed out after %s", c.cfg.ConnectTimeout)
	}
	return token.Error()
}

func (c *Client) onConnect(cl mqtt.Client) {
	c.logger.Info("mqtt session established")
	token := cl.Subscribe(c.cfg.StatusTopicFilter, c.cfg.QoS, c.onStatusMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		c.logger.WithError(err).Warn("failed to subscribe to status topic filter")
	}
}

func (c *Client) onStatusMessage(_ mqtt.Client, msg mqtt.Message) {
	deviceID, ok := StatusTopicDevice(msg.Topic())
	if !ok {
		return
	}
	payload := msg.Payload()
	c.mu.Lock()
	c.lastStatus[deviceID] = append([]byte(nil), payload...)
	c.mu.Unlock()
}

// LastStatus returns the most recent status payload observed for deviceID.
func (c *Client) LastStatus(deviceID string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.lastStatus[deviceID]
	return b, ok
}

// Publish implements Publisher, returning MQTTDisconnected-equivalent
// when there is no live session.
func (c *Client) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	if c.client == nil || !c.client.IsConnected() {
		return fmt.Errorf("device: mqtt not connected, dropping publish to %s", topic)
	}
	token := c.client.Publish(topic, qos, retained, payload)
	const publishTimeout = 5 * time.Second
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("device: publish to %s timed out", topic)
	}
	return token.Error()
}

// Disconnect closes the MQTT session, waiting up to the given grace period
// for in-flight messages to drain.
func (c *Client) Disconnect(grace time.Duration) {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(uint(grace.Milliseconds()))
	}
}
