package mqtt

import (
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/AaronLay10/NarrativeForge/internal/events"
)

const (
	qos         = 1
	waitTimeout = 10 * time.Second
)

// Broker is the subset of the client used by the frame publisher and
// the command subscriber.
type Broker interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string, handler paho.MessageHandler) error
}

// Client wraps the Paho MQTT client.
type Client struct {
	client paho.Client
	url    string
	logger *slog.Logger
	mu     sync.Mutex

	onConnect []func()
}

// NewClient creates a client for url but does not connect. Reconnects
// are automatic; functions registered with OnConnect run after each
// successful connect.
func NewClient(url, clientID string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &Client{url: url, logger: logger}
	opts := paho.NewClientOptions().
		AddBroker(url).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetOnConnectHandler(func(paho.Client) { c.connected() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			events.Emit("warn", "mqtt.disconnected", err.Error(), map[string]any{"url": url})
		})
	c.client = paho.NewClient(opts)
	return c
}

// OnConnect registers fn to run on every (re)connect.
func (c *Client) OnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = append(c.onConnect, fn)
	c.mu.Unlock()
}

func (c *Client) connected() {
	events.Emit("info", "mqtt.connected", "", map[string]any{"url": c.url})
	c.mu.Lock()
	hooks := append([]func(){}, c.onConnect...)
	c.mu.Unlock()
	for _, fn := range hooks {
		// paho calls the handler on its own goroutine; subscribing from
		// inside it would deadlock on the token.
		go fn()
	}
}

// Connect attempts to connect to the broker without blocking
// indefinitely.
func (c *Client) Connect() error {
	token := c.client.Connect()
	if !token.WaitTimeout(waitTimeout) {
		return &TimeoutError{Op: "connect", Topic: c.url}
	}
	return token.Error()
}

// Publish sends payload to topic at QoS 1.
func (c *Client) Publish(topic string, payload []byte) error {
	token := c.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(waitTimeout) {
		return &TimeoutError{Op: "publish", Topic: topic}
	}
	return token.Error()
}

// Subscribe subscribes to topic with handler.
func (c *Client) Subscribe(topic string, handler paho.MessageHandler) error {
	token := c.client.Subscribe(topic, qos, handler)
	if !token.WaitTimeout(waitTimeout) {
		return &TimeoutError{Op: "subscribe", Topic: topic}
	}
	return token.Error()
}

// Disconnect cleanly disconnects from the broker.
func (c *Client) Disconnect() {
	c.client.Disconnect(1000)
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// TimeoutError reports a broker operation that did not complete in time.
type TimeoutError struct {
	Op    string
	Topic string
}

func (e *TimeoutError) Error() string {
	return "mqtt " + e.Op + " timeout: " + e.Topic
}

// Start connects and logs instead of failing; the client keeps
// retrying in the background. Returns true if connected.
func (c *Client) Start() bool {
	if err := c.Connect(); err != nil {
		c.logger.Warn("mqtt connect failed", "url", c.url, "error", err)
		return false
	}
	c.logger.Info("mqtt connected", "url", c.url)
	return true
}
