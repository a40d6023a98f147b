package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"edgenode/internal/format"
)

// TelemetryTopic is where a node publishes its wire lines.
func TelemetryTopic(nodeID string) string {
	return fmt.Sprintf("nodes/%s/telemetry", nodeID)
}

const (
	mqttQoS          = 1
	publishTimeout   = 5 * time.Second
	connectPollEvery = 200 * time.Millisecond
)

var errStopped = errors.New("mqtt sender stopped")

// MQTT publishes over one long-lived broker session. The session is opened
// on the first Send and re-opened by paho after a drop.
type MQTT struct {
	client  mqtt.Client
	topic   string
	timeout time.Duration
	logger  *slog.Logger
	onLost  func(error)

	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewMQTT(e Endpoint, o Options) *MQTT {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	clientID := o.MQTTClientID
	if clientID == "" {
		clientID = "edgenode-" + o.NodeID
	}

	m := &MQTT{
		topic:   TelemetryTopic(o.NodeID),
		timeout: o.ConnectTimeout,
		logger:  slog.Default().With("component", "mqtt", "broker", e.Addr()),
		onLost:  o.OnConnectionLost,
		stopCh:  make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.Addr()))
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)

	// The first connect is bounded so a missing broker surfaces as a failed
	// cycle; later drops are healed by paho in the background.
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(o.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) { m.handleConnect() })
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) { m.handleConnectionLost(err) })

	m.client = mqtt.NewClient(opts)
	return m
}

func (m *MQTT) Topic() string { return m.topic }

// Connect waits for the broker session, bounded by the connect timeout,
// ctx and Close.
func (m *MQTT) Connect(ctx context.Context) error {
	select {
	case <-m.stopCh:
		return errStopped
	default:
	}

	if m.IsConnected() {
		return nil
	}

	token := m.client.Connect()
	deadline := time.NewTimer(m.timeout + connectPollEvery)
	defer deadline.Stop()
	for {
		if token.WaitTimeout(connectPollEvery) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			m.setConnected(true)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stopCh:
			return errStopped
		case <-deadline.C:
			return fmt.Errorf("mqtt connect: no answer within %s", m.timeout)
		default:
		}
	}
}

func (m *MQTT) Send(ctx context.Context, msg format.Message) error {
	if err := m.Connect(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	token := m.client.Publish(m.topic, mqttQoS, false, msg.Bytes())
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: publish timeout for topic %s", ErrSendFailed, m.topic)
	}
	if err := token.Error(); err != nil {
		m.logger.Error("publish failed", "topic", m.topic, "error", err)
		return fmt.Errorf("%w: publish: %w", ErrSendFailed, err)
	}

	m.logger.Debug("published", "topic", m.topic, "bytes", len(msg))
	return nil
}

func (m *MQTT) IsConnected() bool {
	m.mu.RLock()
	connected := m.connected
	m.mu.RUnlock()
	return connected && m.client.IsConnected()
}

// Close ends the session. It is safe to call more than once.
func (m *MQTT) Close() error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	if m.client != nil {
		m.client.Disconnect(250)
	}
	m.setConnected(false)
	m.logger.Info("mqtt disconnected")
	return nil
}

func (m *MQTT) handleConnect() {
	m.setConnected(true)
	m.logger.Info("mqtt connected", "topic", m.topic)
}

func (m *MQTT) handleConnectionLost(err error) {
	m.setConnected(false)
	m.logger.Warn("mqtt connection lost", "error", err)
	if m.onLost != nil {
		m.onLost(err)
	}
}

func (m *MQTT) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}
