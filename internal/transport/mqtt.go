package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// MQTTConfig configures the MQTT transport for broker-fronted deployments
// where the telemetry server is reached through an MQTT broker instead of a
// direct websocket.
type MQTTConfig struct {
	Broker   string // e.g. tcp://localhost:1883
	ClientID string
	Username string
	Password string

	// TopicPrefix is prepended to every message type, so the envelope for
	// "realtime-update" travels on "<prefix>/realtime-update".
	TopicPrefix string

	Retry RetryPolicy
}

// MQTTTransport implements EventTransport on top of paho.mqtt.golang. Each
// wire message type maps to one topic under the configured prefix; the JSON
// envelope is the MQTT payload.
type MQTTTransport struct {
	cfg    MQTTConfig
	client mqtt.Client

	mu        sync.Mutex
	connected bool
	closed    bool

	msgCh chan Message
	errCh chan error
}

// NewMQTTTransport creates an MQTT transport. Connect must be called before Send.
func NewMQTTTransport(cfg MQTTConfig) *MQTTTransport {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "telemetry"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "telemetry-" + uuid.New().String()[:8]
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}

	t := &MQTTTransport{
		cfg:   cfg,
		msgCh: make(chan Message, messageBuffer),
		errCh: make(chan error, 8),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(false) // reconnects are driven by the connection manager
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		fmt.Printf("[Transport] MQTT connection lost: %v\n", err)
		t.mu.Lock()
		t.connected = false
		t.mu.Unlock()
		select {
		case t.errCh <- err:
		default:
		}
	})

	t.client = mqtt.NewClient(opts)
	return t
}

// Connect connects to the broker and subscribes to the server event topics,
// retrying up to the configured attempt budget.
func (t *MQTTTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("transport closed")
	}
	t.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= t.cfg.Retry.MaxAttempts; attempt++ {
		token := t.client.Connect()
		if token.Wait() && token.Error() == nil {
			if err := t.subscribeEvents(); err != nil {
				t.client.Disconnect(250)
				return err
			}
			t.mu.Lock()
			t.connected = true
			t.mu.Unlock()
			return nil
		}

		lastErr = token.Error()
		fmt.Printf("[Transport] MQTT connect attempt %d/%d failed: %v\n", attempt, t.cfg.Retry.MaxAttempts, lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.cfg.Retry.Interval):
		}
	}
	return fmt.Errorf("connect failed after %d attempts: %w", t.cfg.Retry.MaxAttempts, lastErr)
}

func (t *MQTTTransport) subscribeEvents() error {
	filter := t.cfg.TopicPrefix + "/#"
	token := t.client.Subscribe(filter, 1, t.handleInbound)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", filter, token.Error())
	}
	return nil
}

func (t *MQTTTransport) handleInbound(_ mqtt.Client, m mqtt.Message) {
	var msg Message
	if err := json.Unmarshal(m.Payload(), &msg); err != nil {
		fmt.Printf("[Transport] Dropping malformed MQTT payload on %s: %v\n", m.Topic(), err)
		return
	}
	if msg.Type == "" {
		// Some brokers republish bare payloads; recover the type from the topic.
		if idx := strings.LastIndex(m.Topic(), "/"); idx >= 0 {
			msg.Type = m.Topic()[idx+1:]
		}
	}

	select {
	case t.msgCh <- msg:
	default:
		fmt.Printf("[Transport] Inbound buffer full, dropping %s event\n", msg.Type)
	}
}

// Send publishes one envelope on the topic derived from its type.
func (t *MQTTTransport) Send(msg Message) error {
	t.mu.Lock()
	connected := t.connected
	t.mu.Unlock()
	if !connected {
		return fmt.Errorf("not connected")
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	topic := t.cfg.TopicPrefix + "/" + msg.Type
	token := t.client.Publish(topic, 1, false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, token.Error())
	}
	return nil
}

// Messages returns the inbound event channel.
func (t *MQTTTransport) Messages() <-chan Message {
	return t.msgCh
}

// Errors reports broker disconnections.
func (t *MQTTTransport) Errors() <-chan error {
	return t.errCh
}

// Close disconnects from the broker permanently.
func (t *MQTTTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.connected = false
	t.mu.Unlock()
	t.client.Disconnect(250)
	return nil
}
