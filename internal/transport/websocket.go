package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultDialTimeout  = 10 * time.Second
	defaultPingInterval = 30 * time.Second
	messageBuffer       = 256
)

// WSConfig configures the websocket transport.
type WSConfig struct {
	// URL of the telemetry server websocket endpoint, e.g. ws://host:9000/telemetry
	URL string

	// Retry bounds connection attempts; zero values use DefaultRetryPolicy.
	Retry RetryPolicy

	DialTimeout  time.Duration
	PingInterval time.Duration
}

// WSTransport implements EventTransport over a gorilla/websocket connection.
type WSTransport struct {
	cfg WSConfig

	mu     sync.Mutex
	conn   *websocket.Conn
	stopCh chan struct{} // closed to stop the read/ping loops of the current conn

	msgCh  chan Message
	errCh  chan error
	closed bool
}

// NewWSTransport creates a websocket transport. Connect must be called before Send.
func NewWSTransport(cfg WSConfig) *WSTransport {
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	return &WSTransport{
		cfg:   cfg,
		msgCh: make(chan Message, messageBuffer),
		errCh: make(chan error, 8),
	}
}

// Connect dials the server, retrying up to the configured attempt budget with
// a fixed backoff. It is safe to call again after a drop; an existing live
// connection is torn down first.
func (t *WSTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("transport closed")
	}
	if t.conn != nil {
		t.teardownLocked()
	}
	t.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= t.cfg.Retry.MaxAttempts; attempt++ {
		dialer := websocket.Dialer{HandshakeTimeout: t.cfg.DialTimeout}
		conn, _, err := dialer.DialContext(ctx, t.cfg.URL, nil)
		if err == nil {
			t.mu.Lock()
			t.conn = conn
			t.stopCh = make(chan struct{})
			stop := t.stopCh
			t.mu.Unlock()

			go t.readLoop(conn, stop)
			go t.pingLoop(conn, stop)
			return nil
		}

		lastErr = err
		fmt.Printf("[Transport] Connect attempt %d/%d failed: %v\n", attempt, t.cfg.Retry.MaxAttempts, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.cfg.Retry.Interval):
		}
	}
	return fmt.Errorf("connect failed after %d attempts: %w", t.cfg.Retry.MaxAttempts, lastErr)
}

// Send writes one envelope to the server.
func (t *WSTransport) Send(msg Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return fmt.Errorf("not connected")
	}
	return t.conn.WriteJSON(msg)
}

// Messages returns the inbound event channel. The channel is stable across
// reconnects.
func (t *WSTransport) Messages() <-chan Message {
	return t.msgCh
}

// Errors reports transport failures that occur after a successful connect.
func (t *WSTransport) Errors() <-chan error {
	return t.errCh
}

// Close tears the connection down permanently.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.teardownLocked()
	return nil
}

func (t *WSTransport) teardownLocked() {
	if t.stopCh != nil {
		close(t.stopCh)
		t.stopCh = nil
	}
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
}

func (t *WSTransport) readLoop(conn *websocket.Conn, stop <-chan struct{}) {
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-stop:
				// Planned teardown, not an error.
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					fmt.Printf("[Transport] Connection error: %v\n", err)
				}
				t.mu.Lock()
				if t.conn == conn {
					t.teardownLocked()
				}
				t.mu.Unlock()
				select {
				case t.errCh <- err:
				default:
				}
			}
			return
		}

		select {
		case t.msgCh <- msg:
		case <-stop:
			return
		}
	}
}

func (t *WSTransport) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.mu.Lock()
			live := t.conn == conn
			t.mu.Unlock()
			if !live {
				return
			}
			if err := t.Send(NewMessage(MsgTypePing, nil)); err != nil {
				return
			}
		}
	}
}
