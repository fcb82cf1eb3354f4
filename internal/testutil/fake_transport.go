// fake_transport.go - In-memory event transport for testing
package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/machine-telemetry/backend/internal/transport"
)

// FakeTransport implements transport.EventTransport for testing. Tests push
// inbound messages with Deliver, inject connection drops with Fail, and
// inspect outbound traffic with Sent.
type FakeTransport struct {
	mu          sync.Mutex
	connected   bool
	closed      bool
	sent        []transport.Message
	connectErrs []error // consumed one per Connect call
	connects    int
	gate        chan struct{}

	msgCh chan transport.Message
	errCh chan error
}

// NewFakeTransport creates a transport that connects successfully.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		msgCh: make(chan transport.Message, 64),
		errCh: make(chan error, 8),
	}
}

// FailConnects queues errors to return from the next Connect calls, in order.
func (f *FakeTransport) FailConnects(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErrs = append(f.connectErrs, errs...)
}

// BlockConnects makes Connect wait until the returned release func is
// called, so tests can hold an attempt in flight.
func (f *FakeTransport) BlockConnects() func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
	gate := f.gate
	return func() { close(gate) }
}

func (f *FakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connects++
	if f.closed {
		f.mu.Unlock()
		return errors.New("transport closed")
	}
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		f.mu.Unlock()
		return err
	}
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *FakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.closed = true
	return nil
}

func (f *FakeTransport) Send(msg transport.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return errors.New("not connected")
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *FakeTransport) Messages() <-chan transport.Message {
	return f.msgCh
}

func (f *FakeTransport) Errors() <-chan error {
	return f.errCh
}

// Deliver pushes an inbound message as if received from the wire.
func (f *FakeTransport) Deliver(msg transport.Message) {
	f.msgCh <- msg
}

// Fail simulates an unplanned connection drop.
func (f *FakeTransport) Fail(err error) {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.errCh <- err
}

// Sent returns a copy of all outbound messages.
func (f *FakeTransport) Sent() []transport.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]transport.Message, len(f.sent))
	copy(out, f.sent)
	return out
}

// SentOfType filters outbound messages by type.
func (f *FakeTransport) SentOfType(msgType string) []transport.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []transport.Message
	for _, m := range f.sent {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

// ConnectCalls returns how many times Connect was invoked.
func (f *FakeTransport) ConnectCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

// IsConnected reports the simulated link state.
func (f *FakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}
