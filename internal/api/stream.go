package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/machine-telemetry/backend/internal/distributor"
	"github.com/machine-telemetry/backend/internal/models"
	"github.com/machine-telemetry/backend/internal/transport"
)

// Client -> Server stream control messages
const (
	StreamMsgWatch   = "watch"
	StreamMsgUnwatch = "unwatch"
	StreamMsgPing    = "ping"
)

// WatchPayload selects a machine for a stream client
type WatchPayload struct {
	MachineID string `json:"machineId"`
}

// streamClient is one downstream UI connection. A client with no watched
// machines receives every event.
type streamClient struct {
	id   string
	conn *websocket.Conn

	sendMu sync.Mutex

	watchMu sync.RWMutex
	watched map[string]struct{}
}

func (sc *streamClient) wants(deviceID string) bool {
	sc.watchMu.RLock()
	defer sc.watchMu.RUnlock()
	if len(sc.watched) == 0 {
		return true
	}
	_, ok := sc.watched[deviceID]
	return ok
}

func (sc *streamClient) send(msg transport.Message) error {
	sc.sendMu.Lock()
	defer sc.sendMu.Unlock()
	return sc.conn.WriteJSON(msg)
}

// StreamHandler fans telemetry events out to downstream WebSocket clients.
// It mirrors the upstream envelope so UI code can reuse one decoder.
type StreamHandler struct {
	dist     *distributor.Distributor
	upgrader websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[*streamClient]struct{}

	removeFns []func()
}

// NewStreamHandler creates the hub and attaches it to the event fan-out.
func NewStreamHandler(dist *distributor.Distributor) *StreamHandler {
	h := &StreamHandler{
		dist: dist,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // CORS handled at the HTTP layer
			},
		},
		clients: make(map[*streamClient]struct{}),
	}

	m := dist.Manager()
	h.removeFns = append(h.removeFns,
		m.OnRealtime(func(ev models.RealtimeEvent) {
			h.broadcast(ev.DeviceID, transport.MsgTypeRealtime, ev)
		}),
		m.OnSPC(func(ev models.SPCEvent) {
			h.broadcast(ev.DeviceID, transport.MsgTypeSPC, ev)
		}),
		m.OnStatus(func(ev models.StatusEvent) {
			h.broadcast(ev.DeviceID, transport.MsgTypeStatus, ev)
		}),
		m.OnAlert(func(ev models.AlertEvent) {
			h.broadcast(ev.DeviceID, transport.MsgTypeAlert, ev)
		}),
		m.OnConnectionChange(func(connected bool) {
			h.broadcast("", transport.MsgTypeConnection, map[string]bool{
				"connected": connected,
			})
		}),
	)
	return h
}

// HandleStream upgrades the request and serves the client until it
// disconnects.
func (h *StreamHandler) HandleStream(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return NewBadRequestError("websocket upgrade failed", err)
	}

	client := &streamClient{
		id:      uuid.New().String(),
		conn:    conn,
		watched: make(map[string]struct{}),
	}

	h.clientsMu.Lock()
	h.clients[client] = struct{}{}
	total := len(h.clients)
	h.clientsMu.Unlock()
	fmt.Printf("[Stream] Client %s connected (%d active)\n", client.id, total)

	defer func() {
		h.dropClient(client)
		conn.Close()
	}()

	for {
		var msg transport.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				fmt.Printf("[Stream] Client read error: %v\n", err)
			}
			return nil
		}
		h.handleClientMessage(client, msg)
	}
}

func (h *StreamHandler) handleClientMessage(client *streamClient, msg transport.Message) {
	switch msg.Type {
	case StreamMsgWatch, StreamMsgUnwatch:
		var p WatchPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.MachineID == "" {
			h.sendError(client, "invalid watch payload")
			return
		}
		client.watchMu.Lock()
		if msg.Type == StreamMsgWatch {
			client.watched[p.MachineID] = struct{}{}
		} else {
			delete(client.watched, p.MachineID)
		}
		client.watchMu.Unlock()

	case StreamMsgPing:
		client.send(transport.NewMessage(transport.MsgTypePong, nil))

	default:
		h.sendError(client, fmt.Sprintf("unknown message type: %s", msg.Type))
	}
}

func (h *StreamHandler) sendError(client *streamClient, message string) {
	client.send(transport.NewMessage(transport.MsgTypeError, models.ErrorEvent{
		Code:    "BAD_MESSAGE",
		Message: message,
	}))
}

// broadcast delivers one event to every client watching the device. An empty
// deviceID reaches all clients.
func (h *StreamHandler) broadcast(deviceID, msgType string, payload interface{}) {
	msg := transport.NewMessage(msgType, payload)

	h.clientsMu.RLock()
	targets := make([]*streamClient, 0, len(h.clients))
	for client := range h.clients {
		if deviceID == "" || client.wants(deviceID) {
			targets = append(targets, client)
		}
	}
	h.clientsMu.RUnlock()

	for _, client := range targets {
		if err := client.send(msg); err != nil {
			h.dropClient(client)
			client.conn.Close()
		}
	}
}

func (h *StreamHandler) dropClient(client *streamClient) {
	h.clientsMu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		fmt.Printf("[Stream] Client %s disconnected (%d active)\n", client.id, len(h.clients))
	}
	h.clientsMu.Unlock()
}

// ClientCount returns the number of connected stream clients.
func (h *StreamHandler) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Close detaches the hub from the event fan-out and closes all clients.
func (h *StreamHandler) Close() {
	for _, remove := range h.removeFns {
		remove()
	}
	h.removeFns = nil

	h.clientsMu.Lock()
	for client := range h.clients {
		client.conn.Close()
	}
	h.clients = make(map[*streamClient]struct{})
	h.clientsMu.Unlock()
}
