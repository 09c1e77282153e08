// Package ws broadcasts the relay's six UI change events to connected
// browsers: member_updated, trade_group_updated, member_deleted,
// ea_connected, ea_disconnected, settings_updated. One goroutine owns the
// client set; everything else reaches it only through Broadcast* calls.
package ws

import (
	"bytes"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"relay/internal/relaylog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var eventBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// Event is one of the six named UI events. Type carries the event tag the
// UI's text-protocol parser switches on; Data is whatever the event concerns:
// a TradeGroup or TradeGroupMember record, a bare account id (EA connect and
// disconnect, status-driven updates, trade group deletion), or a
// master/slave account pair for a member deletion.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

const (
	EventMemberUpdated     = "member_updated"
	EventTradeGroupUpdated = "trade_group_updated"
	EventMemberDeleted     = "member_deleted"
	EventEAConnected       = "ea_connected"
	EventEADisconnected    = "ea_disconnected"
	EventSettingsUpdated   = "settings_updated"
)

// Hub fans out Broadcast calls to every registered client. Its Run loop is
// the single owner of the client set.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	log        *relaylog.Logger
}

func NewHub(log *relaylog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		log:        log.WithComponent("ws"),
	}
}

// Run must be started in its own goroutine before the HTTP server starts
// accepting WebSocket upgrades.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var slow []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					slow = append(slow, client)
				}
			}

			if len(slow) > 0 {
				h.mu.Lock()
				for _, client := range slow {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				h.mu.Unlock()
				h.log.Warn("dropped slow websocket clients", relaylog.Int("count", len(slow)))
			}
		}
	}
}

// Broadcast encodes event and queues it for every connected client.
func (h *Hub) Broadcast(event Event) {
	buf := eventBufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	if err := json.NewEncoder(buf).Encode(event); err != nil {
		h.log.Warn("failed to encode websocket event", relaylog.String("type", event.Type))
		eventBufferPool.Put(buf)
		return
	}

	data := buf.Bytes()
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}
	msg := make([]byte, len(data))
	copy(msg, data)
	eventBufferPool.Put(buf)

	h.broadcast <- msg
}

func (h *Hub) BroadcastMemberUpdated(data interface{})     { h.Broadcast(Event{Type: EventMemberUpdated, Data: data}) }
func (h *Hub) BroadcastTradeGroupUpdated(data interface{}) { h.Broadcast(Event{Type: EventTradeGroupUpdated, Data: data}) }
func (h *Hub) BroadcastMemberDeleted(data interface{})     { h.Broadcast(Event{Type: EventMemberDeleted, Data: data}) }
func (h *Hub) BroadcastEAConnected(data interface{})       { h.Broadcast(Event{Type: EventEAConnected, Data: data}) }
func (h *Hub) BroadcastEADisconnected(data interface{})    { h.Broadcast(Event{Type: EventEADisconnected, Data: data}) }
func (h *Hub) BroadcastSettingsUpdated(data interface{})   { h.Broadcast(Event{Type: EventSettingsUpdated, Data: data}) }

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
