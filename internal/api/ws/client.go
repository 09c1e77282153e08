package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"relay/internal/relaylog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// originChecker allows an empty-Origin request (non-browser client) and any
// origin on the configured allow-list; it never falls back to "allow all"
// the way a dev-mode env var default would.
type originChecker struct {
	allowed map[string]struct{}
}

func newOriginChecker(allowedOrigins []string) *originChecker {
	oc := &originChecker{allowed: make(map[string]struct{}, len(allowedOrigins))}
	for _, o := range allowedOrigins {
		oc.allowed[o] = struct{}{}
	}
	return oc
}

func (oc *originChecker) check(origin string) bool {
	if origin == "" {
		return true
	}
	_, ok := oc.allowed[origin]
	return ok
}

// Client is one upgraded WebSocket connection subscribed to every hub
// event; the relay's events are cheap and low-volume enough that no
// per-client topic filtering is needed (unlike the EA-facing egress pub
// socket).
type Client struct {
	conn *websocket.Conn
	hub  *Hub
	send chan []byte
	log  *relaylog.Logger
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Debug("websocket read error")
			}
			return
		}
		// The UI connection is receive-only; any client-sent frame is ignored.
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS upgrades r to a WebSocket connection and registers a Client with
// hub, rejecting upgrades from origins not on allowedOrigins.
func ServeWS(hub *Hub, allowedOrigins []string, log *relaylog.Logger, w http.ResponseWriter, r *http.Request) {
	oc := newOriginChecker(allowedOrigins)
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return oc.check(r.Header.Get("Origin")) },
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug("websocket upgrade failed")
		return
	}

	client := &Client{conn: conn, hub: hub, send: make(chan []byte, sendBufferSize), log: log.WithComponent("ws")}
	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}
