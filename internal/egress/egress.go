// Package egress owns the pub socket: one producer (the relay), many
// subscribers (EA connections), with topic-prefix filtering. Publication is
// fire-and-forget — a slow or disconnected subscriber never blocks a
// publish, and an undeliverable message is simply lost, per the pub/sub
// backpressure policy of spec §5.
package egress

import (
	"bufio"
	"encoding/binary"
	"net"
	"strings"
	"sync"

	"relay/internal/relaylog"
	"relay/internal/wire"
)

const subscriberSendBuffer = 256

// subscriber is one connected EA's outbound session: a buffered send queue
// drained by its own writer goroutine, and the set of topic prefixes it
// asked to receive.
type subscriber struct {
	conn   net.Conn
	send   chan []byte
	prefix []string
}

func (s *subscriber) wants(topic string) bool {
	if len(s.prefix) == 0 {
		return true
	}
	for _, p := range s.prefix {
		if strings.HasPrefix(topic, p) {
			return true
		}
	}
	return false
}

// Server accepts subscriber connections on a TCP port and exposes a
// thread-safe Publish. It owns the pub socket exclusively; callers never
// touch subscriber connections directly.
type Server struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]bool
	log         *relaylog.Logger

	listener net.Listener
}

func New(log *relaylog.Logger) *Server {
	return &Server{
		subscribers: make(map[*subscriber]bool),
		log:         log.WithComponent("egress"),
	}
}

// Listen binds addr (":0" for OS-assigned) and starts accepting subscriber
// connections in the background. It returns the actually bound port so the
// supervisor can persist it when dynamic allocation was requested.
func (srv *Server) Listen(addr string) (int, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, err
	}
	srv.listener = ln
	go srv.acceptLoop(ln)
	return ln.Addr().(*net.TCPAddr).Port, nil
}

func (srv *Server) Close() error {
	if srv.listener == nil {
		return nil
	}
	return srv.listener.Close()
}

func (srv *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			srv.log.Debug("egress listener stopped accepting")
			return
		}
		go srv.handleSubscriber(conn)
	}
}

// handleSubscriber reads one newline-terminated subscription line ("SUB
// topic1 topic2 ...", empty means "everything") then starts a writer
// goroutine draining the subscriber's send queue onto the connection. A
// slow subscriber (its send channel full) has the new frame dropped rather
// than blocking Publish.
func (srv *Server) handleSubscriber(conn net.Conn) {
	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		conn.Close()
		return
	}

	sub := &subscriber{conn: conn, send: make(chan []byte, subscriberSendBuffer)}
	fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(line), "SUB"))
	sub.prefix = fields

	srv.mu.Lock()
	srv.subscribers[sub] = true
	srv.mu.Unlock()

	srv.writerLoop(sub)
}

func (srv *Server) writerLoop(sub *subscriber) {
	defer func() {
		srv.mu.Lock()
		delete(srv.subscribers, sub)
		srv.mu.Unlock()
		sub.conn.Close()
	}()

	var lenPrefix [4]byte
	for frame := range sub.send {
		binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(frame)))
		if _, err := sub.conn.Write(lenPrefix[:]); err != nil {
			return
		}
		if _, err := sub.conn.Write(frame); err != nil {
			return
		}
	}
}

// Publish encodes fields under topic and fans the frame out to every
// subscriber whose subscription prefixes match. It never returns an error
// for a slow or absent subscriber — only an encode failure is reported,
// since a send failure on any one subscriber must not affect the others.
func (srv *Server) Publish(topic string, fields map[string]interface{}) error {
	frame, err := wire.EncodeFrame(topic, fields)
	if err != nil {
		return err
	}

	srv.mu.RLock()
	defer srv.mu.RUnlock()
	for sub := range srv.subscribers {
		if !sub.wants(topic) {
			continue
		}
		select {
		case sub.send <- frame:
		default:
			framesDropped.Inc()
		}
	}
	framesPublished.Inc()
	return nil
}

// SubscriberCount reports the number of currently connected subscribers.
func (srv *Server) SubscriberCount() int {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	return len(srv.subscribers)
}
