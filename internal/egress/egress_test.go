package egress

import (
	"net"
	"strconv"
	"testing"
	"time"

	"relay/internal/relaylog"
	"relay/internal/wire"
)

func dialSubscriber(t *testing.T, addr string, subscribeLine string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if _, err := conn.Write([]byte(subscribeLine + "\n")); err != nil {
		t.Fatalf("write subscription: %v", err)
	}
	return conn
}

func TestPublish_FiltersByTopicPrefix(t *testing.T) {
	srv := New(relaylog.InitLogger(relaylog.LogConfig{}))
	port, err := srv.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()
	addr := "127.0.0.1:" + strconv.Itoa(port)

	configSub := dialSubscriber(t, addr, "SUB config/")
	defer configSub.Close()
	tradeSub := dialSubscriber(t, addr, "SUB trade/")
	defer tradeSub.Close()

	waitForSubscribers(t, srv, 2)

	if err := srv.Publish(wire.TopicConfig("IC_Markets_12345"), map[string]interface{}{"message_type": "MasterConfig"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	topic, _, err := wire.ReadFrame(configSub)
	if err != nil {
		t.Fatalf("ReadFrame on config subscriber: %v", err)
	}
	if topic != "config/IC_Markets_12345" {
		t.Errorf("topic = %q, want config/IC_Markets_12345", topic)
	}

	tradeSub.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := wire.ReadFrame(tradeSub); err == nil {
		t.Error("expected the trade/ subscriber to receive nothing from a config/ publish")
	}
}

func TestPublish_NoSubscriptionReceivesEverything(t *testing.T) {
	srv := New(relaylog.InitLogger(relaylog.LogConfig{}))
	port, err := srv.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()
	addr := "127.0.0.1:" + strconv.Itoa(port)

	sub := dialSubscriber(t, addr, "SUB")
	defer sub.Close()
	waitForSubscribers(t, srv, 1)

	if err := srv.Publish(wire.TopicConfigGlobal(), map[string]interface{}{"message_type": "VLogsConfig"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	topic, _, err := wire.ReadFrame(sub)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if topic != "config/global" {
		t.Errorf("topic = %q, want config/global", topic)
	}
}

func waitForSubscribers(t *testing.T, srv *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if srv.SubscriberCount() >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d subscribers, have %d", n, srv.SubscriberCount())
}
