package ws

import (
	"strings"
	"testing"
	"time"

	"relay/internal/relaylog"
)

func testLogger() *relaylog.Logger { return relaylog.InitLogger(relaylog.LogConfig{}) }

func TestNewHub_StartsEmpty(t *testing.T) {
	hub := NewHub(testLogger())
	if hub.ClientCount() != 0 {
		t.Fatalf("ClientCount = %d, want 0", hub.ClientCount())
	}
}

func TestHub_BroadcastReachesRegisteredClient(t *testing.T) {
	hub := NewHub(testLogger())
	go hub.Run()

	client := &Client{send: make(chan []byte, 4), log: testLogger()}
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	hub.BroadcastMemberUpdated(map[string]string{"slave_account": "XM_67890"})

	select {
	case msg := <-client.send:
		if !strings.Contains(string(msg), EventMemberUpdated) {
			t.Fatalf("message = %s, want to contain %s", msg, EventMemberUpdated)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}

func TestHub_SlowClientIsDroppedNotBlocked(t *testing.T) {
	hub := NewHub(testLogger())
	go hub.Run()

	slow := &Client{send: make(chan []byte), log: testLogger()} // unbuffered, nobody reads
	hub.register <- slow
	time.Sleep(10 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		hub.BroadcastSettingsUpdated("x")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked on a slow client")
	}
}

func TestOriginChecker(t *testing.T) {
	oc := newOriginChecker([]string{"http://localhost:3000"})

	if !oc.check("") {
		t.Error("empty origin should be allowed (non-browser clients)")
	}
	if !oc.check("http://localhost:3000") {
		t.Error("configured origin should be allowed")
	}
	if oc.check("http://evil.example.com") {
		t.Error("unconfigured origin should be rejected")
	}
}
