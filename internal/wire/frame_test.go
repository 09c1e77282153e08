package wire

import (
	"errors"
	"testing"
)

func TestEncodeDecodeFrame_RoundTrip(t *testing.T) {
	topic := TopicTrade("IC_Markets_12345", "XM_67890")
	fields := map[string]interface{}{
		"message_type":   MsgTradeSignal,
		"action":         ActionOpen,
		"ticket":         int64(1001),
		"source_account": "IC_Markets_12345",
		"timestamp":      "2026-08-01T12:00:00Z",
	}
	frame, err := EncodeFrame(topic, fields)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	gotTopic, gotFields, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if gotTopic != topic {
		t.Errorf("topic = %q, want %q", gotTopic, topic)
	}
	for k, v := range fields {
		if gotFields[k] != v {
			t.Errorf("field %q = %#v, want %#v", k, gotFields[k], v)
		}
	}
}

func TestDecodeFrame_NoSeparator(t *testing.T) {
	if _, _, err := DecodeFrame([]byte("notaframe")); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestDecodeFrame_BadPayload(t *testing.T) {
	frame := append([]byte("config/IC_Markets_12345 "), 0xFF)
	if _, _, err := DecodeFrame(frame); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestTopicBuilders(t *testing.T) {
	cases := []struct {
		got  string
		want string
	}{
		{TopicConfig("IC_Markets_12345"), "config/IC_Markets_12345"},
		{TopicConfigGlobal(), "config/global"},
		{TopicTrade("IC_Markets_12345", "XM_67890"), "trade/IC_Markets_12345/XM_67890"},
		{TopicSync("IC_Markets_12345", "XM_67890"), "sync/IC_Markets_12345/XM_67890"},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Errorf("got %q, want %q", c.got, c.want)
		}
	}
}
