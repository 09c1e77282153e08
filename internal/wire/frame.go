package wire

import (
	"bytes"
	"encoding/binary"
	"io"
)

// EncodeFrame produces `<topic> <payload>` where payload is the binary
// encoding of fields.
func EncodeFrame(topic string, fields map[string]interface{}) ([]byte, error) {
	payload, err := EncodeMap(fields)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, len(topic)+1+len(payload))
	frame = append(frame, topic...)
	frame = append(frame, ' ')
	frame = append(frame, payload...)
	return frame, nil
}

// DecodeFrame splits a raw frame into its topic and decoded field map.
// Frames with no space separator, or whose payload fails to decode, return
// ErrMalformed — callers must drop-and-log, never propagate.
func DecodeFrame(frame []byte) (topic string, fields map[string]interface{}, err error) {
	idx := bytes.IndexByte(frame, ' ')
	if idx < 0 {
		return "", nil, ErrMalformed
	}
	topic = string(frame[:idx])
	fields, err = DecodeMap(frame[idx+1:])
	if err != nil {
		return "", nil, err
	}
	return topic, fields, nil
}

// Topic builders, per §4.1's topic conventions.

func TopicConfig(accountID string) string { return "config/" + accountID }

func TopicConfigGlobal() string { return "config/global" }

func TopicTrade(masterAccount, slaveAccount string) string {
	return "trade/" + masterAccount + "/" + slaveAccount
}

func TopicSync(masterAccount, slaveAccount string) string {
	return "sync/" + masterAccount + "/" + slaveAccount
}

// maxStreamFrameSize bounds a single length-prefixed frame read from a
// stream socket, guarding against a malformed or hostile length prefix
// forcing an unbounded allocation.
const maxStreamFrameSize = 1 << 20 // 1 MiB

// WriteFrame writes topic/fields to w as a 4-byte big-endian length prefix
// followed by the encoded frame — the framing a stream transport (TCP) needs
// since, unlike a message-oriented socket, it does not preserve message
// boundaries on its own.
func WriteFrame(w io.Writer, topic string, fields map[string]interface{}) error {
	frame, err := EncodeFrame(topic, fields)
	if err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(frame)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// ReadFrame reads one length-prefixed frame from r and decodes it.
func ReadFrame(r io.Reader) (topic string, fields map[string]interface{}, err error) {
	var lenBuf [4]byte
	if _, err = io.ReadFull(r, lenBuf[:]); err != nil {
		return "", nil, err
	}
	size := binary.BigEndian.Uint32(lenBuf[:])
	if size == 0 || size > maxStreamFrameSize {
		return "", nil, ErrMalformed
	}
	buf := make([]byte, size)
	if _, err = io.ReadFull(r, buf); err != nil {
		return "", nil, err
	}
	return DecodeFrame(buf)
}
