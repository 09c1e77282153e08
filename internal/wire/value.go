// Package wire implements the relay's binary frame codec: a self-describing
// map serialization wrapped in a `<topic><space><payload>` frame, shared
// between the relay and the platform-embedded EAs.
//
// The corpus carries no ZeroMQ/MessagePack-style serialization library, so
// this is a deliberate stdlib-only module (see DESIGN.md): encoding/binary
// plus a small hand-rolled tagged encoding for the self-describing map.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrMalformed is returned for any decode failure: truncated buffer, bad
// type tag, trailing bytes, or a non-map payload; string bytes are not
// checked for valid UTF-8. Callers treat it as a drop-and-log condition,
// never a fatal one.
var ErrMalformed = errors.New("wire: malformed payload")

type tag byte

const (
	tagNil tag = iota
	tagBool
	tagInt64
	tagFloat64
	tagString
	tagArray
	tagMap
)

// EncodeValue appends the self-describing encoding of v to buf and returns
// the extended buffer. Supported v: nil, bool, int64 (and int, which is
// widened), float64, string, []interface{}, map[string]interface{}.
func EncodeValue(buf []byte, v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return append(buf, byte(tagNil)), nil
	case bool:
		buf = append(buf, byte(tagBool))
		if val {
			return append(buf, 1), nil
		}
		return append(buf, 0), nil
	case int:
		return EncodeValue(buf, int64(val))
	case int64:
		buf = append(buf, byte(tagInt64))
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(val))
		return append(buf, b[:]...), nil
	case float64:
		buf = append(buf, byte(tagFloat64))
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], math.Float64bits(val))
		return append(buf, b[:]...), nil
	case string:
		buf = append(buf, byte(tagString))
		return appendLenPrefixed(buf, []byte(val)), nil
	case []interface{}:
		buf = append(buf, byte(tagArray))
		buf = appendUint32(buf, uint32(len(val)))
		var err error
		for _, elem := range val {
			buf, err = EncodeValue(buf, elem)
			if err != nil {
				return nil, err
			}
		}
		return buf, nil
	case map[string]interface{}:
		buf = append(buf, byte(tagMap))
		buf = appendUint32(buf, uint32(len(val)))
		var err error
		for k, elem := range val {
			buf = appendLenPrefixed(buf, []byte(k))
			buf, err = EncodeValue(buf, elem)
			if err != nil {
				return nil, err
			}
		}
		return buf, nil
	default:
		return nil, fmt.Errorf("wire: unsupported value type %T", v)
	}
}

// DecodeValue reads one self-describing value from buf, returning the value
// and the number of bytes consumed.
func DecodeValue(buf []byte) (interface{}, int, error) {
	if len(buf) < 1 {
		return nil, 0, ErrMalformed
	}
	switch tag(buf[0]) {
	case tagNil:
		return nil, 1, nil
	case tagBool:
		if len(buf) < 2 {
			return nil, 0, ErrMalformed
		}
		return buf[1] != 0, 2, nil
	case tagInt64:
		if len(buf) < 9 {
			return nil, 0, ErrMalformed
		}
		return int64(binary.BigEndian.Uint64(buf[1:9])), 9, nil
	case tagFloat64:
		if len(buf) < 9 {
			return nil, 0, ErrMalformed
		}
		return math.Float64frombits(binary.BigEndian.Uint64(buf[1:9])), 9, nil
	case tagString:
		s, n, err := readLenPrefixed(buf[1:])
		if err != nil {
			return nil, 0, err
		}
		return string(s), 1 + n, nil
	case tagArray:
		if len(buf) < 5 {
			return nil, 0, ErrMalformed
		}
		count := binary.BigEndian.Uint32(buf[1:5])
		pos := 5
		arr := make([]interface{}, 0, count)
		for i := uint32(0); i < count; i++ {
			v, n, err := DecodeValue(buf[pos:])
			if err != nil {
				return nil, 0, err
			}
			arr = append(arr, v)
			pos += n
		}
		return arr, pos, nil
	case tagMap:
		if len(buf) < 5 {
			return nil, 0, ErrMalformed
		}
		count := binary.BigEndian.Uint32(buf[1:5])
		pos := 5
		m := make(map[string]interface{}, count)
		for i := uint32(0); i < count; i++ {
			key, n, err := readLenPrefixed(buf[pos:])
			if err != nil {
				return nil, 0, err
			}
			pos += n
			v, n2, err := DecodeValue(buf[pos:])
			if err != nil {
				return nil, 0, err
			}
			pos += n2
			m[string(key)] = v
		}
		return m, pos, nil
	default:
		return nil, 0, ErrMalformed
	}
}

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendLenPrefixed(buf, data []byte) []byte {
	buf = appendUint32(buf, uint32(len(data)))
	return append(buf, data...)
}

func readLenPrefixed(buf []byte) ([]byte, int, error) {
	if len(buf) < 4 {
		return nil, 0, ErrMalformed
	}
	n := binary.BigEndian.Uint32(buf[:4])
	if uint64(len(buf)) < 4+uint64(n) {
		return nil, 0, ErrMalformed
	}
	return buf[4 : 4+n], 4 + int(n), nil
}

// EncodeMap encodes a top-level field map (the payload half of a frame).
func EncodeMap(fields map[string]interface{}) ([]byte, error) {
	return EncodeValue(nil, fields)
}

// DecodeMap decodes a top-level field map from payload bytes.
func DecodeMap(payload []byte) (map[string]interface{}, error) {
	v, n, err := DecodeValue(payload)
	if err != nil {
		return nil, err
	}
	if n != len(payload) {
		return nil, ErrMalformed
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, ErrMalformed
	}
	return m, nil
}
