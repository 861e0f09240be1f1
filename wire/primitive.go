package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// EncodeBody converts a Go value into a (BodyType, bytes) pair for one
// of the built-in primitive body types. Values that don't match a
// primitive type return ok == false so the caller can fall back to the
// codec registry.
func EncodeBody(v interface{}) (BodyType, []byte, bool) {
	switch val := v.(type) {
	case nil:
		return BodyTypeNil, nil, true
	case string:
		return BodyTypeString, []byte(val), true
	case []byte:
		return BodyTypeBytes, val, true
	case bool:
		if val {
			return BodyTypeBool, []byte{1}, true
		}
		return BodyTypeBool, []byte{0}, true
	case int32:
		return BodyTypeInt32, encodeUint32(uint32(val)), true
	case int:
		return BodyTypeInt64, encodeUint64(uint64(val)), true
	case int64:
		return BodyTypeInt64, encodeUint64(uint64(val)), true
	case float32:
		return BodyTypeFloat32, encodeUint32(math.Float32bits(val)), true
	case float64:
		return BodyTypeFloat64, encodeUint64(math.Float64bits(val)), true
	case json.RawMessage:
		return classifyJSON(val), val, true
	default:
		return 0, nil, false
	}
}

// DecodeBody is the inverse of EncodeBody for a known BodyType. A Go
// int is encoded as BodyTypeInt64, so it decodes as int64.
func DecodeBody(t BodyType, data []byte) (interface{}, error) {
	switch t {
	case BodyTypeNil:
		return nil, nil
	case BodyTypeString:
		return string(data), nil
	case BodyTypeBytes:
		return append([]byte(nil), data...), nil
	case BodyTypeBool:
		if len(data) != 1 {
			return nil, fmt.Errorf("wire: malformed bool body")
		}
		return data[0] != 0, nil
	case BodyTypeInt32:
		v, err := decodeUint32(data)
		if err != nil {
			return nil, err
		}
		return int32(v), nil
	case BodyTypeInt64:
		v, err := decodeUint64(data)
		if err != nil {
			return nil, err
		}
		return int64(v), nil
	case BodyTypeFloat32:
		v, err := decodeUint32(data)
		if err != nil {
			return nil, err
		}
		return math.Float32frombits(v), nil
	case BodyTypeFloat64:
		v, err := decodeUint64(data)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(v), nil
	case BodyTypeJSONObject, BodyTypeJSONArray:
		return json.RawMessage(append([]byte(nil), data...)), nil
	default:
		return nil, fmt.Errorf("wire: %s is not a primitive body type", t)
	}
}

func classifyJSON(raw json.RawMessage) BodyType {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '[':
			return BodyTypeJSONArray
		default:
			return BodyTypeJSONObject
		}
	}
	return BodyTypeJSONObject
}

func encodeUint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeUint32(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("wire: expected 4 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint32(b), nil
}

func decodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("wire: expected 8 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
