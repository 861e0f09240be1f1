// Package wire defines the event bus message envelope and its
// length-prefixed binary encoding on the wire.
package wire

import (
	"encoding/json"
	"fmt"
)

// BodyType tags the runtime shape of a Message's Body so a peer can
// decode it without out-of-band schema information.
type BodyType uint8

const (
	BodyTypeNil BodyType = iota
	BodyTypeString
	BodyTypeBytes
	BodyTypeBool
	BodyTypeInt32
	BodyTypeInt64
	BodyTypeFloat32
	BodyTypeFloat64
	BodyTypeJSONObject
	BodyTypeJSONArray
	BodyTypeObject // user codec, looked up by TypeName
	BodyTypePing
)

// String returns the tag name, mostly useful in logs.
func (t BodyType) String() string {
	switch t {
	case BodyTypeNil:
		return "nil"
	case BodyTypeString:
		return "string"
	case BodyTypeBytes:
		return "bytes"
	case BodyTypeBool:
		return "bool"
	case BodyTypeInt32:
		return "int32"
	case BodyTypeInt64:
		return "int64"
	case BodyTypeFloat32:
		return "float32"
	case BodyTypeFloat64:
		return "float64"
	case BodyTypeJSONObject:
		return "json_object"
	case BodyTypeJSONArray:
		return "json_array"
	case BodyTypeObject:
		return "object"
	case BodyTypePing:
		return "ping"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// IsPrimitive reports whether t is encoded directly by this package,
// without consulting a codec registry.
func (t BodyType) IsPrimitive() bool {
	switch t {
	case BodyTypeString, BodyTypeBytes, BodyTypeBool, BodyTypeInt32, BodyTypeInt64,
		BodyTypeFloat32, BodyTypeFloat64, BodyTypeJSONObject, BodyTypeJSONArray, BodyTypeNil:
		return true
	default:
		return false
	}
}

// NodeID identifies a cluster member by its TCP endpoint. Two NodeIDs
// are equal iff both Host and Port match.
type NodeID struct {
	Host string
	Port int
}

// String renders "host:port", the same form used in logs and as the
// dial address for outbound connections.
func (n NodeID) String() string {
	return fmt.Sprintf("%s:%d", n.Host, n.Port)
}

// IsZero reports whether n is the zero NodeID (no sender / no peer).
func (n NodeID) IsZero() bool {
	return n.Host == "" && n.Port == 0
}

// Message is the envelope exchanged between senders, the bus, and
// remote peers. HasReply false means no reply is expected; HasSender
// false means no sender identity is attached.
type Message struct {
	Send         bool
	Address      string
	ReplyAddress string
	HasReply     bool
	Sender       NodeID
	HasSender    bool
	BodyType     BodyType
	TypeName     string // set when BodyType == BodyTypeObject
	Body         []byte

	// Local carries an arbitrary Go value for same-process delivery
	// only. It is never part of the wire encoding (Encode/DecodePayload
	// ignore it) and is set instead of BodyType/Body when a
	// non-clustered bus dispatches a non-primitive body by reference,
	// without a registered codec.
	Local    interface{}
	HasLocal bool
}

// Copy returns an independent envelope sharing the same immutable Body
// slice. Recipients of a send/publish each get their own copy because
// the envelope's reply-routing fields are considered mutable per
// delivery, even though the body bytes themselves are not.
func (m *Message) Copy() *Message {
	cp := *m
	return &cp
}

// FailureBody is the reply body that carries a failure code and reason:
// a handler's explicit RECIPIENT_FAILURE, or a NO_HANDLERS reply the bus
// builds itself.
type FailureBody struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

// EncodeFailure marshals a FailureBody as a structured-JSON message
// body, for use as the body of a RECIPIENT_FAILURE reply.
func EncodeFailure(code int32, msg string) ([]byte, error) {
	return json.Marshal(FailureBody{Code: code, Message: msg})
}

// DecodeFailure is the inverse of EncodeFailure.
func DecodeFailure(body []byte) (FailureBody, error) {
	var f FailureBody
	err := json.Unmarshal(body, &f)
	return f, err
}
