package eventbus

import "github.com/najoast/msgbus/wire"

// Message is the envelope a registered Handler receives. It wraps
// either a decoded wire body or, for non-clustered arbitrary bodies, a
// directly-referenced Go value — Body hides the distinction.
type Message struct {
	bus *bus

	send         bool
	address      string
	replyAddress string
	hasReply     bool
	sender       wire.NodeID
	hasSender    bool

	value    interface{}
	hasValue bool
	encoded  *encodedBody
}

// Address is the address this message was sent or published to.
func (m *Message) Address() string { return m.address }

// IsSend reports whether this was a point-to-point send (false means
// publish).
func (m *Message) IsSend() bool { return m.send }

// HasReply reports whether the sender expects a reply; Reply and Fail
// are no-ops (returning ErrNoReplyExpected) when this is false.
func (m *Message) HasReply() bool { return m.hasReply }

// Sender is the node that originated this message. ok is false only
// for messages a bus builds for itself (never observed by a handler).
func (m *Message) Sender() (node wire.NodeID, ok bool) { return m.sender, m.hasSender }

// Body decodes the message body. For a primitive or codec-registered
// type it decodes from the wire representation; for a value carried by
// reference (non-clustered, non-primitive) it returns the original Go
// value directly.
func (m *Message) Body() (interface{}, error) {
	if m.hasValue {
		return m.value, nil
	}
	if m.encoded == nil {
		return nil, nil
	}
	return m.bus.decodeBody(m.encoded)
}

// Reply sends body back to this message's sender, addressed at its
// reply address. It is a no-op returning ErrNoReplyExpected if the
// original message carried no reply address.
func (m *Message) Reply(body interface{}) error {
	if !m.hasReply {
		return ErrNoReplyExpected
	}
	env, err := m.bus.prepareEnvelope(body)
	if err != nil {
		return err
	}
	reply := env.toWireMessage(true, m.replyAddress, "", false, m.bus.self, true)
	m.bus.deliverReply(m.sender, reply)
	return nil
}

// Fail sends a RECIPIENT_FAILURE reply carrying code and reason back
// to this message's sender. It is a no-op returning ErrNoReplyExpected
// if the original message carried no reply address.
func (m *Message) Fail(code int32, reason string) error {
	if !m.hasReply {
		return ErrNoReplyExpected
	}
	data, err := wire.EncodeFailure(code, reason)
	if err != nil {
		return err
	}
	reply := &wire.Message{
		Send: true, Address: m.replyAddress, Sender: m.bus.self, HasSender: true,
		BodyType: wire.BodyTypeObject, TypeName: failureTypeName, Body: data,
	}
	m.bus.recorder.ObserveRecipientFailure()
	m.bus.deliverReply(m.sender, reply)
	return nil
}
