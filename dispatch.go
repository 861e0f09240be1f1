package eventbus

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/najoast/msgbus/cluster"
	"github.com/najoast/msgbus/codec"
	"github.com/najoast/msgbus/eventloop"
	"github.com/najoast/msgbus/registry"
	"github.com/najoast/msgbus/wire"
)

// failureTypeName marks a BodyTypeObject reply envelope as a
// NO_HANDLERS/RECIPIENT_FAILURE signal rather than an ordinary reply
// body. It is never looked up in the codec registry.
const failureTypeName = "eventbus.failure"

// noHandlersCode is the FailureBody.Code the bus stamps on a reply it
// manufactures itself, distinguishing it from a code a handler chose
// via Message.Fail.
const noHandlersCode int32 = -1

// encodedBody is a prepared wire-ready body: either one of wire's
// built-in primitives or a codec-encoded user type.
type encodedBody struct {
	bodyType wire.BodyType
	typeName string
	bytes    []byte
}

// envelope is a body prepared for dispatch, before an address, reply
// address, or sender are attached. Exactly one of encoded or a
// by-reference value is ever populated: clustered sends always
// encode (so forwarding to a remote peer can carry it); non-clustered
// sends carry a non-primitive body by reference instead, skipping
// serialization entirely.
type envelope struct {
	encoded *encodedBody
	value   interface{}
}

func (env *envelope) toWireMessage(send bool, address, replyAddress string, hasReply bool, sender wire.NodeID, hasSender bool) *wire.Message {
	msg := &wire.Message{
		Send: send, Address: address, ReplyAddress: replyAddress, HasReply: hasReply,
		Sender: sender, HasSender: hasSender,
	}
	if env.encoded != nil {
		msg.BodyType = env.encoded.bodyType
		msg.TypeName = env.encoded.typeName
		msg.Body = env.encoded.bytes
	} else {
		msg.HasLocal = true
		msg.Local = env.value
	}
	return msg
}

// prepareEnvelope classifies body: a built-in primitive always
// encodes; otherwise a clustered bus requires a registered codec
// (argument error if none), while a non-clustered bus carries the
// value by reference without serialization.
func (b *bus) prepareEnvelope(body interface{}) (*envelope, error) {
	if bt, data, ok := wire.EncodeBody(body); ok {
		return &envelope{encoded: &encodedBody{bodyType: bt, bytes: data}}, nil
	}
	if !b.clustered {
		return &envelope{value: body}, nil
	}

	typeName := reflect.TypeOf(body).String()
	c, found := b.codecs.Lookup(typeName)
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNoCodecClustered, typeName)
	}
	data, err := c.Encode(body)
	if err != nil {
		return nil, fmt.Errorf("eventbus: encoding %s: %w", typeName, err)
	}
	return &envelope{encoded: &encodedBody{bodyType: wire.BodyTypeObject, typeName: typeName, bytes: data}}, nil
}

func (b *bus) decodeBody(enc *encodedBody) (interface{}, error) {
	if enc.bodyType.IsPrimitive() {
		return wire.DecodeBody(enc.bodyType, enc.bytes)
	}
	c, ok := b.codecs.Lookup(enc.typeName)
	if !ok {
		return nil, &codec.ErrNoCodec{TypeName: enc.typeName}
	}
	return c.Decode(enc.bytes)
}

func (b *bus) newMessage(msg *wire.Message) *Message {
	m := &Message{
		bus: b, send: msg.Send, address: msg.Address, replyAddress: msg.ReplyAddress,
		hasReply: msg.HasReply, sender: msg.Sender, hasSender: msg.HasSender,
	}
	if msg.HasLocal {
		m.value = msg.Local
		m.hasValue = true
	} else {
		m.encoded = &encodedBody{bodyType: msg.BodyType, typeName: msg.TypeName, bytes: msg.Body}
	}
	return m
}

// sendOrPub is the dispatch entry point: route a prepared envelope
// either through the cluster-wide subscription map or straight to
// local delivery when the bus isn't clustered.
func (b *bus) sendOrPub(send bool, address string, env *envelope, replyAddress string, hasReply bool) {
	msg := env.toWireMessage(send, address, replyAddress, hasReply, b.self, true)

	if !b.clustered {
		b.receiveLocal(msg)
		return
	}

	set, err := b.cm.SubscriptionMap().Get(context.Background(), address)
	if err != nil {
		log.WithField("address", address).WithField("err", err).Warn("subscription map get failed, dropping send")
		return
	}
	b.sendToSubs(set, msg)
}

// sendToSubs resolves a prepared message against a set of candidate
// nodes: one fair choice for a send, every member for a publish.
func (b *bus) sendToSubs(set cluster.ChoosableSet, msg *wire.Message) {
	if msg.Send {
		node, ok := set.Choose()
		if !ok {
			if msg.HasReply {
				b.replyNoHandlers(msg)
			}
			return
		}
		b.deliverToNode(node, msg)
		return
	}

	for _, node := range set.Members() {
		b.deliverToNode(node, msg)
	}
}

func (b *bus) deliverToNode(node wire.NodeID, msg *wire.Message) {
	if node == b.self {
		b.receiveLocal(msg)
		return
	}
	if err := b.pool.WriteTo(node, msg); err != nil {
		log.WithField("peer", node).WithField("err", err).Warn("remote write failed")
	}
}

// receiveLocal is the single local delivery path, reached both for
// genuinely local dispatch and for frames the inbound transport.Server
// decodes from a peer.
func (b *bus) receiveLocal(msg *wire.Message) {
	if !b.reg.HasAddress(msg.Address) {
		if msg.HasReply {
			b.replyNoHandlers(msg)
		}
		return
	}

	if msg.Send {
		h, ok := b.reg.Choose(msg.Address)
		if !ok {
			if msg.HasReply {
				b.replyNoHandlers(msg)
			}
			return
		}
		b.deliverToHolder(h, msg)
		return
	}

	for _, h := range b.reg.Iterate(msg.Address) {
		b.deliverToHolder(h, msg)
	}
}

// deliverToHolder schedules one delivery on the holder's execution
// lane. The removed check happens inside the lane, after any
// concurrent unregister has had a chance to land, so a handler that is
// torn down between dispatch and execution never fires.
func (b *bus) deliverToHolder(h *registry.Holder, base *wire.Message) {
	h.Context.Run(func() {
		if h.Removed() {
			return
		}
		h.Handler(base.Copy())
		if h.ReplyHandler {
			b.reg.Unregister(h.Address, h.ID)
		}
	})
}

func (b *bus) replyNoHandlers(msg *wire.Message) {
	b.recorder.ObserveNoHandlers()
	b.replyFailure(msg, noHandlersCode, "no handler registered for address")
}

func (b *bus) replyFailure(msg *wire.Message, code int32, reason string) {
	data, err := wire.EncodeFailure(code, reason)
	if err != nil {
		log.WithField("err", err).Error("encoding failure reply body")
		return
	}
	reply := &wire.Message{
		Send: true, Address: msg.ReplyAddress, Sender: b.self, HasSender: true,
		BodyType: wire.BodyTypeObject, TypeName: failureTypeName, Body: data,
	}
	b.deliverReply(msg.Sender, reply)
}

func (b *bus) deliverReply(dest wire.NodeID, reply *wire.Message) {
	if dest == b.self {
		b.receiveLocal(reply)
		return
	}
	if err := b.pool.WriteTo(dest, reply); err != nil {
		log.WithField("peer", dest).WithField("err", err).Warn("failed to deliver reply")
	}
}

// registerReplyHandler installs a one-shot, local-only holder at
// replyAddress that decodes an incoming reply (or a manufactured
// failure envelope) into the caller's ReplyHandler, with an optional
// timeout that fires TIMEOUT if nothing arrives first.
func (b *bus) registerReplyHandler(replyAddress string, replyHandler ReplyHandler, timeout time.Duration) *registry.Holder {
	loop := eventloop.NewLoop(1)

	wrapped := func(msg *wire.Message) {
		defer func() { go loop.Close() }()

		if msg.BodyType == wire.BodyTypeObject && msg.TypeName == failureTypeName {
			fb, err := wire.DecodeFailure(msg.Body)
			if err != nil {
				replyHandler(nil, fmt.Errorf("eventbus: decoding failure reply: %w", err))
				return
			}
			kind := RecipientFailure
			if fb.Code == noHandlersCode {
				kind = NoHandlers
			}
			replyHandler(nil, &ReplyError{Kind: kind, Code: fb.Code, Message: fb.Message})
			return
		}

		replyHandler(b.newMessage(msg), nil)
	}

	holder, _ := b.reg.Register(replyAddress, wrapped, loop, true, true)

	if timeout > 0 {
		holder.TimeoutTimer = time.AfterFunc(timeout, func() {
			if h, _ := b.reg.Unregister(replyAddress, holder.ID); h != nil {
				b.recorder.ObserveTimeout()
				loop.Run(func() { replyHandler(nil, &ReplyError{Kind: Timeout}) })
				loop.Close()
			}
		})
	}

	return holder
}
