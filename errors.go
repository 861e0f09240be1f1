// Package eventbus is the dispatch engine and public API: send/publish
// routing, reply-address lifecycle, and the wiring that ties registry,
// cluster, transport, codec and eventloop together into one running
// bus.
package eventbus

import (
	"errors"
	"fmt"
)

// ReplyErrorKind distinguishes the three ways a reply can fail.
type ReplyErrorKind int

const (
	// NoHandlers means the target address had no registered handler
	// anywhere the send could reach.
	NoHandlers ReplyErrorKind = iota
	// Timeout means the reply timer fired before any reply arrived.
	Timeout
	// RecipientFailure means the handler called msg.Fail explicitly.
	RecipientFailure
)

func (k ReplyErrorKind) String() string {
	switch k {
	case NoHandlers:
		return "NO_HANDLERS"
	case Timeout:
		return "TIMEOUT"
	case RecipientFailure:
		return "RECIPIENT_FAILURE"
	default:
		return "UNKNOWN"
	}
}

// ReplyError is the error a Send/SendWithTimeout reply handler
// receives instead of a body. Code and Message are only meaningful
// when Kind == RecipientFailure; they carry what the handler passed
// to msg.Fail.
type ReplyError struct {
	Kind    ReplyErrorKind
	Code    int32
	Message string
}

func (e *ReplyError) Error() string {
	if e.Kind == RecipientFailure {
		return fmt.Sprintf("eventbus: %s (code=%d): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("eventbus: %s", e.Kind)
}

var (
	// ErrClosed is returned by Send, SendWithTimeout, Publish,
	// RegisterHandler and RegisterLocalHandler when called after Close.
	ErrClosed = errors.New("eventbus: bus is closed")

	// ErrNoReplyExpected is returned by Message.Reply/Fail when the
	// originating message carried no reply address.
	ErrNoReplyExpected = errors.New("eventbus: message has no reply address")

	// ErrNoCodecClustered is returned synchronously by Send/Publish
	// when the body is not a built-in primitive, the bus is
	// clustered, and no codec is registered for its type name.
	ErrNoCodecClustered = errors.New("eventbus: no codec registered for non-primitive body in clustered mode")
)
