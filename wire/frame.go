package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// PongByte is the single, unframed byte a connection holder recognizes
// as "the peer is alive" on any read from its socket. It is never
// wrapped in the length-prefixed frame the rest of this package uses.
const PongByte byte = 0x01

// MaxFrameLen bounds a single payload's size, guarding against a
// corrupt or hostile length prefix causing an unbounded allocation.
const MaxFrameLen = 64 << 20 // 64 MiB

// Encode renders msg as a complete frame: a 4-byte big-endian length
// prefix followed by the type-tagged payload described in the wire
// format section of the spec.
func Encode(msg *Message) ([]byte, error) {
	payload, err := encodePayload(msg)
	if err != nil {
		return nil, err
	}
	if len(payload) > MaxFrameLen {
		return nil, fmt.Errorf("wire: payload too large (%d bytes)", len(payload))
	}

	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(payload)))
	copy(frame[4:], payload)
	return frame, nil
}

// EncodePing renders a PING frame carrying only the sender's NodeID.
func EncodePing(self NodeID) ([]byte, error) {
	return Encode(&Message{BodyType: BodyTypePing, Sender: self, HasSender: true})
}

func encodePayload(msg *Message) ([]byte, error) {
	replyAddr := []byte(msg.ReplyAddress)
	addr := []byte(msg.Address)
	senderHost := []byte(msg.Sender.Host)

	size := 1 + 1 + 4 + len(replyAddr) + 4 + len(addr) + 4 + 4 + len(senderHost) + 4 + len(msg.Body)
	if msg.BodyType == BodyTypeObject {
		size += 4 + len(msg.TypeName)
	}

	buf := make([]byte, size)
	off := 0

	buf[off] = byte(msg.BodyType)
	off++
	if msg.Send {
		buf[off] = 1
	}
	off++

	off = putLenPrefixed(buf, off, replyAddr)
	off = putLenPrefixed(buf, off, addr)

	binary.BigEndian.PutUint32(buf[off:], uint32(msg.Sender.Port))
	off += 4
	off = putLenPrefixed(buf, off, senderHost)

	if msg.BodyType == BodyTypeObject {
		off = putLenPrefixed(buf, off, []byte(msg.TypeName))
	}

	off = putLenPrefixed(buf, off, msg.Body)

	return buf[:off], nil
}

func putLenPrefixed(buf []byte, off int, data []byte) int {
	binary.BigEndian.PutUint32(buf[off:], uint32(len(data)))
	off += 4
	copy(buf[off:], data)
	return off + len(data)
}

// DecodePayload parses a single frame's payload (without its length
// prefix) into a Message.
func DecodePayload(payload []byte) (*Message, error) {
	r := &reader{buf: payload}

	bodyType, err := r.byte_()
	if err != nil {
		return nil, fmt.Errorf("wire: read body type: %w", err)
	}
	sendFlag, err := r.byte_()
	if err != nil {
		return nil, fmt.Errorf("wire: read send flag: %w", err)
	}

	replyAddr, err := r.lenPrefixed()
	if err != nil {
		return nil, fmt.Errorf("wire: read reply address: %w", err)
	}
	addr, err := r.lenPrefixed()
	if err != nil {
		return nil, fmt.Errorf("wire: read address: %w", err)
	}

	senderPort, err := r.uint32()
	if err != nil {
		return nil, fmt.Errorf("wire: read sender port: %w", err)
	}
	senderHost, err := r.lenPrefixed()
	if err != nil {
		return nil, fmt.Errorf("wire: read sender host: %w", err)
	}

	msg := &Message{
		Send:     sendFlag != 0,
		Address:  string(addr),
		BodyType: BodyType(bodyType),
	}
	if len(replyAddr) > 0 {
		msg.ReplyAddress = string(replyAddr)
		msg.HasReply = true
	}
	if senderPort != 0 || len(senderHost) != 0 {
		msg.Sender = NodeID{Host: string(senderHost), Port: int(senderPort)}
		msg.HasSender = true
	}

	if msg.BodyType == BodyTypeObject {
		typeName, err := r.lenPrefixed()
		if err != nil {
			return nil, fmt.Errorf("wire: read type name: %w", err)
		}
		msg.TypeName = string(typeName)
	}

	body, err := r.lenPrefixed()
	if err != nil {
		return nil, fmt.Errorf("wire: read body: %w", err)
	}
	if len(body) > 0 {
		msg.Body = append([]byte(nil), body...)
	}

	return msg, nil
}

// ReadFrame reads one length-prefixed frame from r and decodes it. It
// returns io.EOF only when the stream ends exactly at a frame
// boundary, matching net.Conn read semantics callers expect.
func ReadFrame(r io.Reader) (*Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > MaxFrameLen {
		return nil, fmt.Errorf("wire: frame length %d exceeds maximum", length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	return DecodePayload(payload)
}

// reader is a small cursor over a byte slice used while decoding a
// payload; it never copies until a field is actually extracted.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) byte_() (byte, error) {
	if r.pos+1 > len(r.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) uint32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *reader) lenPrefixed() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if r.pos+int(n) > len(r.buf) {
		return nil, io.ErrUnexpectedEOF
	}
	data := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return data, nil
}
