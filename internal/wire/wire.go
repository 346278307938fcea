// Package wire implements the length-prefixed binary frame codec the
// privileged/unprivileged command channel uses to ferry Command/Response
// envelopes (see internal/command). Every frame is a big-endian u32
// length followed by a 16-byte correlation id and then the payload bytes.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// correlationIDSize is the fixed width of the request correlation id
// prefix carried by every frame payload.
const correlationIDSize = 16

// maxFrameSize bounds the payload length a reader will accept before
// refusing to allocate a buffer for it. A length-prefixed channel fed by a
// misbehaving peer must not be able to force an unbounded allocation.
const maxFrameSize = 16 * 1024 * 1024 // 16 MiB

// InvalidFrameLength reports a frame whose declared length could not carry
// even the correlation id prefix, or whose declared length exceeds
// maxFrameSize.
type InvalidFrameLength struct {
	Declared uint32
}

func (e *InvalidFrameLength) Error() string {
	return fmt.Sprintf("wire: invalid frame length %d", e.Declared)
}

// Frame is one decoded length-prefixed frame: a correlation id binding a
// request to its eventual response, plus the opaque payload bytes that
// follow it (a binary-serialized Command or Response from internal/command).
type Frame struct {
	CorrelationID [correlationIDSize]byte
	Payload       []byte
}

// NewCorrelationID generates a fresh correlation id for an outbound
// request frame.
func NewCorrelationID() [correlationIDSize]byte {
	var id [correlationIDSize]byte
	u := uuid.New()
	copy(id[:], u[:])
	return id
}

// WriteFrame encodes f as a u32 big-endian length prefix, the correlation
// id, and the payload, and writes it to w in a single call so a concurrent
// writer on the same connection can never interleave a partial frame.
func WriteFrame(w io.Writer, f Frame) error {
	total := correlationIDSize + len(f.Payload)
	if total > maxFrameSize {
		return &InvalidFrameLength{Declared: uint32(total)}
	}

	buf := make([]byte, 4+total)
	binary.BigEndian.PutUint32(buf[0:4], uint32(total))
	copy(buf[4:4+correlationIDSize], f.CorrelationID[:])
	copy(buf[4+correlationIDSize:], f.Payload)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("wire: writing frame: %w", err)
	}
	return nil
}

// ReadFrame reads and decodes one length-prefixed frame from r. It reads
// exactly one frame's worth of bytes, so successive calls on the same
// stream decode successive frames.
func ReadFrame(r io.Reader) (Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Frame{}, fmt.Errorf("wire: reading length header: %w", err)
	}
	length := binary.BigEndian.Uint32(lenBuf[:])

	if length < correlationIDSize || length > maxFrameSize {
		return Frame{}, &InvalidFrameLength{Declared: length}
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, fmt.Errorf("wire: reading frame body: %w", err)
	}

	var f Frame
	copy(f.CorrelationID[:], body[:correlationIDSize])
	f.Payload = body[correlationIDSize:]
	return f, nil
}
