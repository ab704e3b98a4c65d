package net

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// A control frame is a little-endian uint16 length, counting itself, followed
// by the payload. Payload byte 0 is the opcode.
const (
	headerLen  = 2
	MaxPayload = 1<<16 - 1 - headerLen
)

// ErrFrameSize rejects empty or oversized frames in both directions.
var ErrFrameSize = errors.New("invalid frame size")

// ReadFrame reads one frame from r and returns its payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}
	n := int(binary.LittleEndian.Uint16(hdr[:])) - headerLen
	if n <= 0 {
		return nil, fmt.Errorf("%w: header says %d", ErrFrameSize, n+headerLen)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload (%d bytes): %w", n, err)
	}
	return payload, nil
}

// WriteFrame writes payload as one frame with a single Write, so concurrent
// writers on a connection never interleave a header and a body.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) == 0 || len(payload) > MaxPayload {
		return fmt.Errorf("%w: %d byte payload", ErrFrameSize, len(payload))
	}
	buf := binary.LittleEndian.AppendUint16(make([]byte, 0, headerLen+len(payload)), uint16(headerLen+len(payload)))
	if _, err := w.Write(append(buf, payload...)); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
