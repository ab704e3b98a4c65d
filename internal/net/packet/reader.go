package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"golang.org/x/text/unicode/norm"
)

// ErrShortPacket is reported by Reader.Err when a field ran past the payload.
var ErrShortPacket = errors.New("short packet")

// Reader decodes the fields of one control payload. Byte 0 is the opcode.
//
// A read past the end returns the zero value and latches an error, so a
// handler can read every field and check Err once.
type Reader struct {
	data []byte
	off  int
	err  error
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data, off: 1}
}

func (r *Reader) Opcode() byte {
	if len(r.data) == 0 {
		return 0
	}
	return r.data[0]
}

// Err returns the first short read, if any.
func (r *Reader) Err() error { return r.err }

// take returns the next n bytes, or nil after latching ErrShortPacket.
func (r *Reader) take(n int, field string) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.data) {
		r.err = fmt.Errorf("%w: %s at offset %d", ErrShortPacket, field, r.off)
		r.off = len(r.data)
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) ReadC() byte {
	if b := r.take(1, "byte"); b != nil {
		return b[0]
	}
	return 0
}

func (r *Reader) ReadBool() bool { return r.ReadC() != 0 }

func (r *Reader) ReadH() uint16 {
	if b := r.take(2, "uint16"); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *Reader) ReadD() int32 {
	if b := r.take(4, "int32"); b != nil {
		return int32(binary.LittleEndian.Uint32(b))
	}
	return 0
}

func (r *Reader) ReadQ() uint64 {
	if b := r.take(8, "uint64"); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

// ReadMillis reads a D field of milliseconds.
func (r *Reader) ReadMillis() time.Duration {
	return time.Duration(r.ReadD()) * time.Millisecond
}

// ReadS reads a NUL-terminated string and returns it in NFC form, so names
// typed on different clients compare equal. A missing terminator is a short
// read.
func (r *Reader) ReadS() string {
	if r.err != nil {
		return ""
	}
	for i := r.off; i < len(r.data); i++ {
		if r.data[i] == 0 {
			s := norm.NFC.String(string(r.data[r.off:i]))
			r.off = i + 1
			return s
		}
	}
	r.take(len(r.data)-r.off+1, "string")
	return ""
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}
