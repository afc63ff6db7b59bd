// Package wire implements the canonical binary codec used for signing and
// hashing settlement entities. Encoding is deterministic across processes
// and implementations: fixed field order per entity, big-endian fixed-width
// integers, length-prefixed UTF-8 strings, tagged optionals and fixed-scale
// decimal strings. No map types ever reach the encoder.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/ROks-fin/Deltran-MVP-sub002/money"
	"github.com/google/uuid"
)

// ErrCorruptEncoding describes canonical bytes that do not decode cleanly.
var ErrCorruptEncoding = errors.New("corrupt canonical encoding")

// maxStringLen bounds a length prefix so a corrupt stream cannot drive an
// allocation of arbitrary size.
const maxStringLen = 1 << 20

// Encoder accumulates the canonical byte representation of an entity.
// Methods never fail; the buffer grows as needed.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an encoder with a small preallocated buffer.
func NewEncoder() *Encoder {
	return &Encoder{buf: make([]byte, 0, 256)}
}

// Bytes returns the accumulated canonical bytes.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// WriteU8 appends a single byte.
func (e *Encoder) WriteU8(v uint8) {
	e.buf = append(e.buf, v)
}

// WriteU32 appends a big-endian uint32.
func (e *Encoder) WriteU32(v uint32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, v)
}

// WriteU64 appends a big-endian uint64.
func (e *Encoder) WriteU64(v uint64) {
	e.buf = binary.BigEndian.AppendUint64(e.buf, v)
}

// WriteI64 appends a big-endian int64 in two's complement.
func (e *Encoder) WriteI64(v int64) {
	e.buf = binary.BigEndian.AppendUint64(e.buf, uint64(v))
}

// WriteString appends a u32 length prefix followed by the UTF-8 bytes.
func (e *Encoder) WriteString(s string) {
	e.WriteU32(uint32(len(s)))
	e.buf = append(e.buf, s...)
}

// WriteBytes appends a u32 length prefix followed by raw bytes.
func (e *Encoder) WriteBytes(b []byte) {
	e.WriteU32(uint32(len(b)))
	e.buf = append(e.buf, b...)
}

// WriteHash32 appends exactly 32 bytes with no length prefix.
func (e *Encoder) WriteHash32(h [32]byte) {
	e.buf = append(e.buf, h[:]...)
}

// WriteUUID appends the 16 raw bytes of a UUID with no length prefix.
func (e *Encoder) WriteUUID(id uuid.UUID) {
	e.buf = append(e.buf, id[:]...)
}

// WriteBool appends 0x00 or 0x01.
func (e *Encoder) WriteBool(v bool) {
	if v {
		e.WriteU8(1)
	} else {
		e.WriteU8(0)
	}
}

// WriteOptionString appends a presence tag, then the string when present.
func (e *Encoder) WriteOptionString(s *string) {
	if s == nil {
		e.WriteU8(0)
		return
	}
	e.WriteU8(1)
	e.WriteString(*s)
}

// WriteOptionUUID appends a presence tag, then the UUID when present.
func (e *Encoder) WriteOptionUUID(id *uuid.UUID) {
	if id == nil {
		e.WriteU8(0)
		return
	}
	e.WriteU8(1)
	e.WriteUUID(*id)
}

// WriteAmount appends the fixed-scale canonical decimal string of a.
func (e *Encoder) WriteAmount(a money.Amount) {
	e.WriteString(a.Canonical())
}

// Decoder consumes canonical bytes produced by an Encoder. All reads validate
// remaining length and return ErrCorruptEncoding (wrapped) on underflow.
type Decoder struct {
	buf []byte
	off int
}

// NewDecoder wraps the given canonical bytes.
func NewDecoder(b []byte) *Decoder {
	return &Decoder{buf: b}
}

// Remaining reports how many undecoded bytes are left.
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.off
}

// Finish verifies the decoder consumed every byte.
func (d *Decoder) Finish() error {
	if d.off != len(d.buf) {
		return fmt.Errorf("%w: %d trailing bytes", ErrCorruptEncoding, len(d.buf)-d.off)
	}
	return nil
}

func (d *Decoder) take(n int) ([]byte, error) {
	if d.Remaining() < n {
		return nil, fmt.Errorf("%w: want %d bytes, have %d: %v",
			ErrCorruptEncoding, n, d.Remaining(), io.ErrUnexpectedEOF)
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

// ReadU8 reads a single byte.
func (d *Decoder) ReadU8() (uint8, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadU32 reads a big-endian uint32.
func (d *Decoder) ReadU32() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// ReadU64 reads a big-endian uint64.
func (d *Decoder) ReadU64() (uint64, error) {
	b, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// ReadI64 reads a big-endian int64.
func (d *Decoder) ReadI64() (int64, error) {
	v, err := d.ReadU64()
	return int64(v), err
}

// ReadString reads a u32 length prefix and the following UTF-8 bytes.
func (d *Decoder) ReadString() (string, error) {
	n, err := d.ReadU32()
	if err != nil {
		return "", err
	}
	if n > maxStringLen {
		return "", fmt.Errorf("%w: string length %d exceeds limit", ErrCorruptEncoding, n)
	}
	b, err := d.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadBytes reads a u32 length prefix and the following raw bytes.
func (d *Decoder) ReadBytes() ([]byte, error) {
	n, err := d.ReadU32()
	if err != nil {
		return nil, err
	}
	if n > maxStringLen {
		return nil, fmt.Errorf("%w: byte length %d exceeds limit", ErrCorruptEncoding, n)
	}
	b, err := d.take(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// ReadHash32 reads exactly 32 bytes.
func (d *Decoder) ReadHash32() ([32]byte, error) {
	var h [32]byte
	b, err := d.take(32)
	if err != nil {
		return h, err
	}
	copy(h[:], b)
	return h, nil
}

// ReadUUID reads the 16 raw bytes of a UUID.
func (d *Decoder) ReadUUID() (uuid.UUID, error) {
	var id uuid.UUID
	b, err := d.take(16)
	if err != nil {
		return id, err
	}
	copy(id[:], b)
	return id, nil
}

// ReadBool reads a presence byte, rejecting anything but 0x00/0x01.
func (d *Decoder) ReadBool() (bool, error) {
	v, err := d.ReadU8()
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: bool tag 0x%02x", ErrCorruptEncoding, v)
	}
}

// ReadOptionString reads a tagged optional string.
func (d *Decoder) ReadOptionString() (*string, error) {
	present, err := d.ReadBool()
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	s, err := d.ReadString()
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ReadOptionUUID reads a tagged optional UUID.
func (d *Decoder) ReadOptionUUID() (*uuid.UUID, error) {
	present, err := d.ReadBool()
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	id, err := d.ReadUUID()
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// ReadAmount reads a fixed-scale decimal string.
func (d *Decoder) ReadAmount() (money.Amount, error) {
	s, err := d.ReadString()
	if err != nil {
		return money.Zero, err
	}
	a, err := money.Parse(s)
	if err != nil {
		return money.Zero, fmt.Errorf("%w: %v", ErrCorruptEncoding, err)
	}
	return a, nil
}
