/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package bytereader is the leaves-first component 1 of // system overview: a positioned cursor over an immutable byte buffer
// producing big-endian integers and relative offsets. Grounded in the
// jacobin's classloader/parserUtils.go (intFrom2Bytes/intFrom4Bytes)
// and generalised into a cursor type so the class-file decoder,
// the interpreter's code stream, and the CFG scanner can all share it.
package bytereader

import "github.com/pkg/errors"

// Reader is a cursor over an immutable byte slice.
type Reader struct {
	buf []byte
	pos int
}

// New wraps buf in a Reader positioned at offset 0.
func New(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Len returns the total buffer length.
func (r *Reader) Len() int { return len(r.buf) }

// Pos returns the current cursor offset.
func (r *Reader) Pos() int { return r.pos }

// SetPos repositions the cursor, used by the interpreter to implement
// branch instructions and by the decoder to skip over attribute blobs
// it doesn't need to interpret.
func (r *Reader) SetPos(p int) { r.pos = p }

// Remaining reports how many bytes are left unread.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

func (r *Reader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return errors.Errorf("byte reader: need %d bytes at offset %d, have %d", n, r.pos, len(r.buf)-r.pos)
	}
	return nil
}

// U1 reads one unsigned byte and advances the cursor.
func (r *Reader) U1() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// S1 reads one signed byte.
func (r *Reader) S1() (int8, error) {
	b, err := r.U1()
	return int8(b), err
}

// U2 reads a big-endian unsigned 16-bit value.
func (r *Reader) U2() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := uint16(r.buf[r.pos])<<8 | uint16(r.buf[r.pos+1])
	r.pos += 2
	return v, nil
}

// S2 reads a big-endian signed 16-bit value (used by branch offsets).
func (r *Reader) S2() (int16, error) {
	v, err := r.U2()
	return int16(v), err
}

// U4 reads a big-endian unsigned 32-bit value.
func (r *Reader) U4() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := uint32(r.buf[r.pos])<<24 | uint32(r.buf[r.pos+1])<<16 |
		uint32(r.buf[r.pos+2])<<8 | uint32(r.buf[r.pos+3])
	r.pos += 4
	return v, nil
}

// S4 reads a big-endian signed 32-bit value (used by goto_w/jsr_w and
// lookupswitch/tableswitch offsets).
func (r *Reader) S4() (int32, error) {
	v, err := r.U4()
	return int32(v), err
}

// U8 reads a big-endian unsigned 64-bit value (long/double constants).
func (r *Reader) U8() (uint64, error) {
	hi, err := r.U4()
	if err != nil {
		return 0, err
	}
	lo, err := r.U4()
	if err != nil {
		return 0, err
	}
	return uint64(hi)<<32 | uint64(lo), nil
}

// Bytes reads n raw bytes and advances past them.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// PadTo4 skips forward to the next 4-byte boundary measured from
// origin.
func (r *Reader) PadTo4(origin int) {
	off := r.pos - origin
	pad := (4 - off%4) % 4
	r.pos += pad
}
