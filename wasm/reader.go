package wasm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrTruncated is returned when a binary ends in the middle of a construct.
var ErrTruncated = errors.New("wasm: unexpected end of binary")

// ErrOverflow is returned when a LEB128 value exceeds 32 bits.
var ErrOverflow = errors.New("wasm: leb128 overflow")

// reader walks a byte slice. The first failure sticks and later reads
// return zero values.
type reader struct {
	err error
	b   []byte
	off int
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *reader) done() bool {
	return r.err != nil || r.off >= len(r.b)
}

func (r *reader) byte() byte {
	if r.err != nil {
		return 0
	}
	if r.off >= len(r.b) {
		r.fail(ErrTruncated)
		return 0
	}
	b := r.b[r.off]
	r.off++
	return b
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.b) {
		r.fail(ErrTruncated)
		return nil
	}
	out := r.b[r.off : r.off+n]
	r.off += n
	return out
}

func (r *reader) u32() uint32 {
	var result uint32
	var shift uint
	for {
		b := r.byte()
		if r.err != nil {
			return 0
		}
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return result
		}
		shift += 7
		if shift >= 35 {
			r.fail(ErrOverflow)
			return 0
		}
	}
}

// skipLEB skips a LEB128 value of any width.
func (r *reader) skipLEB() {
	for {
		b := r.byte()
		if r.err != nil || b&0x80 == 0 {
			return
		}
	}
}

func (r *reader) name() string {
	n := r.u32()
	raw := r.take(int(n))
	if r.err != nil {
		return ""
	}
	if !utf8.Valid(raw) {
		r.fail(fmt.Errorf("wasm: invalid UTF-8 name at offset %d", r.off-len(raw)))
		return ""
	}
	return string(raw)
}

func (r *reader) header() {
	raw := r.take(8)
	if r.err != nil {
		return
	}
	if binary.LittleEndian.Uint32(raw[0:4]) != Magic {
		r.fail(errors.New("wasm: bad magic number"))
		return
	}
	if v := binary.LittleEndian.Uint32(raw[4:8]); v != Version {
		r.fail(fmt.Errorf("wasm: unsupported version %d", v))
	}
}

// limits skips table/memory limits.
func (r *reader) limits() {
	flags := r.byte()
	r.u32()
	if flags&0x01 != 0 {
		r.u32()
	}
}
