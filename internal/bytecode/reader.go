package bytecode

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrMalformed marks structurally invalid bytecode.
var ErrMalformed = errors.New("malformed module")

// reader decodes from a byte slice. Errors carry the absolute offset.
type reader struct {
	buf  []byte
	pos  int
	base int
}

func newReader(buf []byte, base int) *reader {
	return &reader{buf: buf, base: base}
}

func (r *reader) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: offset %d: %s", ErrMalformed, r.base+r.pos, fmt.Sprintf(format, args...))
}

func (r *reader) done() bool {
	return r.pos >= len(r.buf)
}

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, r.errorf("unexpected end")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) bytes(n uint32) ([]byte, error) {
	if uint64(r.pos)+uint64(n) > uint64(len(r.buf)) {
		return nil, r.errorf("need %d bytes, have %d", n, len(r.buf)-r.pos)
	}
	b := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}

func (r *reader) u32() (uint32, error) {
	var result uint32
	var shift uint
	for {
		b, err := r.byte()
		if err != nil {
			return 0, err
		}
		if shift == 28 && b&0x70 != 0 {
			return 0, r.errorf("u32 overflow")
		}
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift > 28 {
			return 0, r.errorf("u32 too long")
		}
	}
}

// sleb skips a signed LEB128 value of at most maxBits and returns it.
func (r *reader) sleb(maxBits uint) (int64, error) {
	var result int64
	var shift uint
	for {
		b, err := r.byte()
		if err != nil {
			return 0, err
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				result |= -1 << shift
			}
			return result, nil
		}
		if shift >= maxBits {
			return 0, r.errorf("signed LEB128 too long")
		}
	}
}

func (r *reader) name() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	b, err := r.bytes(n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", r.errorf("invalid UTF-8 name")
	}
	return string(b), nil
}

func (r *reader) valType() (ValType, error) {
	b, err := r.byte()
	if err != nil {
		return 0, err
	}
	if !validValType(b) {
		return 0, r.errorf("invalid value type 0x%02x", b)
	}
	return ValType(b), nil
}

func (r *reader) limits() (Limits, error) {
	flag, err := r.byte()
	if err != nil {
		return Limits{}, err
	}
	var l Limits
	switch flag {
	case 0x00:
	case 0x01:
		l.HasMax = true
	case 0x02, 0x03:
		l.Shared = true
		l.HasMax = flag == 0x03
	default:
		return Limits{}, r.errorf("invalid limits flag 0x%02x", flag)
	}
	if l.Min, err = r.u32(); err != nil {
		return Limits{}, err
	}
	if l.HasMax {
		if l.Max, err = r.u32(); err != nil {
			return Limits{}, err
		}
	}
	return l, nil
}
