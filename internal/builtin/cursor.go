// Package builtin implements the libc/intrinsic registry of spec.md
// §4.3: name -> (fn, fixed-param), invoked by the interpreter with a
// raw argument buffer parsed left-to-right by a typed cursor.
//
// Grounded on the teacher's device-request parsing (KTStephano-GVM
// vm/devices.go's Request{ID, Command, Data} and its handler dispatch)
// for "read a raw byte buffer left-to-right by a typed reader",
// generalized from one hardware-port parser to a reusable cursor any
// built-in can drive, and cross-checked against
// original_source/src/builtin_libc.cpp for field order where spec.md
// is silent.
package builtin

import (
	"encoding/binary"

	"github.com/processwarp/core/internal/perror"
	"github.com/processwarp/core/internal/vmem"
)

// ArgCursor reads a built-in's raw argument buffer left-to-right. The
// cursor must consume the entire buffer; callers check this with Done.
type ArgCursor struct {
	buf []byte
	pos int
}

// NewArgCursor wraps a raw argument buffer for sequential reads.
func NewArgCursor(buf []byte) *ArgCursor {
	return &ArgCursor{buf: buf}
}

func (c *ArgCursor) take(n int) ([]byte, error) {
	if c.pos+n > len(c.buf) {
		return nil, perror.New(perror.Inst, "builtin: argument buffer underrun")
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// I8 reads one byte.
func (c *ArgCursor) I8() (int8, error) {
	b, err := c.take(1)
	if err != nil {
		return 0, err
	}
	return int8(b[0]), nil
}

// I16 reads a little-endian int16.
func (c *ArgCursor) I16() (int16, error) {
	b, err := c.take(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.LittleEndian.Uint16(b)), nil
}

// I32 reads a little-endian int32.
func (c *ArgCursor) I32() (int32, error) {
	b, err := c.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

// I64 reads a little-endian int64.
func (c *ArgCursor) I64() (int64, error) {
	b, err := c.take(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

// Ptr reads a vaddr (same width as I64; vaddrs are 64-bit per §3).
func (c *ArgCursor) Ptr() (vmem.VAddr, error) {
	v, err := c.I64()
	if err != nil {
		return vmem.NULL, err
	}
	return vmem.VAddr(uint64(v)), nil
}

// Done reports whether the cursor consumed the entire buffer, which
// spec.md §4.3 requires the caller to check.
func (c *ArgCursor) Done() bool { return c.pos == len(c.buf) }

// Remaining returns the count of unconsumed bytes, for diagnostics.
func (c *ArgCursor) Remaining() int { return len(c.buf) - c.pos }
