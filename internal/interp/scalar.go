package interp

import (
	"math"

	"github.com/processwarp/core/internal/process"
	"github.com/processwarp/core/internal/types"
	"github.com/processwarp/core/internal/vmem"
)

// basicTypeOf recovers the BasicTypeAddress payload from a PROGRAM-area
// type vaddr (the inverse of BasicTypeAddress.Addr).
func basicTypeOf(addr vmem.VAddr) types.BasicTypeAddress {
	const tagMask = uint64(0xF) << 60
	return types.BasicTypeAddress(uint64(addr) &^ tagMask)
}

// readInt reads addr's page as a little-endian integer, sign-extending
// from the page's actual byte width when signed is true (§4.2's
// TYPE_CAST semantics: "sign-extend signed, zero-extend otherwise").
func readInt(proc *process.Process, addr vmem.VAddr, signed bool) (int64, error) {
	b, err := proc.Memory.ReadBytes(addr)
	if err != nil {
		return 0, err
	}
	return decodeInt(b, signed), nil
}

func decodeInt(b []byte, signed bool) int64 {
	var u uint64
	for i := 0; i < len(b) && i < 8; i++ {
		u |= uint64(b[i]) << (8 * i)
	}
	width := len(b) * 8
	if signed && width > 0 && width < 64 {
		shift := 64 - uint(width)
		return int64(u<<shift) >> shift
	}
	return int64(u)
}

// writeInt overwrites addr's page with v, truncated to the page's
// existing allocated width.
func writeInt(proc *process.Process, addr vmem.VAddr, v int64) error {
	sz, err := proc.Memory.Size(addr)
	if err != nil {
		return err
	}
	b := make([]byte, sz)
	u := uint64(v)
	for i := 0; i < sz && i < 8; i++ {
		b[i] = byte(u >> (8 * i))
	}
	return proc.Memory.WriteBytes(addr, b)
}

// readFloat reads addr's page as an F32/F64 value per bit, widening to
// float64 for arithmetic. F128 is read as F64 (no native 128-bit float
// in Go).
func readFloat(proc *process.Process, addr vmem.VAddr, bits int) (float64, error) {
	b, err := proc.Memory.ReadBytes(addr)
	if err != nil {
		return 0, err
	}
	var u uint64
	for i := 0; i < len(b) && i < 8; i++ {
		u |= uint64(b[i]) << (8 * i)
	}
	if bits == 32 {
		return float64(math.Float32frombits(uint32(u))), nil
	}
	return math.Float64frombits(u), nil
}

func writeFloat(proc *process.Process, addr vmem.VAddr, v float64, bits int) error {
	sz, err := proc.Memory.Size(addr)
	if err != nil {
		return err
	}
	var u uint64
	if bits == 32 {
		u = uint64(math.Float32bits(float32(v)))
	} else {
		u = math.Float64bits(v)
	}
	b := make([]byte, sz)
	for i := 0; i < sz && i < 8; i++ {
		b[i] = byte(u >> (8 * i))
	}
	return proc.Memory.WriteBytes(addr, b)
}

// readScalar reads addr's page as whatever numeric kind typeAddr names,
// returning it boxed as float64 alongside whether it was floating point
// (so the caller's arithmetic picks the right path).
func readScalar(proc *process.Process, addr vmem.VAddr, typeAddr vmem.VAddr) (value float64, isFloat bool, err error) {
	bt := basicTypeOf(typeAddr)
	if bt.IsFloat() {
		f, err := readFloat(proc, addr, bt.BitWidth())
		return f, true, err
	}
	i, err := readInt(proc, addr, bt.IsSigned())
	return float64(i), false, err
}

func writeScalar(proc *process.Process, addr vmem.VAddr, typeAddr vmem.VAddr, value float64, isFloat bool) error {
	bt := basicTypeOf(typeAddr)
	if bt.IsFloat() || isFloat {
		return writeFloat(proc, addr, value, bt.BitWidth())
	}
	return writeInt(proc, addr, int64(value))
}

// boolByte renders a boolean into a fresh 1-byte allocation, the
// convention this interpreter uses for TEST/compare results (§4.2).
func (ip *Interpreter) boolByte(v bool) (vmem.VAddr, error) {
	addr := ip.Proc.Memory.Alloc(1)
	val := byte(0)
	if v {
		val = 1
	}
	if err := ip.Proc.Memory.WriteBytes(addr, []byte{val}); err != nil {
		return vmem.NULL, err
	}
	return addr, nil
}
