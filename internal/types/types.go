// Package types implements the Type & Value registry of spec.md §3/§6:
// primitive types, struct layouts, pointer and function types, all
// addressable at PROGRAM-area vaddrs.
//
// Grounded on the teacher's closed-enum-with-string-round-trip idiom
// (KTStephano-GVM vm/bytecode.go's strToInstrMap/instrToStrMap pair),
// applied here to primitive type identity instead of opcode identity.
package types

import "github.com/processwarp/core/internal/vmem"

// BasicTypeAddress enumerates the primitive type ids of spec.md §6.
// The payload is stored in a PROGRAM-tagged vaddr; the numeric value
// here is the payload, not the full vaddr.
type BasicTypeAddress uint64

const (
	Void     BasicTypeAddress = 0x01
	Pointer  BasicTypeAddress = 0x02
	Function BasicTypeAddress = 0x03

	UI8   BasicTypeAddress = 0x11
	UI16  BasicTypeAddress = 0x12
	UI32  BasicTypeAddress = 0x13
	UI64  BasicTypeAddress = 0x14
	UI128 BasicTypeAddress = 0x15
	UI256 BasicTypeAddress = 0x16
	UI512 BasicTypeAddress = 0x17

	SI8   BasicTypeAddress = 0x21
	SI16  BasicTypeAddress = 0x22
	SI32  BasicTypeAddress = 0x23
	SI64  BasicTypeAddress = 0x24
	SI128 BasicTypeAddress = 0x25
	SI256 BasicTypeAddress = 0x26
	SI512 BasicTypeAddress = 0x27

	F32  BasicTypeAddress = 0x32
	F64  BasicTypeAddress = 0x33
	F128 BasicTypeAddress = 0x35
)

// Addr renders a BasicTypeAddress into its PROGRAM-tagged vaddr.
func (b BasicTypeAddress) Addr() vmem.VAddr {
	return vmem.WithTag(vmem.AddrProgram, uint64(b))
}

// Kind discriminates the Type variant of §3.
type Kind int

const (
	KindBasic Kind = iota
	KindStruct
	KindArray
	KindVector
)

// Field is one member of a Struct type: its type address and byte
// offset within the struct.
type Field struct {
	TypeAddr vmem.VAddr
	Offset   uint64
}

// Type is the variant over Basic/Struct/Array/Vector from spec.md §3.
type Type struct {
	Kind Kind

	// KindBasic
	Primitive BasicTypeAddress

	// KindStruct
	Fields []Field

	// KindArray, KindVector
	ElemTypeAddr vmem.VAddr
	Count        uint64
}

// IsSigned reports whether a basic primitive is a signed integer type,
// used by TYPE_CAST/BIT_CAST width-widening (§4.2: sign-extend signed,
// zero-extend otherwise).
func (b BasicTypeAddress) IsSigned() bool {
	return b >= SI8 && b <= SI512
}

// IsFloat reports whether a basic primitive is a floating point type.
func (b BasicTypeAddress) IsFloat() bool {
	return b == F32 || b == F64 || b == F128
}

// BitWidth returns the bit width of a basic integer/float primitive,
// used to decide widening/narrowing during TYPE_CAST/BIT_CAST.
func (b BasicTypeAddress) BitWidth() int {
	switch b {
	case UI8, SI8:
		return 8
	case UI16, SI16:
		return 16
	case UI32, SI32, F32:
		return 32
	case UI64, SI64, F64:
		return 64
	case UI128, SI128, F128:
		return 128
	case UI256, SI256:
		return 256
	case UI512, SI512:
		return 512
	default:
		return 0
	}
}
