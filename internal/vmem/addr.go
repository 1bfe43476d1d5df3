// Package vmem implements the distributed virtual memory of spec.md
// §4.4: vaddr-keyed pages, single-writer/multi-reader coherence with
// ownership migration, and a size-classed allocator.
//
// Grounded on the teacher's device-port model (KTStephano-GVM
// vm/devices.go's StatusCode/port table — "a small fixed set of
// buckets addressed by a tag") generalized from hardware ports to
// heap size classes, and on original_source/src/core/definitions.hpp
// for the exact AddrType nibble values spec.md only describes
// qualitatively.
package vmem

import "github.com/processwarp/core/internal/wire"

// VAddr is a 64-bit opaque virtual address (spec.md §3). It is never a
// raw host pointer; all access goes through a Store.
type VAddr uint64

// NULL is the null virtual address.
const NULL VAddr = 0

// AddrType is the high-nibble tag distinguishing address areas.
type AddrType uint64

const (
	AddrMeta    AddrType = 0x0
	AddrValue08 AddrType = 0x1
	AddrValue16 AddrType = 0x2
	AddrValue24 AddrType = 0x3
	AddrValue32 AddrType = 0x4
	AddrValue40 AddrType = 0x5
	AddrValue48 AddrType = 0x6
	AddrProgram AddrType = 0xF
)

const addrTypeShift = 60

// Tag returns the AddrType nibble of a vaddr.
func (a VAddr) Tag() AddrType {
	return AddrType(uint64(a) >> addrTypeShift)
}

// WithTag builds a vaddr from a tag and the low 60 bits of payload.
func WithTag(t AddrType, payload uint64) VAddr {
	return VAddr(uint64(t)<<addrTypeShift | (payload &^ (uint64(0xF) << addrTypeShift)))
}

// sizeClassBounds lists the heap size classes in ascending order of
// their upper bound, matching spec.md §3/§8's boundary table:
// malloc(255)->08, malloc(256)->16, malloc(65535)->16, malloc(65536)->24.
var sizeClassBounds = []struct {
	tag   AddrType
	upper uint64 // inclusive upper bound of this class's request range
}{
	{AddrValue08, 255},
	{AddrValue16, 65535},
	{AddrValue24, 16777215},
	{AddrValue32, 4294967295},
	{AddrValue40, 1099511627775},
	{AddrValue48, 0xFFFFFFFFFFFFFFF}, // effectively unbounded within 60 payload bits
}

// SizeClassFor returns the smallest size class whose range covers a
// request of n bytes (§3, §4.4). A request of 0 is bucketed into the
// smallest class (§8 boundary: malloc(0) may return a unique 0-size
// vaddr).
func SizeClassFor(n uint64) AddrType {
	for _, c := range sizeClassBounds {
		if n <= c.upper {
			return c.tag
		}
	}
	return AddrValue48
}

// NodeID is an alias of wire.NodeID for readability within vmem.
type NodeID = wire.NodeID
