// Package process implements the Process/Thread/StackFrame model of
// spec.md §3: a process owns threads, each thread owns a LIFO of
// frames, and frames hold the interpreter's per-call working registers.
//
// Grounded on the teacher's flat register-file model (KTStephano-GVM
// vm/vm.go's VM.registers / vm.stack), generalized from "one global
// register file" to "per-frame addressed slots in a LIFO of frames",
// per spec.md §3.
package process

import "github.com/processwarp/core/internal/vmem"

// JoinState is Thread.join_state from spec.md §3.
type JoinState int

const (
	JoinNone JoinState = iota
	JoinRoot
	JoinDetached
	// JoinWaiting means another thread (JoinWaitTID) is blocked in
	// join() on this one.
	JoinWaiting
)

// Status is a thread's lifecycle state.
type Status int

const (
	StatusRunning Status = iota
	StatusPassive // warp in progress: thread marked passive per §4.5 step 2
	StatusTerminated
)

// StackFrame is a per-call activation record (§3). Frames hold vaddrs,
// not owning handles, into the process's VMEM arena (§9 Design Notes:
// "avoid ownership cycles by making Process the sole owner... frames
// hold vaddrs").
type StackFrame struct {
	PC uint64

	// Phi0/Phi1 hold the pc just past the last and the second-to-last
	// JUMP/INDIRECT_JUMP taken in this frame (§4.2). PHI does not read
	// them; it moves its own operand into Output.
	Phi0 uint64
	Phi1 uint64

	// Working register slots (§4.2's register-slot model).
	Type      vmem.VAddr
	Output    vmem.VAddr
	Value     vmem.VAddr
	Address   vmem.VAddr
	Alignment uint64
	// AddressOffset is the byte offset within Address's page that
	// ADD_ADR/MUL_ADR accumulate and LOAD/STORE/CMPXCHG consult, since a
	// vaddr only ever names a whole allocation (§9 Design Notes: one
	// page per allocation, so pointer arithmetic across allocations has
	// no meaning — only within one).
	AddressOffset uint64

	// Stack is this frame's own stack page, freed when the frame pops.
	Stack vmem.VAddr
	// AllocaAddrs are pages allocated by ALLOCA in this frame,
	// reclaimed by RETURN alongside Stack (§3, §4.2 invariant).
	AllocaAddrs []vmem.VAddr

	// FuncAddr is the PROGRAM address of the function this frame is
	// executing, needed to resolve constant-pool operands.
	FuncAddr vmem.VAddr
}

// RecordAlloca appends an address to this frame's alloca list so
// RETURN reclaims it.
func (f *StackFrame) RecordAlloca(addr vmem.VAddr) {
	f.AllocaAddrs = append(f.AllocaAddrs, addr)
}

// SetjmpEnv is the snapshot written by the setjmp() built-in (§4.3),
// laid out in the field order original_source/src/builtin_libc.cpp
// uses so a Go-native setjmp/longjmp pair matches the documented
// semantics exactly where spec.md itself is silent on field order.
type SetjmpEnv struct {
	StackCount uint64
	RetAddr    vmem.VAddr
	PC         uint64
	Phi0, Phi1 uint64
	Type       vmem.VAddr
	Alignment  uint64
	Output     vmem.VAddr
	Value      vmem.VAddr
	Address    vmem.VAddr
}

// Snapshot captures this frame's slots into a SetjmpEnv, stackCount
// being the caller's current stackinfos depth (including this frame).
func (f *StackFrame) Snapshot(stackCount uint64, retAddr vmem.VAddr) SetjmpEnv {
	return SetjmpEnv{
		StackCount: stackCount,
		RetAddr:    retAddr,
		PC:         f.PC,
		Phi0:       f.Phi0,
		Phi1:       f.Phi1,
		Type:       f.Type,
		Alignment:  f.Alignment,
		Output:     f.Output,
		Value:      f.Value,
		Address:    f.Address,
	}
}

// Restore overwrites this frame's slots from a SetjmpEnv (longjmp, §4.3).
// PC is set to env.PC: the env already stores pc+1 from the setjmp call
// site, per §4.3's documented layout.
func (f *StackFrame) Restore(env SetjmpEnv) {
	f.PC = env.PC
	f.Phi0 = env.Phi0
	f.Phi1 = env.Phi1
	f.Type = env.Type
	f.Alignment = env.Alignment
	f.Output = env.Output
	f.Value = env.Value
	f.Address = env.Address
}
