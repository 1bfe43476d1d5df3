package interp

import (
	"encoding/binary"
	"testing"

	"github.com/processwarp/core/internal/builtin"
	"github.com/processwarp/core/internal/instr"
	"github.com/processwarp/core/internal/process"
	"github.com/processwarp/core/internal/types"
	"github.com/processwarp/core/internal/vmem"
	"github.com/processwarp/core/internal/wire"
)

func constU32(t *testing.T, proc *process.Process, v uint32) vmem.VAddr {
	t.Helper()
	addr := proc.Memory.Alloc(4)
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	if err := proc.Memory.WriteBytes(addr, b); err != nil {
		t.Fatalf("seed constant: %v", err)
	}
	return addr
}

func packConst(op instr.Opcode, idx uint32) uint32 {
	return uint32(instr.Pack(op, 0, idx|instr.HeadOperand))
}

func packStack(op instr.Opcode, idx uint32) uint32 {
	return uint32(instr.Pack(op, 0, idx))
}

// TestAddSumsTwoConstants walks a hand-assembled function through
// SET_TYPE/SET_OUTPUT/SET_VALUE/SET/ADD/RETURN and checks that the sum
// lands in the caller's Output slot the way RETURN's value-forwarding
// contract promises (§3, §4.2).
func TestAddSumsTwoConstants(t *testing.T) {
	mem := vmem.NewStore("nodeA", nil)
	proc := process.NewProcess(wire.PID("pid-1"), 1, vmem.NULL, mem, wire.NodeID("nodeA"))
	th := process.NewThread(1)
	proc.AddThread(th)

	program := NewProgram()
	addFn := &types.Function{Kind: types.FuncNormal}
	addFn.Constants = []vmem.VAddr{
		types.UI32.Addr(),
		constU32(t, proc, 5),
		constU32(t, proc, 7),
	}
	addFn.Code = []uint32{
		packConst(instr.SET_TYPE, 0),
		packStack(instr.SET_OUTPUT, 0),
		packConst(instr.SET_VALUE, 1),
		packConst(instr.SET, 2),
		packStack(instr.ADD, 0),
		packStack(instr.RETURN, 0),
	}
	addFnAddr := vmem.WithTag(vmem.AddrProgram, 100)
	program.Functions[addFnAddr] = addFn

	mainFn := &types.Function{Kind: types.FuncNormal}
	mainFnAddr := vmem.WithTag(vmem.AddrProgram, 101)
	program.Functions[mainFnAddr] = mainFn

	mainFrame := &process.StackFrame{FuncAddr: mainFnAddr, Stack: proc.Memory.Alloc(DefaultFrameStackSize)}
	addFrame := &process.StackFrame{FuncAddr: addFnAddr, Stack: proc.Memory.Alloc(DefaultFrameStackSize)}
	th.PushFrame(mainFrame)
	th.PushFrame(addFrame)

	ip := New(proc, program, builtin.NewRegistry(), 0)
	for i := 0; i < len(addFn.Code); i++ {
		if _, err := ip.step(th); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	if th.Current() != mainFrame {
		t.Fatalf("expected control back in mainFrame after RETURN")
	}
	got, err := proc.Memory.ReadBytes(mainFrame.Output)
	if err != nil {
		t.Fatalf("ReadBytes(mainFrame.Output): %v", err)
	}
	if sum := binary.LittleEndian.Uint32(got); sum != 12 {
		t.Fatalf("got sum %d, want 12", sum)
	}
}

// TestAllocaStoreLoadRoundTrip exercises ALLOCA, STORE, and LOAD against
// the same address (§4.2's addressing opcodes).
func TestAllocaStoreLoadRoundTrip(t *testing.T) {
	mem := vmem.NewStore("nodeA", nil)
	proc := process.NewProcess(wire.PID("pid-1"), 1, vmem.NULL, mem, wire.NodeID("nodeA"))
	th := process.NewThread(1)
	proc.AddThread(th)

	program := NewProgram()
	fn := &types.Function{Kind: types.FuncNormal}
	fn.Constants = []vmem.VAddr{
		types.UI32.Addr(),
		constU32(t, proc, 99),
	}
	fn.Code = []uint32{
		packConst(instr.SET_TYPE, 0), // f.Type = UI32
		packStack(instr.ALLOCA, 0),   // slot0 = alloca(4); f.Address = it
		packConst(instr.STORE, 1),    // *f.Address = constants[1] (99)
		packStack(instr.LOAD, 1),     // slot1 = load(*f.Address); f.Output = it
	}
	fnAddr := vmem.WithTag(vmem.AddrProgram, 200)
	program.Functions[fnAddr] = fn

	frame := &process.StackFrame{FuncAddr: fnAddr, Stack: proc.Memory.Alloc(DefaultFrameStackSize)}
	th.PushFrame(frame)

	ip := New(proc, program, builtin.NewRegistry(), 0)
	for i := 0; i < len(fn.Code); i++ {
		if _, err := ip.step(th); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	got, err := proc.Memory.ReadBytes(frame.Output)
	if err != nil {
		t.Fatalf("ReadBytes(frame.Output): %v", err)
	}
	if v := binary.LittleEndian.Uint32(got); v != 99 {
		t.Fatalf("got %d, want 99", v)
	}
}

// TestCmpxchgSucceedsWhenOwnedAndMatching exercises the owner+match
// path of CMPXCHG (§4.2): the target page is one this node allocated
// (and therefore owns), so a matching expected value installs new and
// reports success via Output.
func TestCmpxchgSucceedsWhenOwnedAndMatching(t *testing.T) {
	mem := vmem.NewStore("nodeA", nil)
	proc := process.NewProcess(wire.PID("pid-1"), 1, vmem.NULL, mem, wire.NodeID("nodeA"))
	th := process.NewThread(1)
	proc.AddThread(th)

	target := proc.Memory.Alloc(4)
	if err := proc.Memory.WriteBytes(target, []byte{99, 0, 0, 0}); err != nil {
		t.Fatalf("seed target: %v", err)
	}

	program := NewProgram()
	fn := &types.Function{Kind: types.FuncNormal}
	fn.Constants = []vmem.VAddr{
		types.UI32.Addr(),
		target,
		constU32(t, proc, 99),
		constU32(t, proc, 123),
	}
	fn.Code = []uint32{
		packConst(instr.SET_TYPE, 0),
		packConst(instr.SET, 1),
		packConst(instr.SET_VALUE, 2),
		packConst(instr.CMPXCHG, 3),
	}
	fnAddr := vmem.WithTag(vmem.AddrProgram, 300)
	program.Functions[fnAddr] = fn

	frame := &process.StackFrame{FuncAddr: fnAddr, Stack: proc.Memory.Alloc(DefaultFrameStackSize)}
	th.PushFrame(frame)

	ip := New(proc, program, builtin.NewRegistry(), 0)
	for i := 0; i < len(fn.Code); i++ {
		if _, err := ip.step(th); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	outcome, err := proc.Memory.ReadBytes(frame.Output)
	if err != nil {
		t.Fatalf("ReadBytes(frame.Output): %v", err)
	}
	if outcome[0] != 1 {
		t.Fatalf("expected CMPXCHG to report success, got %v", outcome)
	}
	got, err := proc.Memory.ReadBytes(target)
	if err != nil {
		t.Fatalf("ReadBytes(target): %v", err)
	}
	if v := binary.LittleEndian.Uint32(got); v != 123 {
		t.Fatalf("expected target overwritten with 123, got %d", v)
	}
}

// TestCmpxchgFailsWhenNotOwner exercises the non-owner path of CMPXCHG
// (§4.2): a page installed here as a reader copy (owner is some other
// node) must report failure via Output without touching the bytes or
// blocking on a fault.
func TestCmpxchgFailsWhenNotOwner(t *testing.T) {
	mem := vmem.NewStore("nodeA", nil)
	proc := process.NewProcess(wire.PID("pid-1"), 1, vmem.NULL, mem, wire.NodeID("nodeA"))
	th := process.NewThread(1)
	proc.AddThread(th)

	target := vmem.WithTag(vmem.AddrValue08, 1)
	mem.OnGive(target, []byte{99, 0, 0, 0}, "nodeB", nil, false)

	program := NewProgram()
	fn := &types.Function{Kind: types.FuncNormal}
	fn.Constants = []vmem.VAddr{
		types.UI32.Addr(),
		target,
		constU32(t, proc, 99),
		constU32(t, proc, 123),
	}
	fn.Code = []uint32{
		packConst(instr.SET_TYPE, 0),
		packConst(instr.SET, 1),
		packConst(instr.SET_VALUE, 2),
		packConst(instr.CMPXCHG, 3),
	}
	fnAddr := vmem.WithTag(vmem.AddrProgram, 301)
	program.Functions[fnAddr] = fn

	frame := &process.StackFrame{FuncAddr: fnAddr, Stack: proc.Memory.Alloc(DefaultFrameStackSize)}
	th.PushFrame(frame)

	ip := New(proc, program, builtin.NewRegistry(), 0)
	for i := 0; i < len(fn.Code); i++ {
		if _, err := ip.step(th); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	outcome, err := proc.Memory.ReadBytes(frame.Output)
	if err != nil {
		t.Fatalf("ReadBytes(frame.Output): %v", err)
	}
	if outcome[0] != 0 {
		t.Fatalf("expected CMPXCHG to report failure for a non-owned page, got %v", outcome)
	}
	got, err := proc.Memory.ReadBytes(target)
	if err != nil {
		t.Fatalf("ReadBytes(target): %v", err)
	}
	if v := binary.LittleEndian.Uint32(got); v != 99 {
		t.Fatalf("expected non-owned page left untouched, got %d", v)
	}
}
