package process

import (
	"testing"

	"github.com/processwarp/core/internal/vmem"
)

func TestFrameStackIsLIFO(t *testing.T) {
	mem := vmem.NewStore("nodeA", nil)
	proc := NewProcess("pid-1", 1, vmem.NULL, mem, "nodeA")
	th := NewThread(1)
	proc.AddThread(th)

	f1 := &StackFrame{Stack: mem.Alloc(64)}
	f2 := &StackFrame{Stack: mem.Alloc(64)}
	th.PushFrame(f1)
	th.PushFrame(f2)

	if th.Current() != f2 {
		t.Fatalf("expected top frame to be f2")
	}
	popped := th.PopFrame()
	if popped != f2 {
		t.Fatalf("expected LIFO pop order to return f2 first")
	}
	if th.Current() != f1 {
		t.Fatalf("expected f1 to remain after popping f2")
	}
}

func TestFreeFrameReclaimsStackAndAlloca(t *testing.T) {
	mem := vmem.NewStore("nodeA", nil)
	proc := NewProcess("pid-1", 1, vmem.NULL, mem, "nodeA")

	stack := mem.Alloc(64)
	alloc1 := mem.Alloc(16)
	alloc2 := mem.Alloc(32)
	f := &StackFrame{Stack: stack, AllocaAddrs: []vmem.VAddr{alloc1, alloc2}}

	if err := proc.FreeFrame(f); err != nil {
		t.Fatalf("FreeFrame: %v", err)
	}
	for _, addr := range []vmem.VAddr{stack, alloc1, alloc2} {
		if mem.Resident(addr) {
			t.Fatalf("expected %#x to be freed", addr)
		}
	}
}

func TestUnwindToStopsAtBottomFrame(t *testing.T) {
	mem := vmem.NewStore("nodeA", nil)
	proc := NewProcess("pid-1", 1, vmem.NULL, mem, "nodeA")
	th := NewThread(1)

	for i := 0; i < 3; i++ {
		th.PushFrame(&StackFrame{Stack: mem.Alloc(64)})
	}
	if err := proc.UnwindTo(th, 1); err != nil {
		t.Fatalf("UnwindTo: %v", err)
	}
	if th.Depth() != 1 {
		t.Fatalf("expected depth 1 after unwind, got %d", th.Depth())
	}
}

func TestSetjmpLongjmpRestoresSlots(t *testing.T) {
	f := &StackFrame{PC: 10, Phi0: 1, Phi1: 2, Value: vmem.WithTag(vmem.AddrValue08, 5)}
	env := f.Snapshot(3, vmem.WithTag(vmem.AddrValue08, 99))

	// Mutate the frame as if execution continued past the setjmp call.
	f.PC = 50
	f.Value = vmem.WithTag(vmem.AddrValue08, 777)

	f.Restore(env)
	if f.PC != 10 || f.Value != vmem.WithTag(vmem.AddrValue08, 5) {
		t.Fatalf("Restore did not reproduce the setjmp snapshot: %+v", f)
	}
	if env.StackCount != 3 {
		t.Fatalf("expected snapshot stack count 3, got %d", env.StackCount)
	}
}
