package process

import (
	"github.com/processwarp/core/internal/perror"
	"github.com/processwarp/core/internal/vmem"
	"github.com/processwarp/core/internal/wire"
)

// Process is §3's Process record: the root thread's termination ends
// the process.
type Process struct {
	PID      wire.PID
	RootTID  TID
	ProcAddr vmem.VAddr

	Threads      map[TID]*Thread
	BuiltinAddrs map[vmem.VAddr]struct{}

	// Memory is this node's VMEM view for the process (§3: "proc_memory:
	// VMEM view"). Process is the sole owner of the arena; StackFrames
	// only ever hold vaddrs into it (§9 Design Notes).
	Memory *vmem.Store

	MasterNID wire.NodeID
}

// NewProcess creates an empty process rooted at rootTID, owning memory.
func NewProcess(pid wire.PID, rootTID TID, procAddr vmem.VAddr, memory *vmem.Store, masterNID wire.NodeID) *Process {
	return &Process{
		PID:          pid,
		RootTID:      rootTID,
		ProcAddr:     procAddr,
		Threads:      make(map[TID]*Thread),
		BuiltinAddrs: make(map[vmem.VAddr]struct{}),
		Memory:       memory,
		MasterNID:    masterNID,
	}
}

// AddThread registers a new thread with the process.
func (p *Process) AddThread(t *Thread) {
	p.Threads[t.TID] = t
}

// RemoveThread drops a thread after it terminates or warps away.
func (p *Process) RemoveThread(tid TID) {
	delete(p.Threads, tid)
}

// RootAlive reports whether the root thread is still present; when it
// is not, the process has ended (§3: "root thread's termination ends
// the process").
func (p *Process) RootAlive() bool {
	_, ok := p.Threads[p.RootTID]
	return ok
}

// FreeFrame reclaims a popped frame's Stack page and every AllocaAddrs
// page (§3 invariant; RETURN, longjmp, exit all funnel through this).
func (p *Process) FreeFrame(f *StackFrame) error {
	if f == nil {
		return nil
	}
	if err := p.Memory.Free(f.Stack); err != nil {
		return perror.Wrap(perror.Memory, "process: free frame stack", err)
	}
	for _, addr := range f.AllocaAddrs {
		if err := p.Memory.Free(addr); err != nil {
			return perror.Wrap(perror.Memory, "process: free alloca", err)
		}
	}
	f.AllocaAddrs = nil
	return nil
}

// UnwindTo pops frames from t until only keep frames remain, freeing
// each popped frame's pages. Used by exit() (keep=1, the bottom frame)
// and longjmp() (keep=env.StackCount).
func (p *Process) UnwindTo(t *Thread, keep uint64) error {
	for t.Depth() > keep {
		f := t.PopFrame()
		if err := p.FreeFrame(f); err != nil {
			return err
		}
	}
	return nil
}
