package process

import "github.com/processwarp/core/internal/vmem"

// TID identifies a thread within a process. 0 is ALL_THREAD, the
// broadcast sentinel (§3).
type TID uint32

// AllThread is the broadcast sentinel thread id.
const AllThread TID = 0

// Thread is §3's Thread record: a LIFO of StackFrames plus the
// atexit() handler stack and lifecycle state.
type Thread struct {
	TID       TID
	JoinState JoinState
	Status    Status

	// JoinWaitTID is populated when JoinState == JoinWaiting: the tid
	// blocked on this thread's completion.
	JoinWaitTID TID

	// Frames is the LIFO of StackFrame (§3 invariant: frames are a
	// LIFO; popping must free the frame's stack page and alloca pages).
	Frames []*StackFrame

	// CallsAtExit is pushed to by atexit() and popped in LIFO order by
	// PopAtExit (§4.3); exit() does not drain it.
	CallsAtExit []vmem.VAddr

	// killRequested is set by SCHEDULER:exit_thread and checked at
	// quantum boundaries (§5 Cancellation).
	killRequested bool
}

// NewThread creates a thread with no frames, ready for PushFrame.
func NewThread(tid TID) *Thread {
	return &Thread{TID: tid, JoinState: JoinNone, Status: StatusRunning}
}

// Current returns the top-of-stack frame, or nil if the thread has no
// frames (i.e. it has fully returned).
func (t *Thread) Current() *StackFrame {
	if len(t.Frames) == 0 {
		return nil
	}
	return t.Frames[len(t.Frames)-1]
}

// PushFrame pushes a new frame (CALL, §4.2).
func (t *Thread) PushFrame(f *StackFrame) {
	t.Frames = append(t.Frames, f)
}

// PopFrame pops the top frame and returns it so the caller (the
// interpreter) can free its Stack and AllocaAddrs pages. It does not
// free pages itself: process.Process owns the VMEM arena (§9 Design
// Notes), so freeing is the interpreter's job via process.FreeFrame.
func (t *Thread) PopFrame() *StackFrame {
	if len(t.Frames) == 0 {
		return nil
	}
	f := t.Frames[len(t.Frames)-1]
	t.Frames = t.Frames[:len(t.Frames)-1]
	return f
}

// Depth is the current frame-stack depth, used by setjmp/longjmp's
// stack_count bookkeeping.
func (t *Thread) Depth() uint64 {
	return uint64(len(t.Frames))
}

// PushAtExit records a handler for exit()'s LIFO callback order (§4.3).
func (t *Thread) PushAtExit(fn vmem.VAddr) {
	t.CallsAtExit = append(t.CallsAtExit, fn)
}

// PopAtExit pops the most recently registered atexit handler, or
// (NULL, false) once the list is drained.
func (t *Thread) PopAtExit() (vmem.VAddr, bool) {
	n := len(t.CallsAtExit)
	if n == 0 {
		return vmem.NULL, false
	}
	fn := t.CallsAtExit[n-1]
	t.CallsAtExit = t.CallsAtExit[:n-1]
	return fn, true
}

// RequestKill marks this thread for termination; the interpreter drains
// its frames at the next quantum boundary (§5 Cancellation).
func (t *Thread) RequestKill() { t.killRequested = true }

// KillRequested reports whether RequestKill was called.
func (t *Thread) KillRequested() bool { return t.killRequested }
