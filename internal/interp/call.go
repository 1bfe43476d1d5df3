package interp

import (
	"github.com/processwarp/core/internal/builtin"
	"github.com/processwarp/core/internal/instr"
	"github.com/processwarp/core/internal/perror"
	"github.com/processwarp/core/internal/process"
	"github.com/processwarp/core/internal/types"
	"github.com/processwarp/core/internal/vmem"
)

// execCall implements CALL and TAILCALL (§4.2, §4.3). The operand
// resolves to the callee's PROGRAM address. Normal functions get a
// fresh frame; Builtin/Native functions are dispatched straight
// through the registry without growing the frame stack, reading their
// raw argument bytes from the pre-staged buffer at f.Address (this
// core does not implement a full LLVM-style argument ABI — see
// DESIGN.md) and writing any result to f.Output.
//
// TAILCALL additionally discards the caller's own frame: for a Normal
// callee that happens before the push, so the call stack does not
// grow; for a built-in it happens after the call completes, with the
// result forwarded into the new top frame's Output the same way
// RETURN does.
func (ip *Interpreter) execCall(th *process.Thread, f *process.StackFrame, fn *types.Function, kind instr.OperandKind, idx uint64, tail bool) (StepResult, error) {
	targetAddr, err := ip.resolveOperand(fn, f, kind, idx)
	if err != nil {
		return Failed, err
	}
	target, ok := ip.Program.Functions[targetAddr]
	if !ok {
		return Failed, perror.New(perror.SegmentFault, "interp: call to unknown function address")
	}

	if target.Kind == types.FuncNormal {
		newFrame := &process.StackFrame{
			FuncAddr: targetAddr,
			Stack:    ip.Proc.Memory.Alloc(DefaultFrameStackSize),
		}
		if tail {
			popped := th.PopFrame()
			if err := ip.Proc.FreeFrame(popped); err != nil {
				return Failed, err
			}
		}
		th.PushFrame(newFrame)
		return Normal, nil
	}

	entry, ok := ip.Builtins.Lookup(target.Name)
	if !ok {
		return Failed, perror.New(perror.Inst, "interp: unregistered built-in "+target.Name)
	}
	raw, err := ip.Proc.Memory.ReadBytes(f.Address)
	if err != nil {
		return Failed, err
	}
	pp, err := entry.Fn(ip.Proc, th, entry.FixedParam, f.Output, raw)
	if err != nil {
		return Failed, err
	}

	switch pp {
	case builtin.RetryLater:
		return Failed, vmem.ErrRetryLater
	case builtin.ReEntry:
		// The built-in rewrote the frame stack itself (exit, longjmp);
		// the next step() re-fetches from whatever is now on top.
		return Normal, nil
	default:
		if tail {
			result := f.Output
			popped := th.PopFrame()
			if err := ip.Proc.FreeFrame(popped); err != nil {
				return Failed, err
			}
			if caller := th.Current(); caller != nil {
				caller.Output = result
			}
		}
		return Normal, nil
	}
}

// execReturn implements RETURN (§4.2, §3): it pops the current frame,
// reclaims its stack/alloca pages, and forwards the resolved return
// value (if any) into the caller's Output slot. Returning out of the
// bottommost frame finishes the thread.
func (ip *Interpreter) execReturn(th *process.Thread, f *process.StackFrame, fn *types.Function, kind instr.OperandKind, idx uint64) (StepResult, error) {
	var retAddr vmem.VAddr
	if kind != instr.OperandAbsent {
		addr, err := ip.resolveOperand(fn, f, kind, idx)
		if err != nil {
			return Failed, err
		}
		retAddr = addr
	}

	popped := th.PopFrame()
	if err := ip.Proc.FreeFrame(popped); err != nil {
		return Failed, err
	}

	caller := th.Current()
	if caller == nil {
		return Finished, nil
	}
	if retAddr != vmem.NULL {
		caller.Output = retAddr
	}
	return Normal, nil
}
