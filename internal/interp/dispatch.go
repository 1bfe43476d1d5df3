package interp

import (
	"github.com/processwarp/core/internal/instr"
	"github.com/processwarp/core/internal/perror"
	"github.com/processwarp/core/internal/process"
	"github.com/processwarp/core/internal/types"
	"github.com/processwarp/core/internal/vmem"
)

// step fetches and executes exactly one instruction of th (an EXTRA run
// counts as part of the one instruction it widens), rewinding the
// program counter on a suspension so the same instruction retries next
// quantum (§4.2, §4.4's ErrRetryLater contract).
func (ip *Interpreter) step(th *process.Thread) (StepResult, error) {
	f := th.Current()
	fn, err := ip.currentFunction(f)
	if err != nil {
		return Failed, err
	}

	startPC := f.PC
	op, opt, kind, idx, err := ip.fetch(fn, f)
	if err != nil {
		return Failed, err
	}

	res, err := ip.exec(th, f, fn, op, opt, kind, idx)
	if err == vmem.ErrRetryLater {
		f.PC = startPC
		return Suspended, nil
	}
	if err != nil {
		return Failed, err
	}
	return res, nil
}

func (ip *Interpreter) exec(th *process.Thread, f *process.StackFrame, fn *types.Function, op instr.Opcode, opt instr.Option, kind instr.OperandKind, idx uint64) (StepResult, error) {
	switch op {
	case instr.NOP:
		return Normal, nil

	case instr.CALL:
		return ip.execCall(th, f, fn, kind, idx, false)
	case instr.TAILCALL:
		return ip.execCall(th, f, fn, kind, idx, true)
	case instr.RETURN:
		return ip.execReturn(th, f, fn, kind, idx)

	case instr.SET_TYPE:
		addr, err := ip.resolveOperand(fn, f, kind, idx)
		if err != nil {
			return Failed, err
		}
		f.Type = addr
		return Normal, nil

	case instr.SET_OUTPUT:
		width := basicTypeOf(f.Type).BitWidth() / 8
		if width == 0 {
			width = 8
		}
		addr := ip.Proc.Memory.Alloc(uint64(width))
		if err := ip.storeOperand(f, idx, addr); err != nil {
			return Failed, err
		}
		f.Output = addr
		return Normal, nil

	case instr.SET_VALUE:
		addr, err := ip.resolveOperand(fn, f, kind, idx)
		if err != nil {
			return Failed, err
		}
		f.Value = addr
		return Normal, nil

	case instr.SET_OV_PTR:
		addr, err := ip.resolveOperand(fn, f, kind, idx)
		if err != nil {
			return Failed, err
		}
		inner, err := ip.Proc.Memory.ReadAt(addr, 0, 8)
		if err != nil {
			return Failed, err
		}
		f.Output = vmem.VAddr(leUint64(inner))
		f.Value = f.Output
		return Normal, nil

	case instr.ADD, instr.SUB, instr.MUL, instr.DIV, instr.REM,
		instr.SHL, instr.SHR, instr.AND, instr.NAND, instr.OR, instr.XOR,
		instr.MAX, instr.MIN:
		return ip.execArith(f, op)

	case instr.SET:
		addr, err := ip.resolveOperand(fn, f, kind, idx)
		if err != nil {
			return Failed, err
		}
		f.Address = addr
		f.AddressOffset = 0
		return Normal, nil

	case instr.SET_PTR:
		addr, err := ip.resolveOperand(fn, f, kind, idx)
		if err != nil {
			return Failed, err
		}
		inner, err := ip.Proc.Memory.ReadAt(addr, 0, 8)
		if err != nil {
			return Failed, err
		}
		f.Address = vmem.VAddr(leUint64(inner))
		f.AddressOffset = 0
		return Normal, nil

	case instr.SET_ADR:
		width := basicTypeOf(f.Type).BitWidth() / 8
		if width == 0 {
			width = 8
		}
		addr := ip.Proc.Memory.Alloc(uint64(width))
		if err := ip.storeOperand(f, idx, addr); err != nil {
			return Failed, err
		}
		f.Address = addr
		f.AddressOffset = 0
		return Normal, nil

	case instr.SET_ALIGN:
		f.Alignment = idx
		return Normal, nil

	case instr.ADD_ADR:
		addr, err := ip.resolveOperand(fn, f, kind, idx)
		if err != nil {
			return Failed, err
		}
		v, err := readInt(ip.Proc, addr, false)
		if err != nil {
			return Failed, err
		}
		f.AddressOffset += uint64(v)
		return Normal, nil

	case instr.MUL_ADR:
		addr, err := ip.resolveOperand(fn, f, kind, idx)
		if err != nil {
			return Failed, err
		}
		v, err := readInt(ip.Proc, addr, false)
		if err != nil {
			return Failed, err
		}
		f.AddressOffset *= uint64(v)
		return Normal, nil

	case instr.GET_ADR:
		if err := ip.storeOperand(f, idx, f.Address); err != nil {
			return Failed, err
		}
		return Normal, nil

	case instr.LOAD:
		width := basicTypeOf(f.Type).BitWidth() / 8
		if width == 0 {
			width = 8
		}
		bytes, err := ip.Proc.Memory.ReadAt(f.Address, int(f.AddressOffset), width)
		if err != nil {
			return Failed, err
		}
		dst := ip.Proc.Memory.Alloc(uint64(width))
		if err := ip.Proc.Memory.WriteBytes(dst, bytes); err != nil {
			return Failed, err
		}
		if err := ip.storeOperand(f, idx, dst); err != nil {
			return Failed, err
		}
		f.Output = dst
		return Normal, nil

	case instr.STORE:
		src, err := ip.resolveOperand(fn, f, kind, idx)
		if err != nil {
			return Failed, err
		}
		width := basicTypeOf(f.Type).BitWidth() / 8
		if width == 0 {
			width = 8
		}
		bytes, err := ip.Proc.Memory.ReadAt(src, 0, width)
		if err != nil {
			return Failed, err
		}
		if err := ip.Proc.Memory.WriteAt(f.Address, int(f.AddressOffset), bytes); err != nil {
			return Failed, err
		}
		return Normal, nil

	case instr.CMPXCHG:
		return ip.execCmpxchg(f, fn, kind, idx)

	case instr.ALLOCA:
		return ip.execAlloca(f, idx)

	case instr.TEST:
		bt := basicTypeOf(f.Type)
		var nonzero bool
		if bt.IsFloat() {
			v, _, err := readScalar(ip.Proc, f.Value, f.Type)
			if err != nil {
				return Failed, err
			}
			nonzero = v != 0
		} else {
			v, err := readInt(ip.Proc, f.Value, bt.IsSigned())
			if err != nil {
				return Failed, err
			}
			nonzero = v != 0
		}
		addr, err := ip.boolByte(nonzero)
		if err != nil {
			return Failed, err
		}
		f.Output = addr
		return Normal, nil

	case instr.TEST_EQ:
		addr, err := ip.resolveOperand(fn, f, kind, idx)
		if err != nil {
			return Failed, err
		}
		a, _, err := readScalar(ip.Proc, f.Value, f.Type)
		if err != nil {
			return Failed, err
		}
		b, _, err := readScalar(ip.Proc, addr, f.Type)
		if err != nil {
			return Failed, err
		}
		out, err := ip.boolByte(a == b)
		if err != nil {
			return Failed, err
		}
		f.Output = out
		return Normal, nil

	case instr.JUMP:
		if kind != instr.OperandAbsent {
			f.Phi1 = f.Phi0
			f.Phi0 = f.PC
			f.PC = idx
		}
		return Normal, nil

	case instr.INDIRECT_JUMP:
		addr, err := ip.resolveOperand(fn, f, kind, idx)
		if err != nil {
			return Failed, err
		}
		b, err := ip.Proc.Memory.ReadAt(addr, 0, 8)
		if err != nil {
			return Failed, err
		}
		f.Phi1 = f.Phi0
		f.Phi0 = f.PC
		f.PC = leUint64(b)
		return Normal, nil

	case instr.PHI:
		addr, err := ip.resolveOperand(fn, f, kind, idx)
		if err != nil {
			return Failed, err
		}
		width := basicTypeOf(f.Type).BitWidth() / 8
		if width == 0 {
			width = 8
		}
		bytes, err := ip.Proc.Memory.ReadAt(addr, 0, width)
		if err != nil {
			return Failed, err
		}
		dst := ip.Proc.Memory.Alloc(uint64(width))
		if err := ip.Proc.Memory.WriteBytes(dst, bytes); err != nil {
			return Failed, err
		}
		f.Output = dst
		return Normal, nil

	case instr.TYPE_CAST, instr.BIT_CAST:
		return ip.execCast(f, fn, kind, idx, op == instr.BIT_CAST)

	case instr.EQUAL, instr.NOT_EQUAL, instr.GREATER, instr.GREATER_EQUAL:
		return ip.execCompare(f, op)

	case instr.NOT_NANS, instr.OR_NANS:
		return ip.execNanTest(f, op)

	case instr.SELECT:
		return ip.execSelect(f, fn, kind, idx)

	case instr.SHUFFLE:
		// Vector lane shuffling is not modeled (no Vector arithmetic path
		// is wired anywhere else); pass the input through unchanged.
		f.Output = f.Value
		return Normal, nil

	case instr.VA_ARG:
		return ip.execVaArg(f)

	default:
		return Failed, perror.New(perror.Inst, "interp: unhandled opcode "+op.String())
	}
}
