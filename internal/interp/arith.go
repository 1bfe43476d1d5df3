package interp

import (
	"math"

	"github.com/processwarp/core/internal/instr"
	"github.com/processwarp/core/internal/perror"
	"github.com/processwarp/core/internal/process"
	"github.com/processwarp/core/internal/types"
	"github.com/processwarp/core/internal/vmem"
)

// execArith handles the two-read-register binary ops (§4.2): both
// operands come from f.Value and f.Address (populated by the preceding
// SET_VALUE / SET/SET_PTR/SET_ADR), the result goes to f.Output
// (populated by the preceding SET_OUTPUT). Floating point types take
// the float path; everything else is integer.
func (ip *Interpreter) execArith(f *process.StackFrame, op instr.Opcode) (StepResult, error) {
	bt := basicTypeOf(f.Type)
	if bt.IsFloat() {
		a, _, err := readScalar(ip.Proc, f.Value, f.Type)
		if err != nil {
			return Failed, err
		}
		b, _, err := readScalar(ip.Proc, f.Address, f.Type)
		if err != nil {
			return Failed, err
		}
		var r float64
		switch op {
		case instr.ADD:
			r = a + b
		case instr.SUB:
			r = a - b
		case instr.MUL:
			r = a * b
		case instr.DIV:
			r = a / b
		case instr.REM:
			r = math.Mod(a, b)
		case instr.MAX:
			r = math.Max(a, b)
		case instr.MIN:
			r = math.Min(a, b)
		default:
			return Failed, perror.New(perror.Inst, "interp: "+op.String()+" is not defined for float types")
		}
		return Normal, writeScalar(ip.Proc, f.Output, f.Type, r, true)
	}

	a, err := readInt(ip.Proc, f.Value, bt.IsSigned())
	if err != nil {
		return Failed, err
	}
	b, err := readInt(ip.Proc, f.Address, bt.IsSigned())
	if err != nil {
		return Failed, err
	}

	var r int64
	switch op {
	case instr.ADD:
		r = a + b
	case instr.SUB:
		r = a - b
	case instr.MUL:
		r = a * b
	case instr.DIV:
		if b == 0 {
			return Failed, perror.New(perror.Inst, "interp: integer division by zero")
		}
		r = a / b
	case instr.REM:
		if b == 0 {
			return Failed, perror.New(perror.Inst, "interp: integer remainder by zero")
		}
		r = a % b
	case instr.SHL:
		r = a << uint(b)
	case instr.SHR:
		r = a >> uint(b)
	case instr.AND:
		r = a & b
	case instr.NAND:
		r = ^(a & b)
	case instr.OR:
		r = a | b
	case instr.XOR:
		r = a ^ b
	case instr.MAX:
		if a > b {
			r = a
		} else {
			r = b
		}
	case instr.MIN:
		if a < b {
			r = a
		} else {
			r = b
		}
	}
	return Normal, writeInt(ip.Proc, f.Output, r)
}

func (ip *Interpreter) execCompare(f *process.StackFrame, op instr.Opcode) (StepResult, error) {
	a, _, err := readScalar(ip.Proc, f.Value, f.Type)
	if err != nil {
		return Failed, err
	}
	b, _, err := readScalar(ip.Proc, f.Address, f.Type)
	if err != nil {
		return Failed, err
	}

	var result bool
	switch op {
	case instr.EQUAL:
		result = a == b
	case instr.NOT_EQUAL:
		result = a != b
	case instr.GREATER:
		result = a > b
	case instr.GREATER_EQUAL:
		result = a >= b
	}
	addr, err := ip.boolByte(result)
	if err != nil {
		return Failed, err
	}
	f.Output = addr
	return Normal, nil
}

func (ip *Interpreter) execNanTest(f *process.StackFrame, op instr.Opcode) (StepResult, error) {
	bt := basicTypeOf(f.Type)
	var aNan, bNan bool
	if bt.IsFloat() {
		a, _, err := readScalar(ip.Proc, f.Value, f.Type)
		if err != nil {
			return Failed, err
		}
		b, _, err := readScalar(ip.Proc, f.Address, f.Type)
		if err != nil {
			return Failed, err
		}
		aNan, bNan = math.IsNaN(a), math.IsNaN(b)
	}

	var result bool
	if op == instr.NOT_NANS {
		result = !aNan && !bNan
	} else {
		result = aNan || bNan
	}
	addr, err := ip.boolByte(result)
	if err != nil {
		return Failed, err
	}
	f.Output = addr
	return Normal, nil
}

func (ip *Interpreter) execSelect(f *process.StackFrame, fn *types.Function, kind instr.OperandKind, idx uint64) (StepResult, error) {
	falseAddr, err := ip.resolveOperand(fn, f, kind, idx)
	if err != nil {
		return Failed, err
	}
	condByte, err := ip.Proc.Memory.ReadBytes(f.Value)
	if err != nil {
		return Failed, err
	}
	if len(condByte) > 0 && condByte[0] != 0 {
		f.Output = f.Address
	} else {
		f.Output = falseAddr
	}
	return Normal, nil
}

func (ip *Interpreter) execCmpxchg(f *process.StackFrame, fn *types.Function, kind instr.OperandKind, idx uint64) (StepResult, error) {
	newAddr, err := ip.resolveOperand(fn, f, kind, idx)
	if err != nil {
		return Failed, err
	}

	// §4.2: CMPXCHG succeeds iff this node owns f.Address and the byte
	// pattern matches; a non-owner reports failure via Output instead of
	// faulting in the page (a compare against stale/foreign bytes is
	// meaningless, and faulting here would block on a page this op may
	// never need to read).
	if !ip.Proc.Memory.IsOwner(f.Address) {
		addr, err := ip.boolByte(false)
		if err != nil {
			return Failed, err
		}
		f.Output = addr
		return Normal, nil
	}

	width := basicTypeOf(f.Type).BitWidth() / 8
	if width == 0 {
		width = 8
	}
	current, err := ip.Proc.Memory.ReadAt(f.Address, int(f.AddressOffset), width)
	if err != nil {
		return Failed, err
	}
	expected, err := ip.Proc.Memory.ReadAt(f.Value, 0, width)
	if err != nil {
		return Failed, err
	}

	matched := bytesEqual(current, expected)
	if matched {
		newBytes, err := ip.Proc.Memory.ReadAt(newAddr, 0, width)
		if err != nil {
			return Failed, err
		}
		if err := ip.Proc.Memory.WriteAt(f.Address, int(f.AddressOffset), newBytes); err != nil {
			return Failed, err
		}
	}

	addr, err := ip.boolByte(matched)
	if err != nil {
		return Failed, err
	}
	f.Output = addr
	return Normal, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (ip *Interpreter) execAlloca(f *process.StackFrame, idx uint64) (StepResult, error) {
	bt := basicTypeOf(f.Type)
	width := bt.BitWidth() / 8
	if width == 0 {
		width = 8
	}
	count := uint64(1)
	if f.Value != vmem.NULL {
		c, err := readInt(ip.Proc, f.Value, false)
		if err == nil && c > 0 {
			count = uint64(c)
		}
	}
	addr := ip.Proc.Memory.Alloc(uint64(width) * count)
	f.RecordAlloca(addr)
	if err := ip.storeOperand(f, idx, addr); err != nil {
		return Failed, err
	}
	f.Address = addr
	f.AddressOffset = 0
	return Normal, nil
}

// execCast implements TYPE_CAST (numeric conversion, §4.2) and BIT_CAST
// (raw reinterpretation): the operand names the destination type.
func (ip *Interpreter) execCast(f *process.StackFrame, fn *types.Function, kind instr.OperandKind, idx uint64, bitwise bool) (StepResult, error) {
	targetType, err := ip.resolveOperand(fn, f, kind, idx)
	if err != nil {
		return Failed, err
	}
	targetBT := basicTypeOf(targetType)
	width := targetBT.BitWidth() / 8
	if width == 0 {
		width = 8
	}
	dst := ip.Proc.Memory.Alloc(uint64(width))

	if bitwise {
		srcBytes, err := ip.Proc.Memory.ReadBytes(f.Value)
		if err != nil {
			return Failed, err
		}
		buf := make([]byte, width)
		copy(buf, srcBytes)
		if err := ip.Proc.Memory.WriteBytes(dst, buf); err != nil {
			return Failed, err
		}
	} else {
		srcBT := basicTypeOf(f.Type)
		if srcBT.IsFloat() || targetBT.IsFloat() {
			v, _, err := readScalar(ip.Proc, f.Value, f.Type)
			if err != nil {
				return Failed, err
			}
			if !targetBT.IsFloat() {
				v = math.Trunc(v)
			}
			if err := writeScalar(ip.Proc, dst, targetType, v, targetBT.IsFloat()); err != nil {
				return Failed, err
			}
		} else {
			v, err := readInt(ip.Proc, f.Value, srcBT.IsSigned())
			if err != nil {
				return Failed, err
			}
			if err := writeInt(ip.Proc, dst, v); err != nil {
				return Failed, err
			}
		}
	}

	f.Type = targetType
	f.Output = dst
	return Normal, nil
}

// execVaArg reads the next variadic argument from a va_list cursor:
// f.Address names an allocation whose first 8 bytes are a read
// position, followed by the packed argument bytes (§4.3's ArgCursor
// convention, reused here for VM-side variadic access).
func (ip *Interpreter) execVaArg(f *process.StackFrame) (StepResult, error) {
	posBytes, err := ip.Proc.Memory.ReadAt(f.Address, 0, 8)
	if err != nil {
		return Failed, err
	}
	pos := leUint64(posBytes)

	width := basicTypeOf(f.Type).BitWidth() / 8
	if width == 0 {
		width = 8
	}
	raw, err := ip.Proc.Memory.ReadAt(f.Address, 8+int(pos), width)
	if err != nil {
		return Failed, err
	}
	if err := ip.Proc.Memory.WriteAt(f.Address, 0, leBytes(pos+uint64(width))); err != nil {
		return Failed, err
	}

	dst := ip.Proc.Memory.Alloc(uint64(width))
	if err := ip.Proc.Memory.WriteBytes(dst, raw); err != nil {
		return Failed, err
	}
	f.Output = dst
	return Normal, nil
}
