package instr

import "testing"

func TestPackUnpackRoundTrip(t *testing.T) {
	cases := []struct {
		op      Opcode
		opt     Option
		operand uint32
	}{
		{NOP, 0, 0},
		{ADD, 3, 0x123456},
		{CALL, 1, HeadOperand | 7},
		{RETURN, 2, FillOperand},
	}

	for _, c := range cases {
		w := Pack(c.op, c.opt, c.operand)
		op, opt, operand := Unpack(w)
		if op != c.op || opt != c.opt || operand != c.operand {
			t.Fatalf("Pack/Unpack(%v,%v,%#x) round-tripped as (%v,%v,%#x)",
				c.op, c.opt, c.operand, op, opt, operand)
		}
	}
}

func TestPackMasksOversizedFields(t *testing.T) {
	// Unmasked, the opcode would spill into the option bits and the
	// option into the operand bits; Pack must mask each field to its own
	// width before OR-ing.
	w := Pack(Opcode(0xFF), Option(0xFF), 0xFFFFFFFF)
	op, opt, operand := Unpack(w)
	if op != Opcode(0xFF&opcodeMask) {
		t.Fatalf("opcode not masked: got %v", op)
	}
	if opt != Option(0xFF&optionMask) {
		t.Fatalf("option not masked: got %v", opt)
	}
	if operand != operandMask {
		t.Fatalf("operand not masked: got %#x", operand)
	}
}

func TestResolveOperandClassifiesAbsent(t *testing.T) {
	kind, _ := ResolveOperand(FillOperand)
	if kind != OperandAbsent {
		t.Fatalf("expected OperandAbsent for FillOperand, got %v", kind)
	}
}

func TestResolveOperandClassifiesConstant(t *testing.T) {
	kind, idx := ResolveOperand(HeadOperand | 42)
	if kind != OperandConstant {
		t.Fatalf("expected OperandConstant, got %v", kind)
	}
	if idx != 42 {
		t.Fatalf("expected index 42, got %d", idx)
	}
}

func TestResolveOperandClassifiesStack(t *testing.T) {
	kind, idx := ResolveOperand(17)
	if kind != OperandStack {
		t.Fatalf("expected OperandStack, got %v", kind)
	}
	if idx != 17 {
		t.Fatalf("expected offset 17, got %d", idx)
	}
}

func TestExtraWidenerAccumulatesAcrossPrefixes(t *testing.T) {
	var w ExtraWidener
	w.Feed(0xABCDEF)        // low 24 bits
	w.Feed(0x000001)        // next 24 bits
	got := w.FeedFinal(0x2) // final (non-EXTRA) word's own operand bits

	want := uint64(0xABCDEF) | uint64(0x000001)<<operandBits | uint64(0x2)<<(2*operandBits)
	if got != want {
		t.Fatalf("ExtraWidener accumulated %#x, want %#x", got, want)
	}
}

func TestExtraWidenerResetClearsState(t *testing.T) {
	var w ExtraWidener
	w.Feed(0xFFFFFF)
	w.Reset()
	got := w.FeedFinal(5)
	if got != 5 {
		t.Fatalf("expected Reset to clear accumulated bits, got %#x", got)
	}
}
