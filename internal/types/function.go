package types

import "github.com/processwarp/core/internal/vmem"

// FuncKind discriminates the Function variant of spec.md §3.
type FuncKind int

const (
	FuncNormal FuncKind = iota
	FuncBuiltin
	FuncNative
)

// Function is stored at a PROGRAM address; Normal functions carry
// their own code and constant pool, Builtin/Native ones are resolved
// by name through the built-in registry (internal/builtin).
type Function struct {
	Kind FuncKind

	// FuncNormal
	Code        []uint32 // packed instr.Word values
	Constants   []vmem.VAddr
	ValueTypes  []vmem.VAddr // per-value-slot type address, indexed by SET_* operand
	ParamsCount int

	// FuncBuiltin, FuncNative
	Name string
}
