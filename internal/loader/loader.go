// Package loader names the bytecode-loading boundary: turning a
// compiled program (functions, types, constant pool) on disk into the
// PROGRAM-area pages a process's vmem.Store serves. The actual file
// format and disk/network fetch strategy are out of scope per spec.md
// §1; this package is only the registration contract the node binary
// wires a concrete loader through.
package loader

import (
	"github.com/processwarp/core/internal/interp"
	"github.com/processwarp/core/internal/vmem"
)

// Bootstrap loads a program's functions/types into mem and returns the
// Program the interpreter runs, plus the PROGRAM-area address of the
// entry function.
type Bootstrap interface {
	Load(mem *vmem.Store) (prog *interp.Program, entry vmem.VAddr, err error)
}
