package builtin

import (
	"encoding/binary"

	"github.com/processwarp/core/internal/process"
	"github.com/processwarp/core/internal/vmem"
)

// setjmpEnvFieldCount*8 is the byte layout of a SetjmpEnv page, in the
// field order spec.md §4.3 documents: stack_count, ret_addr, pc+1,
// phi0, phi1, type, alignment, output, value, address.
const setjmpEnvFieldCount = 10

func writeSetjmpEnv(proc *process.Process, addr vmem.VAddr, env process.SetjmpEnv) error {
	buf := make([]byte, setjmpEnvFieldCount*8)
	fields := []uint64{
		env.StackCount,
		uint64(env.RetAddr),
		env.PC,
		env.Phi0,
		env.Phi1,
		uint64(env.Type),
		env.Alignment,
		uint64(env.Output),
		uint64(env.Value),
		uint64(env.Address),
	}
	for i, v := range fields {
		binary.LittleEndian.PutUint64(buf[i*8:], v)
	}
	return proc.Memory.WriteBytes(addr, buf)
}

func readSetjmpEnv(proc *process.Process, addr vmem.VAddr) (process.SetjmpEnv, error) {
	buf, err := proc.Memory.ReadBytes(addr)
	if err != nil {
		return process.SetjmpEnv{}, err
	}
	if len(buf) < setjmpEnvFieldCount*8 {
		padded := make([]byte, setjmpEnvFieldCount*8)
		copy(padded, buf)
		buf = padded
	}
	read := func(i int) uint64 { return binary.LittleEndian.Uint64(buf[i*8:]) }
	return process.SetjmpEnv{
		StackCount: read(0),
		RetAddr:    vmem.VAddr(read(1)),
		PC:         read(2),
		Phi0:       read(3),
		Phi1:       read(4),
		Type:       vmem.VAddr(read(5)),
		Alignment:  read(6),
		Output:     vmem.VAddr(read(7)),
		Value:      vmem.VAddr(read(8)),
		Address:    vmem.VAddr(read(9)),
	}, nil
}
