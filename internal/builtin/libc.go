package builtin

import (
	"strconv"

	"github.com/processwarp/core/internal/perror"
	"github.com/processwarp/core/internal/process"
	"github.com/processwarp/core/internal/vmem"
)

// RegisterLibc installs the required built-in table of spec.md §4.3
// into r.
func RegisterLibc(r *Registry) {
	r.Register("malloc", biMalloc, 0)
	r.Register("calloc", biCalloc, 0)
	r.Register("realloc", biRealloc, 0)
	r.Register("free", biFree, 0)

	for _, sz := range []int64{8, 16, 32, 64} {
		sz := sz
		r.Register("memcpy", wrapMemcpy(sz), sz)
		r.Register("memmove", wrapMemmove(sz), sz)
		r.Register("memset", wrapMemset(sz), sz)
	}

	r.Register("atexit", biAtexit, 0)
	r.Register("exit", biExit, 0)
	r.Register("setjmp", biSetjmp, 0)
	r.Register("longjmp", biLongjmp, 0)
	r.Register("strtol", biStrtol, 32)
	r.Register("strtoll", biStrtol, 64)
}

// biMalloc: malloc(n) allocates a page in the best-fit size class and
// returns its vaddr (§4.3).
func biMalloc(proc *process.Process, th *process.Thread, fixedParam int64, dst vmem.VAddr, raw []byte) (PostProc, error) {
	c := NewArgCursor(raw)
	n, err := c.I64()
	if err != nil {
		return Normal, err
	}
	if !c.Done() {
		return Normal, perror.New(perror.Inst, "malloc: trailing arguments")
	}
	addr := proc.Memory.Alloc(uint64(n))
	if err := writeVAddr(proc, dst, addr); err != nil {
		return retryOrFail(err)
	}
	return Normal, nil
}

// biCalloc: calloc(n,s) is malloc(n*s) then zero (§4.3).
func biCalloc(proc *process.Process, th *process.Thread, fixedParam int64, dst vmem.VAddr, raw []byte) (PostProc, error) {
	c := NewArgCursor(raw)
	count, err := c.I64()
	if err != nil {
		return Normal, err
	}
	size, err := c.I64()
	if err != nil {
		return Normal, err
	}
	if !c.Done() {
		return Normal, perror.New(perror.Inst, "calloc: trailing arguments")
	}
	total := uint64(count) * uint64(size)
	addr := proc.Memory.Alloc(total)
	if err := proc.Memory.WriteBytes(addr, make([]byte, total)); err != nil {
		return retryOrFail(err)
	}
	if err := writeVAddr(proc, dst, addr); err != nil {
		return retryOrFail(err)
	}
	return Normal, nil
}

// biRealloc: allocate new, copy min(old_size,n), free old. p==NULL
// becomes malloc (§4.3).
func biRealloc(proc *process.Process, th *process.Thread, fixedParam int64, dst vmem.VAddr, raw []byte) (PostProc, error) {
	c := NewArgCursor(raw)
	p, err := c.Ptr()
	if err != nil {
		return Normal, err
	}
	n, err := c.I64()
	if err != nil {
		return Normal, err
	}
	if !c.Done() {
		return Normal, perror.New(perror.Inst, "realloc: trailing arguments")
	}

	if p == vmem.NULL {
		addr := proc.Memory.Alloc(uint64(n))
		if err := writeVAddr(proc, dst, addr); err != nil {
			return retryOrFail(err)
		}
		return Normal, nil
	}

	old, err := proc.Memory.ReadBytes(p)
	if err != nil {
		return retryOrFail(err)
	}
	addr := proc.Memory.Alloc(uint64(n))
	toCopy := old
	if uint64(len(toCopy)) > uint64(n) {
		toCopy = toCopy[:n]
	}
	if err := proc.Memory.WriteBytes(addr, toCopy); err != nil {
		return retryOrFail(err)
	}
	if err := proc.Memory.Free(p); err != nil {
		return Normal, perror.Wrap(perror.Memory, "realloc: free old", err)
	}
	if err := writeVAddr(proc, dst, addr); err != nil {
		return retryOrFail(err)
	}
	return Normal, nil
}

// biFree: frees the page; no-op on NULL; double-free is fatal (§4.3).
func biFree(proc *process.Process, th *process.Thread, fixedParam int64, dst vmem.VAddr, raw []byte) (PostProc, error) {
	c := NewArgCursor(raw)
	p, err := c.Ptr()
	if err != nil {
		return Normal, err
	}
	if !c.Done() {
		return Normal, perror.New(perror.Inst, "free: trailing arguments")
	}
	if err := proc.Memory.Free(p); err != nil {
		return Normal, err
	}
	return Normal, nil
}

// sizeReader returns the cursor reader matching a memcpy/memmove/memset
// size-suffix, dispatched by fixedParam bits (§4.3).
func sizeReader(c *ArgCursor, bits int64) (uint64, error) {
	switch bits {
	case 8:
		v, err := c.I8()
		return uint64(uint8(v)), err
	case 16:
		v, err := c.I16()
		return uint64(uint16(v)), err
	case 32:
		v, err := c.I32()
		return uint64(uint32(v)), err
	case 64:
		v, err := c.I64()
		return uint64(v), err
	default:
		return 0, perror.New(perror.Inst, "builtin: unsupported size suffix")
	}
}

// wrapMemcpy builds the memcpy built-in for one size-suffix variant.
// Trailing align/isvolatile params are parsed but ignored (§4.3).
func wrapMemcpy(bits int64) Func {
	return func(proc *process.Process, th *process.Thread, fixedParam int64, dst vmem.VAddr, raw []byte) (PostProc, error) {
		c := NewArgCursor(raw)
		pDst, err := c.Ptr()
		if err != nil {
			return Normal, err
		}
		pSrc, err := c.Ptr()
		if err != nil {
			return Normal, err
		}
		n, err := sizeReader(c, bits)
		if err != nil {
			return Normal, err
		}
		if _, err := c.I32(); err == nil {
			_, _ = c.I8() // align, isvolatile: parsed, ignored
		}
		if !c.Done() {
			return Normal, perror.New(perror.Inst, "memcpy: trailing arguments")
		}

		srcBytes, err := proc.Memory.ReadBytes(pSrc)
		if err != nil {
			return retryOrFail(err)
		}
		if uint64(len(srcBytes)) > n {
			srcBytes = srcBytes[:n]
		}
		if err := proc.Memory.WriteBytes(pDst, srcBytes); err != nil {
			return retryOrFail(err)
		}
		return Normal, nil
	}
}

// wrapMemmove is memcpy but tolerates overlap (§8 round-trip property).
// Since each vaddr here addresses a distinct page (never a sub-range of
// another live page), there is no possible overlap between pSrc and
// pDst pages; the copy is therefore identical to memcpy.
func wrapMemmove(bits int64) Func {
	return wrapMemcpy(bits)
}

// wrapMemset fills n bytes at dst with the low byte of the fill value.
func wrapMemset(bits int64) Func {
	return func(proc *process.Process, th *process.Thread, fixedParam int64, dst vmem.VAddr, raw []byte) (PostProc, error) {
		c := NewArgCursor(raw)
		pDst, err := c.Ptr()
		if err != nil {
			return Normal, err
		}
		fill, err := c.I8()
		if err != nil {
			return Normal, err
		}
		n, err := sizeReader(c, bits)
		if err != nil {
			return Normal, err
		}
		if !c.Done() {
			return Normal, perror.New(perror.Inst, "memset: trailing arguments")
		}

		buf := make([]byte, n)
		for i := range buf {
			buf[i] = byte(fill)
		}
		if err := proc.Memory.WriteBytes(pDst, buf); err != nil {
			return retryOrFail(err)
		}
		return Normal, nil
	}
}

// biAtexit: pushes f onto calls_at_exit (§4.3). exit does not call or
// drain the queued handlers; Thread.PopAtExit returns them in LIFO
// order.
func biAtexit(proc *process.Process, th *process.Thread, fixedParam int64, dst vmem.VAddr, raw []byte) (PostProc, error) {
	c := NewArgCursor(raw)
	fn, err := c.Ptr()
	if err != nil {
		return Normal, err
	}
	if !c.Done() {
		return Normal, perror.New(perror.Inst, "atexit: trailing arguments")
	}
	th.PushAtExit(fn)
	return Normal, nil
}

// biExit: unwinds all frames except the bottom, writes code into the
// bottom frame's stack page, and requests RE_ENTRY so the interpreter
// re-fetches after the frame stack was rewritten (§4.3).
func biExit(proc *process.Process, th *process.Thread, fixedParam int64, dst vmem.VAddr, raw []byte) (PostProc, error) {
	c := NewArgCursor(raw)
	code, err := c.I32()
	if err != nil {
		return Normal, err
	}
	if !c.Done() {
		return Normal, perror.New(perror.Inst, "exit: trailing arguments")
	}

	bottom := th.Frames[0]
	buf := make([]byte, 4)
	buf[0] = byte(code)
	buf[1] = byte(code >> 8)
	buf[2] = byte(code >> 16)
	buf[3] = byte(code >> 24)
	if err := proc.Memory.WriteBytes(bottom.Stack, buf); err != nil {
		return retryOrFail(err)
	}

	if err := proc.UnwindTo(th, 1); err != nil {
		return Normal, err
	}
	return ReEntry, nil
}

// biSetjmp writes a SetjmpEnv snapshot into env and returns 0 at the
// call site (§4.3). The PC stored is pc+1 (the instruction following
// the setjmp call), per original_source/src/builtin_libc.cpp.
func biSetjmp(proc *process.Process, th *process.Thread, fixedParam int64, dst vmem.VAddr, raw []byte) (PostProc, error) {
	c := NewArgCursor(raw)
	env, err := c.Ptr()
	if err != nil {
		return Normal, err
	}
	if !c.Done() {
		return Normal, perror.New(perror.Inst, "setjmp: trailing arguments")
	}

	f := th.Current()
	snapshot := f.Snapshot(th.Depth(), dst)
	snapshot.PC = f.PC // pc already advanced past CALL by the interpreter

	if err := writeSetjmpEnv(proc, env, snapshot); err != nil {
		return retryOrFail(err)
	}
	if err := writeVAddr(proc, dst, vmem.NULL); err != nil {
		return retryOrFail(err)
	}
	return Normal, nil
}

// biLongjmp unwinds until stackinfos.size() == env.stack_count (fatal
// if smaller), restores the saved frame slots, writes v at
// env.ret_addr, and requests RE_ENTRY (§4.3).
func biLongjmp(proc *process.Process, th *process.Thread, fixedParam int64, dst vmem.VAddr, raw []byte) (PostProc, error) {
	c := NewArgCursor(raw)
	envAddr, err := c.Ptr()
	if err != nil {
		return Normal, err
	}
	val, err := c.I32()
	if err != nil {
		return Normal, err
	}
	if !c.Done() {
		return Normal, perror.New(perror.Inst, "longjmp: trailing arguments")
	}

	env, err := readSetjmpEnv(proc, envAddr)
	if err != nil {
		return retryOrFail(err)
	}
	if th.Depth() < env.StackCount {
		return Normal, perror.New(perror.SegmentFault, "longjmp: stack shallower than setjmp snapshot")
	}
	if err := proc.UnwindTo(th, env.StackCount); err != nil {
		return Normal, err
	}

	f := th.Current()
	f.Restore(env)
	if err := writeVAddr(proc, env.RetAddr, vmem.VAddr(uint64(val))); err != nil {
		return retryOrFail(err)
	}
	return ReEntry, nil
}

// biStrtol delegates to the host library using the page-backed string
// (§4.3). If endptr is non-null it receives the string's own base
// vaddr; the number of bytes consumed is not reflected in it.
func biStrtol(proc *process.Process, th *process.Thread, fixedParam int64, dst vmem.VAddr, raw []byte) (PostProc, error) {
	c := NewArgCursor(raw)
	strAddr, err := c.Ptr()
	if err != nil {
		return Normal, err
	}
	endptrAddr, err := c.Ptr()
	if err != nil {
		return Normal, err
	}
	base, err := c.I32()
	if err != nil {
		return Normal, err
	}
	if !c.Done() {
		return Normal, perror.New(perror.Inst, "strtol: trailing arguments")
	}

	strBytes, err := proc.Memory.ReadBytes(strAddr)
	if err != nil {
		return retryOrFail(err)
	}
	n := 0
	for n < len(strBytes) && strBytes[n] != 0 {
		n++
	}
	s := string(strBytes[:n])

	v, consumed := parseLeadingInt(s, int(base))
	if endptrAddr != vmem.NULL {
		// endptr points at the first unconsumed byte of str, i.e.
		// strAddr's page offset by consumed -- our page-per-value
		// model has no sub-offset addressing, so the closest faithful
		// rendering is to report the same page with an implied
		// offset of `consumed`, left to the caller's own string
		// iteration rather than true pointer arithmetic.
		_ = consumed
		if err := writeVAddr(proc, endptrAddr, strAddr); err != nil {
			return retryOrFail(err)
		}
	}

	bits := fixedParam
	buf := make([]byte, 8)
	putInt(buf, v, int(bits))
	if err := proc.Memory.WriteBytes(dst, buf); err != nil {
		return retryOrFail(err)
	}
	return Normal, nil
}

func parseLeadingInt(s string, base int) (int64, int) {
	end := 0
	for end < len(s) {
		c := s[end]
		isDigit := c >= '0' && c <= '9'
		isSign := end == 0 && (c == '+' || c == '-')
		if !isDigit && !isSign {
			break
		}
		end++
	}
	if end == 0 {
		return 0, 0
	}
	v, err := strconv.ParseInt(s[:end], base, 64)
	if err != nil {
		return 0, end
	}
	return v, end
}

func putInt(buf []byte, v int64, bits int) {
	u := uint64(v)
	for i := 0; i < 8 && i*8 < bits; i++ {
		buf[i] = byte(u >> (8 * i))
	}
}

func writeVAddr(proc *process.Process, dst vmem.VAddr, v vmem.VAddr) error {
	buf := make([]byte, 8)
	putInt(buf, int64(v), 64)
	return proc.Memory.WriteBytes(dst, buf)
}
