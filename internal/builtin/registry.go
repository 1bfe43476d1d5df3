package builtin

import (
	"github.com/processwarp/core/internal/process"
	"github.com/processwarp/core/internal/vmem"
)

// PostProc is the CALL post-process instruction a built-in hands back
// to the interpreter (§4.2): advance normally, re-fetch because the
// frame stack was rewritten, or suspend and retry the same instruction
// next quantum.
type PostProc int

const (
	Normal PostProc = iota
	ReEntry
	RetryLater
)

// Func is a built-in's signature from spec.md §4.3: process, thread,
// fixed parameter, destination slot, and the raw argument buffer.
type Func func(proc *process.Process, th *process.Thread, fixedParam int64, dst vmem.VAddr, raw []byte) (PostProc, error)

// Entry is one registry row: the function plus its fixed parameter,
// baked in at registration time (e.g. which memcpy size-suffix this
// row handles).
type Entry struct {
	Fn         Func
	FixedParam int64
}

// Registry maps a built-in's name to its entry, populated at VM init
// (§4.3).
type Registry struct {
	entries map[string]Entry
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds fn under name with the given fixed parameter.
func (r *Registry) Register(name string, fn Func, fixedParam int64) {
	r.entries[name] = Entry{Fn: fn, FixedParam: fixedParam}
}

// Lookup returns the entry for name, if registered.
func (r *Registry) Lookup(name string) (Entry, bool) {
	e, ok := r.entries[name]
	return e, ok
}

// retryOrFail turns a vmem fault into the built-in contract: a
// vmem.ErrRetryLater becomes (RetryLater, nil); any other error
// propagates as a failure the interpreter will fail the thread with.
func retryOrFail(err error) (PostProc, error) {
	if err == vmem.ErrRetryLater {
		return RetryLater, nil
	}
	return Normal, err
}
