// Package warp implements spec.md §4.5's thread migration protocol:
// mark a thread passive, ship a serialized dump of its frames plus the
// set of vaddrs it touches, reconstruct it on the target node, and
// acknowledge so the source can drop its own copy.
//
// Grounded on the teacher's absence of any migration concept
// (KTStephano-GVM has no equivalent to carrying a running thread
// across a process boundary) — this package is built directly from
// spec.md §4.5, reusing process.Thread/StackFrame's own fields as the
// dump shape and wire.Packet's JSON envelope as the transport, the
// same way router and scheduler already do.
package warp

import (
	"context"
	"time"

	"github.com/processwarp/core/internal/perror"
	"github.com/processwarp/core/internal/process"
	"github.com/processwarp/core/internal/vmem"
	"github.com/processwarp/core/internal/wire"
)

// Deadline bounds each delegate send of a warp: SendWarp in WarpOut and
// SendWarpAck in WarpIn. If SendWarp fails or times out, WarpOut puts
// the thread back to running locally. Once SendWarp has succeeded,
// nothing times out waiting for warp_ack: the thread stays passive
// until CompleteOut runs.
const Deadline = 30 * time.Second

// FrameDump is the wire-shaped snapshot of one StackFrame (§4.5 step 2).
type FrameDump struct {
	PC            uint64
	Phi0, Phi1    uint64
	Type          vmem.VAddr
	Output        vmem.VAddr
	Value         vmem.VAddr
	Address       vmem.VAddr
	Alignment     uint64
	AddressOffset uint64
	Stack         vmem.VAddr
	AllocaAddrs   []vmem.VAddr
	FuncAddr      vmem.VAddr
}

// ThreadDump is the wire-shaped snapshot of an entire Thread (§4.5 step
// 2), everything a target node needs to resume execution exactly where
// the source left off.
type ThreadDump struct {
	TID         process.TID
	JoinState   process.JoinState
	JoinWaitTID process.TID
	Frames      []FrameDump
	CallsAtExit []vmem.VAddr
}

// PageManifest lists the vaddrs a warping thread's frames reference,
// split by whether this node currently owns the page outright or only
// holds it readable. The manifest crosses the wire, not page bytes:
// the target pulls pages in lazily on first fault, exactly like any
// other cross-node access (§4.4, §4.5 step 3).
type PageManifest struct {
	Owned    []vmem.VAddr
	Readable []vmem.VAddr
}

// DumpThread snapshots th into a ThreadDump.
func DumpThread(th *process.Thread) ThreadDump {
	dump := ThreadDump{
		TID:         th.TID,
		JoinState:   th.JoinState,
		JoinWaitTID: th.JoinWaitTID,
		CallsAtExit: append([]vmem.VAddr(nil), th.CallsAtExit...),
	}
	for _, f := range th.Frames {
		dump.Frames = append(dump.Frames, FrameDump{
			PC:            f.PC,
			Phi0:          f.Phi0,
			Phi1:          f.Phi1,
			Type:          f.Type,
			Output:        f.Output,
			Value:         f.Value,
			Address:       f.Address,
			Alignment:     f.Alignment,
			AddressOffset: f.AddressOffset,
			Stack:         f.Stack,
			AllocaAddrs:   append([]vmem.VAddr(nil), f.AllocaAddrs...),
			FuncAddr:      f.FuncAddr,
		})
	}
	return dump
}

// RestoreThread rebuilds a Thread from a dump received over the wire
// (§4.5 step 4). The returned thread's Status is left at its zero
// value; callers set StatusRunning once it is registered with the
// target process.
func RestoreThread(dump ThreadDump) *process.Thread {
	th := process.NewThread(dump.TID)
	th.JoinState = dump.JoinState
	th.JoinWaitTID = dump.JoinWaitTID
	th.CallsAtExit = append([]vmem.VAddr(nil), dump.CallsAtExit...)
	for _, fd := range dump.Frames {
		th.PushFrame(&process.StackFrame{
			PC:            fd.PC,
			Phi0:          fd.Phi0,
			Phi1:          fd.Phi1,
			Type:          fd.Type,
			Output:        fd.Output,
			Value:         fd.Value,
			Address:       fd.Address,
			Alignment:     fd.Alignment,
			AddressOffset: fd.AddressOffset,
			Stack:         fd.Stack,
			AllocaAddrs:   append([]vmem.VAddr(nil), fd.AllocaAddrs...),
			FuncAddr:      fd.FuncAddr,
		})
	}
	return th
}

// BuildManifest collects every vaddr referenced by th's frames (§4.5
// step 3). An address this process's Store currently holds resident
// and writable goes in Owned; anything else (only ever faulted in
// read-only, or not yet touched at all) goes in Readable, so the
// target knows which addresses it can claim outright versus must still
// request.
func BuildManifest(proc *process.Process, th *process.Thread) PageManifest {
	var m PageManifest
	seen := make(map[vmem.VAddr]bool)
	add := func(addr vmem.VAddr) {
		if addr == vmem.NULL || seen[addr] {
			return
		}
		seen[addr] = true
		if proc.Memory.IsOwner(addr) {
			m.Owned = append(m.Owned, addr)
		} else {
			m.Readable = append(m.Readable, addr)
		}
	}
	for _, f := range th.Frames {
		add(f.Stack)
		for _, a := range f.AllocaAddrs {
			add(a)
		}
		add(f.Type)
		add(f.Output)
		add(f.Value)
		add(f.Address)
	}
	return m
}

// Delegate sends the two command packets the protocol needs over the
// network; a real node wires this to router.Router, tests wire it to a
// fake that records calls.
type Delegate interface {
	SendWarp(ctx context.Context, to wire.NodeID, pid wire.PID, dump ThreadDump, manifest PageManifest) error
	SendWarpAck(ctx context.Context, to wire.NodeID, pid wire.PID, tid process.TID) error
}

// Migrator drives both sides of §4.5's protocol for one node.
type Migrator struct {
	self     wire.NodeID
	delegate Delegate
}

// NewMigrator builds a Migrator for self, sending through delegate.
func NewMigrator(self wire.NodeID, delegate Delegate) *Migrator {
	return &Migrator{self: self, delegate: delegate}
}

// WarpOut runs steps 1-3 of §4.5 for a thread leaving this node: mark
// it passive so no further quantum runs against it here, then ship its
// dump and page manifest to target. The thread is left registered on
// proc until CompleteOut removes it, once the target's warp_ack
// arrives; if SendWarp itself fails, th is reverted to running so it
// keeps making progress locally instead of being stranded passive.
func (m *Migrator) WarpOut(ctx context.Context, proc *process.Process, th *process.Thread, target wire.NodeID) (ThreadDump, PageManifest, error) {
	ctx, cancel := context.WithTimeout(ctx, Deadline)
	defer cancel()

	th.Status = process.StatusPassive
	dump := DumpThread(th)
	manifest := BuildManifest(proc, th)

	if err := m.delegate.SendWarp(ctx, target, proc.PID, dump, manifest); err != nil {
		th.Status = process.StatusRunning
		return ThreadDump{}, PageManifest{}, perror.Wrap(perror.ServerSys, "warp: send warp", err)
	}
	return dump, manifest, nil
}

// CompleteOut finishes step 5 once target's warp_ack has arrived: the
// source drops its own copy of the thread. The caller is responsible
// for noticing if this was the process's last thread and tearing down
// proc's memory arena accordingly.
func (m *Migrator) CompleteOut(proc *process.Process, tid process.TID) {
	proc.RemoveThread(tid)
}

// WarpIn runs step 4 on the receiving node: reconstruct the thread from
// dump, record the manifest's addresses as owner hints pointing back at
// from (so the first fault against an address this node has never seen
// knows who to ask instead of failing outright), register the thread
// as running, and acknowledge.
func (m *Migrator) WarpIn(ctx context.Context, proc *process.Process, from wire.NodeID, dump ThreadDump, manifest PageManifest) (*process.Thread, error) {
	ctx, cancel := context.WithTimeout(ctx, Deadline)
	defer cancel()

	th := RestoreThread(dump)
	th.Status = process.StatusRunning
	proc.AddThread(th)

	for _, addr := range manifest.Owned {
		proc.Memory.NoteOwnerHint(addr, from)
	}
	for _, addr := range manifest.Readable {
		proc.Memory.NoteOwnerHint(addr, from)
	}

	if err := m.delegate.SendWarpAck(ctx, from, proc.PID, th.TID); err != nil {
		return th, perror.Wrap(perror.ServerSys, "warp: send warp_ack", err)
	}
	return th, nil
}
