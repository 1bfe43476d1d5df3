package warp

import (
	"context"
	"testing"

	"github.com/processwarp/core/internal/process"
	"github.com/processwarp/core/internal/vmem"
	"github.com/processwarp/core/internal/wire"
)

type fakeDelegate struct {
	warpErr    error
	ackErr     error
	warpCalls  int
	ackCalls   int
	lastDump   ThreadDump
	lastManif  PageManifest
	lastTarget wire.NodeID
}

func (f *fakeDelegate) SendWarp(ctx context.Context, to wire.NodeID, pid wire.PID, dump ThreadDump, manifest PageManifest) error {
	f.warpCalls++
	f.lastDump = dump
	f.lastManif = manifest
	f.lastTarget = to
	return f.warpErr
}

func (f *fakeDelegate) SendWarpAck(ctx context.Context, to wire.NodeID, pid wire.PID, tid process.TID) error {
	f.ackCalls++
	return f.ackErr
}

func newTestThread(mem *vmem.Store) (*process.Process, *process.Thread) {
	proc := process.NewProcess("pid-1", 1, vmem.NULL, mem, "nodeA")
	th := process.NewThread(1)
	stack := mem.Alloc(64)
	alloca := mem.Alloc(8)
	th.PushFrame(&process.StackFrame{
		PC:      3,
		Stack:   stack,
		Value:   alloca,
		Address: alloca,
	})
	th.Frames[0].RecordAlloca(alloca)
	proc.AddThread(th)
	return proc, th
}

func TestWarpOutMarksPassiveAndSendsDump(t *testing.T) {
	mem := vmem.NewStore("nodeA", nil)
	proc, th := newTestThread(mem)
	d := &fakeDelegate{}
	m := NewMigrator("nodeA", d)

	dump, manifest, err := m.WarpOut(context.Background(), proc, th, "nodeB")
	if err != nil {
		t.Fatalf("WarpOut: %v", err)
	}
	if th.Status != process.StatusPassive {
		t.Fatalf("expected thread marked passive during warp-out")
	}
	if d.warpCalls != 1 || d.lastTarget != "nodeB" {
		t.Fatalf("expected exactly one SendWarp to nodeB, got %d calls to %q", d.warpCalls, d.lastTarget)
	}
	if len(dump.Frames) != 1 {
		t.Fatalf("expected 1 frame in dump, got %d", len(dump.Frames))
	}
	if len(manifest.Owned) == 0 {
		t.Fatalf("expected manifest to list the frame's resident pages")
	}
}

func TestWarpOutRevertsToRunningOnSendFailure(t *testing.T) {
	mem := vmem.NewStore("nodeA", nil)
	proc, th := newTestThread(mem)
	d := &fakeDelegate{warpErr: context.DeadlineExceeded}
	m := NewMigrator("nodeA", d)

	if _, _, err := m.WarpOut(context.Background(), proc, th, "nodeB"); err == nil {
		t.Fatalf("expected WarpOut to report the send failure")
	}
	if th.Status != process.StatusRunning {
		t.Fatalf("expected thread reverted to running after a failed send, got %v", th.Status)
	}
}

func TestWarpInReconstructsThreadAndAcks(t *testing.T) {
	mem := vmem.NewStore("nodeA", nil)
	srcProc, th := newTestThread(mem)
	d := &fakeDelegate{}
	m := NewMigrator("nodeA", d)
	dump, manifest, err := m.WarpOut(context.Background(), srcProc, th, "nodeB")
	if err != nil {
		t.Fatalf("WarpOut: %v", err)
	}

	dstMem := vmem.NewStore("nodeA", nil)
	dstProc := process.NewProcess("pid-1", 1, vmem.NULL, dstMem, "nodeA")
	dstMigrator := NewMigrator("nodeB", d)

	restored, err := dstMigrator.WarpIn(context.Background(), dstProc, "nodeA", dump, manifest)
	if err != nil {
		t.Fatalf("WarpIn: %v", err)
	}
	if restored.Status != process.StatusRunning {
		t.Fatalf("expected restored thread to be running")
	}
	if len(restored.Frames) != 1 || restored.Frames[0].PC != 3 {
		t.Fatalf("expected restored frame to match source PC, got %+v", restored.Frames)
	}
	if d.ackCalls != 1 {
		t.Fatalf("expected exactly one SendWarpAck, got %d", d.ackCalls)
	}
	if dstProc.Threads[th.TID] != restored {
		t.Fatalf("expected restored thread registered under its TID")
	}
}

func TestCompleteOutRemovesThread(t *testing.T) {
	mem := vmem.NewStore("nodeA", nil)
	proc, th := newTestThread(mem)
	m := NewMigrator("nodeA", &fakeDelegate{})

	m.CompleteOut(proc, th.TID)
	if _, ok := proc.Threads[th.TID]; ok {
		t.Fatalf("expected thread removed after CompleteOut")
	}
}
