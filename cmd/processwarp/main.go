// Command processwarp runs one node of a ProcessWarp fleet: it wires up
// one process with its memory store, router and scheduler, starts an
// interpreter loop over that process's threads, and answers/relays
// command packets for MEMORY, VM, and SCHEDULER. main loads no program
// itself: node.bootstrap takes a loader.Bootstrap, and main does not
// call it.
//
// Grounded on the teacher's top-level wiring in main.go: a single
// recover() wrapping the run loop that turns a panic into a reported
// error instead of crashing the process, and a -debug flag, which here
// turns on per-quantum trace logging.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/processwarp/core/internal/builtin"
	"github.com/processwarp/core/internal/config"
	"github.com/processwarp/core/internal/interp"
	"github.com/processwarp/core/internal/loader"
	"github.com/processwarp/core/internal/perror"
	"github.com/processwarp/core/internal/process"
	"github.com/processwarp/core/internal/router"
	"github.com/processwarp/core/internal/scheduler"
	"github.com/processwarp/core/internal/vmem"
	"github.com/processwarp/core/internal/warp"
	"github.com/processwarp/core/internal/wire"
)

func main() {
	cfg, err := config.Load(os.Args[0], os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	n := newNode(cfg)

	defer func() {
		if r := recover(); r != nil {
			n.log.Printf("recovered from panic: %v", r)
			os.Exit(1)
		}
	}()

	n.run()
}

// node bundles one process's worth of wiring: the process itself, its
// interpreter, and the router/scheduler it talks through. A production
// node hosts many processes; this binary's scope is the single-process
// case, the same scope the teacher's main.go has (one VM per run).
type node struct {
	cfg     config.Config
	log     *log.Logger
	proc    *process.Process
	interp  *interp.Interpreter
	sched   *scheduler.Scheduler
	router  *router.Router
	migrate *warp.Migrator
}

func newNode(cfg config.Config) *node {
	logger := log.New(os.Stderr, "["+string(cfg.NodeID)+"] ", log.LstdFlags)
	transport := &loggingTransport{self: cfg.NodeID, log: logger}
	sched := scheduler.New(cfg.NodeID)
	r := router.New(cfg.NodeID, transport, sched)

	pid := wire.PID("root")
	memDelegate := &routedMemDelegate{self: cfg.NodeID, pid: pid, router: r}
	mem := vmem.NewStore(cfg.NodeID, memDelegate)

	proc := process.NewProcess(pid, process.AllThread+1, vmem.NULL, mem, cfg.NodeID)
	sched.RegisterProcess(pid, cfg.NodeID)

	registry := builtin.NewRegistry()
	builtin.RegisterLibc(registry)

	ip := interp.New(proc, interp.NewProgram(), registry, cfg.Quantum)

	r.Register(wire.ModuleMemory, &memoryHandler{store: mem})
	r.Register(wire.ModuleScheduler, sched)

	migrateDelegate := &routedWarpDelegate{self: cfg.NodeID, router: r}
	migrator := warp.NewMigrator(cfg.NodeID, migrateDelegate)

	n := &node{cfg: cfg, log: logger, proc: proc, interp: ip, sched: sched, router: r, migrate: migrator}

	// The warp subsystem is only reachable once something answers
	// VM-module packets: routedWarpDelegate addresses both "warp" and
	// "warp_ack" to wire.ModuleVM, so a node that never registers a
	// handler for it can send a migration but never receive or
	// complete one.
	r.Register(wire.ModuleVM, &vmHandler{node: n})

	sched.RegisterCommand("heartbeat", func(p wire.Packet) error {
		sched.RecvHeartbeat(p.SrcNID)
		return nil
	})

	// warp_thread drives step 1 of §4.5 from the SCHEDULER side: some
	// other node (or this one's own scheduling policy) decided tid
	// should move to target, so kick off the outbound half of the
	// protocol. The inbound half (reconstructing the thread, acking)
	// runs through vmHandler above once target's warp_ack or warp
	// packet arrives.
	sched.RegisterCommand("warp_thread", func(p wire.Packet) error {
		var cmd warpThreadCommand
		if err := p.Decode(&cmd); err != nil {
			return perror.Wrap(perror.ServerApp, "main: decode warp_thread command", err)
		}
		th, ok := n.proc.Threads[cmd.TID]
		if !ok {
			return perror.New(perror.ServerApp, "main: warp_thread: unknown tid")
		}
		_, _, err := n.migrate.WarpOut(context.Background(), n.proc, th, cmd.Target)
		if err != nil {
			return perror.Wrap(perror.ServerSys, "main: warp out", err)
		}
		return nil
	})

	return n
}

// warpThreadCommand is the SCHEDULER-module payload that kicks off an
// outbound migration: move tid to target (§4.5 step 1).
type warpThreadCommand struct {
	Command string      `json:"command"`
	TID     process.TID `json:"tid"`
	Target  wire.NodeID `json:"target"`
}

// bootstrap loads a program through lb and pushes the process's root
// thread at its entry point. The actual program format/fetch strategy
// is out of scope (loader.Bootstrap is only a registration contract);
// a deployment wires a concrete implementation in before calling run.
func (n *node) bootstrap(lb loader.Bootstrap) error {
	prog, entry, err := lb.Load(n.proc.Memory)
	if err != nil {
		return perror.Wrap(perror.Configure, "main: bootstrap program", err)
	}
	n.interp.Program = prog

	root := process.NewThread(n.proc.RootTID)
	root.PushFrame(&process.StackFrame{
		FuncAddr: entry,
		Stack:    n.proc.Memory.Alloc(interp.DefaultFrameStackSize),
	})
	n.proc.AddThread(root)
	return nil
}

// run drives every thread in the process to completion, one quantum at
// a time, the way the teacher's main loop drives a single VM to
// errProgramFinished. With -debug it logs each quantum's result. A
// thread whose quantum fails is marked terminated.
func (n *node) run() {
	ticker := time.NewTicker(scheduler.HeartbeatInterval)
	defer ticker.Stop()

	for {
		if !n.proc.RootAlive() {
			return
		}

		ran := false
		for tid, th := range n.proc.Threads {
			if th.Status != process.StatusRunning {
				continue
			}
			ran = true
			res, err := n.interp.RunQuantum(th)
			if n.cfg.Debug {
				n.log.Printf("tid=%d result=%v err=%v", tid, res, err)
			}
			if res == interp.Failed && err != nil {
				n.log.Printf("tid=%d failed: %v", tid, err)
				th.Status = process.StatusTerminated
			}
		}

		select {
		case <-ticker.C:
			for _, gone := range n.sched.CheckMisses() {
				n.log.Printf("node %s declared gone (missed %d heartbeats)", gone, scheduler.HeartbeatMissLimit)
			}
		default:
		}

		if !ran {
			return
		}
	}
}

// loggingTransport stands in for internal/transport.Conn: a real
// deployment dials peers over the network (out of scope per §1); this
// binary logs what it would have sent so a single-node run still
// exercises every RelayCommand path without one.
type loggingTransport struct {
	self wire.NodeID
	log  *log.Logger
}

func (t *loggingTransport) Send(nid wire.NodeID, p wire.Packet) error {
	t.log.Printf("transport: no network backend wired; dropping pid=%s module=%s dst=%s", p.PID, p.Module, nid)
	return nil
}

func (t *loggingTransport) Close() error { return nil }

// routedMemDelegate adapts vmem.Store's coherence callbacks onto
// MEMORY-module command packets relayed through router.Router.
type routedMemDelegate struct {
	self   wire.NodeID
	pid    wire.PID
	router *router.Router
}

type memCommand struct {
	Command           string        `json:"command"`
	Addr              vmem.VAddr    `json:"addr"`
	Writable          bool          `json:"writable,omitempty"`
	Bytes             []byte        `json:"bytes,omitempty"`
	OtherReaders      []wire.NodeID `json:"other_readers,omitempty"`
	TransferOwnership bool          `json:"transfer_ownership,omitempty"`
}

func (d *routedMemDelegate) send(dst wire.NodeID, cmd memCommand) error {
	content, err := wire.Encode(cmd)
	if err != nil {
		return perror.Wrap(perror.ServerSys, "main: encode memory command", err)
	}
	return d.router.RelayCommand(wire.Packet{
		PID: d.pid, DstNID: dst, SrcNID: d.self, Module: wire.ModuleMemory, Content: content,
	}, false)
}

func (d *routedMemDelegate) SendRequire(owner vmem.NodeID, addr vmem.VAddr, writable bool) error {
	return d.send(owner, memCommand{Command: "require", Addr: addr, Writable: writable})
}

func (d *routedMemDelegate) SendGive(to vmem.NodeID, addr vmem.VAddr, bytes []byte, otherReaders []vmem.NodeID, transferOwnership bool) error {
	return d.send(to, memCommand{Command: "give", Addr: addr, Bytes: bytes, OtherReaders: otherReaders, TransferOwnership: transferOwnership})
}

func (d *routedMemDelegate) SendUnwant(readers []vmem.NodeID, addr vmem.VAddr) error {
	var firstErr error
	for _, r := range readers {
		if err := d.send(r, memCommand{Command: "unwant", Addr: addr}); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (d *routedMemDelegate) BroadcastFree(addr vmem.VAddr) error {
	return d.send(wire.SpecialNIDBroadcast, memCommand{Command: "free", Addr: addr})
}

// memoryHandler decodes an inbound MEMORY-module packet and applies it
// to the local vmem.Store (§4.4's require/give/unwant/free protocol).
type memoryHandler struct {
	store *vmem.Store
}

func (h *memoryHandler) HandleLocal(p wire.Packet) error {
	var cmd memCommand
	if err := p.Decode(&cmd); err != nil {
		return perror.Wrap(perror.ServerApp, "main: decode memory command", err)
	}
	switch cmd.Command {
	case "require":
		return h.store.OnRequire(p.SrcNID, cmd.Addr, cmd.Writable)
	case "give":
		h.store.OnGive(cmd.Addr, cmd.Bytes, p.SrcNID, cmd.OtherReaders, cmd.TransferOwnership)
		return nil
	case "unwant":
		h.store.OnUnwant(cmd.Addr)
		return nil
	case "free":
		h.store.OnFree(cmd.Addr)
		return nil
	default:
		return perror.New(perror.ServerApp, "main: unrecognized memory command "+cmd.Command)
	}
}

// routedWarpDelegate adapts warp.Migrator's two outbound calls onto
// VM-module command packets.
type routedWarpDelegate struct {
	self   wire.NodeID
	router *router.Router
}

type warpCommand struct {
	Command  string            `json:"command"`
	Dump     warp.ThreadDump   `json:"dump,omitempty"`
	Manifest warp.PageManifest `json:"manifest,omitempty"`
	TID      process.TID       `json:"tid,omitempty"`
}

func (d *routedWarpDelegate) SendWarp(ctx context.Context, to wire.NodeID, pid wire.PID, dump warp.ThreadDump, manifest warp.PageManifest) error {
	content, err := wire.Encode(warpCommand{Command: "warp", Dump: dump, Manifest: manifest})
	if err != nil {
		return perror.Wrap(perror.ServerSys, "main: encode warp command", err)
	}
	return d.router.RelayCommand(wire.Packet{PID: pid, DstNID: to, SrcNID: d.self, Module: wire.ModuleVM, Content: content}, false)
}

func (d *routedWarpDelegate) SendWarpAck(ctx context.Context, to wire.NodeID, pid wire.PID, tid process.TID) error {
	content, err := wire.Encode(warpCommand{Command: "warp_ack", TID: tid})
	if err != nil {
		return perror.Wrap(perror.ServerSys, "main: encode warp_ack command", err)
	}
	return d.router.RelayCommand(wire.Packet{PID: pid, DstNID: to, SrcNID: d.self, Module: wire.ModuleVM, Content: content}, false)
}

// vmHandler decodes an inbound VM-module packet and drives the
// receiving side of §4.5's migration protocol: a "warp" packet
// reconstructs the thread here, records its new host with the
// scheduler so get_dst_nid(pid, VM) reflects reality, and acks back;
// a "warp_ack" lets the source drop its own copy of the thread.
type vmHandler struct {
	node *node
}

func (h *vmHandler) HandleLocal(p wire.Packet) error {
	var cmd warpCommand
	if err := p.Decode(&cmd); err != nil {
		return perror.Wrap(perror.ServerApp, "main: decode warp command", err)
	}
	switch cmd.Command {
	case "warp":
		th, err := h.node.migrate.WarpIn(context.Background(), h.node.proc, p.SrcNID, cmd.Dump, cmd.Manifest)
		if err != nil {
			return perror.Wrap(perror.ServerSys, "main: warp in", err)
		}
		h.node.sched.RecordThreadHost(p.PID, th.TID, h.node.cfg.NodeID)
		return nil
	case "warp_ack":
		h.node.migrate.CompleteOut(h.node.proc, cmd.TID)
		return nil
	default:
		return perror.New(perror.ServerApp, "main: unrecognized warp command "+cmd.Command)
	}
}
