// Package scheduler implements spec.md §4.6's process directory and
// command dispatch: which node currently hosts which process, how a
// SCHEDULER-addressed command packet is handled, and the heartbeat
// miss policy that declares a node gone.
//
// Grounded on the teacher's numeric command-switch dispatch (KTStephano-GVM
// vm/devices.go's powerController.TrySend / memoryManagement.TrySend,
// each a small "if command == N" ladder) generalized to a string
// command-name dispatch table, and on its systemTimer goroutine
// (vm/devices.go) for the "a single timer channel drives a
// miss/expire decision" heartbeat shape.
package scheduler

import (
	"sync"
	"time"

	"github.com/processwarp/core/internal/perror"
	"github.com/processwarp/core/internal/process"
	"github.com/processwarp/core/internal/wire"
)

// HeartbeatInterval and HeartbeatMissLimit set the liveness policy of
// §4.6: a node that misses this many consecutive heartbeats in a row
// is declared gone, meaning CheckMisses drops it from the peer table
// and returns it. The processes it hosted are not marked lost or
// re-routed.
const (
	HeartbeatInterval  = 3 * time.Second
	HeartbeatMissLimit = 3
)

// ProcessInfo is one row of the scheduler's process directory (§3's
// ProcessInfo / §4.6): which nodes currently host this pid, which one
// is master (owns scheduling decisions for it), and the per-thread and
// per-GUI-window owning-node maps spec.md §3 names as ProcessInfo's
// "threads: map<tid, owning_nid>" and gui_nid fields.
type ProcessInfo struct {
	PID       wire.PID
	MasterNID wire.NodeID
	Hosts     map[wire.NodeID]struct{}
	// Threads maps a thread id to the node that currently owns
	// (executes) it. Filled only by RecordThreadHost, which the node
	// calls when a thread warps in (§4.5 step 5), so a VM-module packet
	// for a migrated thread routes to its new owner.
	Threads map[process.TID]wire.NodeID
	// GUINID is the node hosting pid's GUI window, if any (§4.6's
	// create_gui/warp_gui/heartbeat_gui commands).
	GUINID wire.NodeID
}

// nodeStatus tracks one peer's heartbeat bookkeeping.
type nodeStatus struct {
	lastSeen    time.Time
	consecutive int
}

// CommandFunc handles one parsed SCHEDULER command (§4.6's command
// table: create_process, exit_process, create_thread, exit_thread,
// warp_request, heartbeat, and friends).
type CommandFunc func(p wire.Packet) error

// Scheduler is a node's process directory plus its SCHEDULER-module
// command dispatch table.
type Scheduler struct {
	self wire.NodeID

	mu        sync.RWMutex
	processes map[wire.PID]*ProcessInfo
	nodes     map[wire.NodeID]*nodeStatus

	commands map[string]CommandFunc
}

// New builds an empty Scheduler for self.
func New(self wire.NodeID) *Scheduler {
	return &Scheduler{
		self:      self,
		processes: make(map[wire.PID]*ProcessInfo),
		nodes:     make(map[wire.NodeID]*nodeStatus),
		commands:  make(map[string]CommandFunc),
	}
}

// RegisterCommand installs the handler for a named SCHEDULER command.
func (s *Scheduler) RegisterCommand(name string, fn CommandFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands[name] = fn
}

// HandleLocal implements router.Handler: it reads the packet's command
// discriminator and dispatches to the registered handler (§4.6). A
// packet whose command cannot be decoded or is unrecognized is
// reported to the caller as a SERVER_APP error; HandleLocal itself
// does not log it.
func (s *Scheduler) HandleLocal(p wire.Packet) error {
	cmd, err := p.Command()
	if err != nil {
		return perror.Wrap(perror.ServerApp, "scheduler: decode command", err)
	}

	s.mu.RLock()
	fn, ok := s.commands[cmd]
	s.mu.RUnlock()
	if !ok {
		return perror.New(perror.ServerApp, "scheduler: unrecognized command "+cmd)
	}
	return fn(p)
}

// RegisterProcess records that pid is now hosted on host, becoming the
// master if this is the first host seen.
func (s *Scheduler) RegisterProcess(pid wire.PID, host wire.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.processes[pid]
	if !ok {
		info = &ProcessInfo{
			PID:       pid,
			MasterNID: host,
			Hosts:     make(map[wire.NodeID]struct{}),
			Threads:   make(map[process.TID]wire.NodeID),
		}
		s.processes[pid] = info
	}
	info.Hosts[host] = struct{}{}
}

// RecordThreadHost updates pid's owning-node for tid (§3's
// threads map, §4.5 step 5): called once a warp completes so the
// thread's new host becomes discoverable via GetDstNID(pid, VM).
func (s *Scheduler) RecordThreadHost(pid wire.PID, tid process.TID, host wire.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.processes[pid]
	if !ok {
		return
	}
	info.Threads[tid] = host
}

// SetGUIHost records which node hosts pid's GUI window (§4.6).
func (s *Scheduler) SetGUIHost(pid wire.PID, host wire.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.processes[pid]
	if !ok {
		return
	}
	info.GUINID = host
}

// RemoveHost drops host from pid's host set (exit_process, or a host's
// heartbeat expiring). The process entry itself is dropped once no
// host remains.
func (s *Scheduler) RemoveHost(pid wire.PID, host wire.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.processes[pid]
	if !ok {
		return
	}
	delete(info.Hosts, host)
	if len(info.Hosts) == 0 {
		delete(s.processes, pid)
	}
}

// GetDstNID answers "where should an unaddressed packet for pid go",
// branching per module per §4.6's routing table: a GUI-module packet
// goes to the process's GUI-hosting node; a VM-module packet goes to
// the single thread's current owning node once that is known (which a
// completed warp updates via RecordThreadHost); every other module,
// and any VM/GUI packet before that routing state exists, falls back
// to the master node, since master decisions (scheduling, thread
// placement) always originate there.
func (s *Scheduler) GetDstNID(pid wire.PID, module wire.Module) (wire.NodeID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.processes[pid]
	if !ok {
		return wire.SpecialNIDNone, perror.New(perror.ServerApp, "scheduler: unknown pid")
	}

	switch module {
	case wire.ModuleGUI:
		if info.GUINID != wire.SpecialNIDNone {
			return info.GUINID, nil
		}
	case wire.ModuleVM:
		if len(info.Threads) == 1 {
			for _, nid := range info.Threads {
				return nid, nil
			}
		}
	}
	return info.MasterNID, nil
}

// Hosts answers router's broadcast resolution (§4.7): every node
// currently hosting pid.
func (s *Scheduler) Hosts(pid wire.PID) ([]wire.NodeID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.processes[pid]
	if !ok {
		return nil, perror.New(perror.ServerApp, "scheduler: unknown pid")
	}
	out := make([]wire.NodeID, 0, len(info.Hosts))
	for nid := range info.Hosts {
		out = append(out, nid)
	}
	return out, nil
}

// RecvHeartbeat resets nid's miss counter (§4.6).
func (s *Scheduler) RecvHeartbeat(nid wire.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[nid] = &nodeStatus{lastSeen: timeNow(), consecutive: 0}
}

// CheckMisses advances every tracked node's miss counter by one tick
// and returns the nodes that just crossed HeartbeatMissLimit, so the
// caller can declare them gone and drop their hosted processes. Call
// this once per HeartbeatInterval.
func (s *Scheduler) CheckMisses() []wire.NodeID {
	s.mu.Lock()
	defer s.mu.Unlock()

	var gone []wire.NodeID
	for nid, st := range s.nodes {
		st.consecutive++
		if st.consecutive >= HeartbeatMissLimit {
			gone = append(gone, nid)
			delete(s.nodes, nid)
		}
	}
	return gone
}

// timeNow is a seam so tests can avoid depending on wall-clock time
// indirectly through RecvHeartbeat; production code just calls
// time.Now().
var timeNow = time.Now
