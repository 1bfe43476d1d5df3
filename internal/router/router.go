// Package router implements spec.md §4.6/§4.7's command packet
// dispatch: deliver a wire.Packet to the local module that owns it, or
// forward it to the right node when it doesn't.
//
// Grounded on the teacher's hardware-device dispatch table (KTStephano-GVM
// vm/devices.go's HardwareDevice.TrySend, looked up by a small fixed id)
// — the same "a bus keyed by an id dispatches to one of a handful of
// registered handlers, reporting NotFound rather than panicking" shape,
// generalized from device ids to wire.Module.
package router

import (
	"sync"

	"github.com/processwarp/core/internal/perror"
	"github.com/processwarp/core/internal/wire"
)

// Handler processes a packet addressed to one module, locally.
type Handler interface {
	HandleLocal(p wire.Packet) error
}

// Transport sends a packet to another node. A real node wires this to
// its network layer (internal/transport); tests wire it to a fake that
// records sends.
type Transport interface {
	Send(nid wire.NodeID, p wire.Packet) error
}

// DstResolver answers "which node(s) currently host this pid", the
// scheduler's GetDstNID (§4.6), branching per module per its routing
// table (a VM-module packet for a migrated thread routes differently
// than a SCHEDULER-module one).
type DstResolver interface {
	GetDstNID(pid wire.PID, module wire.Module) (wire.NodeID, error)
	Hosts(pid wire.PID) ([]wire.NodeID, error)
}

// Router is a node's single dispatch point for every inbound and
// outbound command packet (§3, §4.6, §4.7).
type Router struct {
	self      wire.NodeID
	transport Transport
	resolver  DstResolver

	mu       sync.RWMutex
	handlers map[wire.Module]Handler
}

// New builds a Router for self, delivering through transport and
// resolving destinations through resolver.
func New(self wire.NodeID, transport Transport, resolver DstResolver) *Router {
	return &Router{
		self:      self,
		transport: transport,
		resolver:  resolver,
		handlers:  make(map[wire.Module]Handler),
	}
}

// Register installs the local handler for module m. Re-registering
// replaces the previous handler, matching §4.6's "at most one handler
// per module per node" invariant.
func (r *Router) Register(m wire.Module, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[m] = h
}

// RelayCommand is the single entry point every module calls to send a
// packet: it resolves dst_nid (direct, broadcast, or "ask the
// scheduler"), delivers locally when dst is self, and forwards
// otherwise (§4.7). fromNetwork must be true only when p just arrived
// from another node over the transport (see Receive); locally
// originated sends (a module relaying its own outbound command) pass
// false.
func (r *Router) RelayCommand(p wire.Packet, fromNetwork bool) error {
	if p.DstNID == wire.SpecialNIDBroadcast {
		return r.broadcast(p, fromNetwork)
	}

	dst := p.DstNID
	if dst == wire.SpecialNIDNone {
		resolved, err := r.resolver.GetDstNID(p.PID, p.Module)
		if err != nil {
			return perror.Wrap(perror.ServerSys, "router: resolve dst_nid", err)
		}
		dst = resolved
	}

	if dst == r.self {
		return r.deliverLocal(p)
	}
	return r.forward(dst, p, fromNetwork)
}

// Receive is the entry point a transport calls when a packet arrives
// from the network (§4.7): it is distinguished from a local module's
// own outbound RelayCommand call so forward can apply the literal
// loop-back rule -- "rejecting packets where src_nid == my_nid
// arriving from the network" -- rather than a broader same-effect
// check that would also reject legitimate locally-originated traffic.
func (r *Router) Receive(p wire.Packet) error {
	return r.RelayCommand(p, true)
}

// broadcast delivers p to every node currently hosting p.PID, skipping
// self's own send-to-self (handled as a direct local delivery instead)
// to avoid the packet looping back over the network (§4.7's "never
// re-route a packet back to where it came from").
func (r *Router) broadcast(p wire.Packet, fromNetwork bool) error {
	hosts, err := r.resolver.Hosts(p.PID)
	if err != nil {
		return perror.Wrap(perror.ServerSys, "router: resolve broadcast hosts", err)
	}

	var firstErr error
	for _, nid := range hosts {
		var err error
		if nid == r.self {
			err = r.deliverLocal(p)
		} else {
			err = r.forward(nid, p, fromNetwork)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Router) deliverLocal(p wire.Packet) error {
	r.mu.RLock()
	h, ok := r.handlers[p.Module]
	r.mu.RUnlock()
	if !ok {
		// §7: the packet is dropped and a SERVER_APP error is returned
		// to the caller; no thread is touched here.
		return perror.New(perror.ServerApp, "router: no local handler for module "+p.Module.String())
	}
	return h.HandleLocal(p)
}

func (r *Router) forward(dst wire.NodeID, p wire.Packet, fromNetwork bool) error {
	if dst == wire.SpecialNIDNone {
		return perror.New(perror.ServerSys, "router: unresolvable destination for pid "+string(p.PID))
	}
	// §4.7's literal rule: reject a packet whose src_nid is this node's
	// own id, but only when it just arrived from the network -- that
	// combination can only mean a stale or malformed bounce. A
	// locally-originated packet addressed back through forward (e.g. a
	// broadcast fan-out) legitimately carries src_nid == r.self and must
	// not be rejected by this check.
	if fromNetwork && p.SrcNID == r.self {
		return perror.New(perror.ServerApp, "router: rejected loop-back packet to "+string(dst))
	}
	return r.transport.Send(dst, p)
}
