// Package transport names the network boundary router.Router sends
// through. The actual socket/protocol implementation is out of scope
// per spec.md §1 ("the wire format and transport mechanism are left to
// the deployment"); this package is only the registration contract so
// the rest of the module compiles and tests against a fake.
package transport

import "github.com/processwarp/core/internal/wire"

// Conn is one node's connection to the rest of the fleet: it can send
// a packet to a named peer and deliver inbound packets to a sink.
// Inbound packets end up at router.Router.Receive (Router has no
// Deliver method, so it is not itself a Sink); Conn itself is the
// canonical implementation of router.Transport.
type Conn interface {
	// Send transmits p to nid. Implementations are expected to dial or
	// reuse a connection as needed; spec.md leaves retry/backoff policy
	// to the deployment.
	Send(nid wire.NodeID, p wire.Packet) error

	// Close releases any held connections.
	Close() error
}

// Sink receives packets arriving from the network, handing them to the
// local router for dispatch.
type Sink interface {
	Deliver(p wire.Packet) error
}
