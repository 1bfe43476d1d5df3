package vmem

import (
	"sync"
	"time"

	"github.com/processwarp/core/internal/perror"
)

// RequireInterval is MEMORY_REQUIRE_INTERVAL from spec.md §4.4: the
// minimum spacing between repeated require() sends for the same addr.
const RequireInterval = 5 * time.Second

// ErrRetryLater is returned by Store operations that could not be
// completed locally and must be retried by the interpreter at the same
// pc on a later quantum (§4.2, §5's suspension points).
var ErrRetryLater = perror.New(perror.Memory, "vmem: retry later")

// Delegate is the capability record a Store uses to talk to the rest
// of the node (§9 Design Notes: delegates are capability records of
// function values, not inheritance). A real node wires this to its
// Router; tests wire it to a fake that records calls.
type Delegate interface {
	// SendRequire asks owner for addr, optionally requesting ownership.
	SendRequire(owner NodeID, addr VAddr, writable bool) error
	// SendGive replies to a requester with the page bytes, optionally
	// transferring ownership, plus a hint of other known readers.
	SendGive(to NodeID, addr VAddr, bytes []byte, otherReaders []NodeID, transferOwnership bool) error
	// SendUnwant invalidates addr on the given readers after an
	// ownership transfer.
	SendUnwant(readers []NodeID, addr VAddr) error
	// BroadcastFree announces that addr has been freed.
	BroadcastFree(addr VAddr) error
}

// Store is a node's view of the distributed VMEM for one process
// (spec.md §3/§4.4). It owns a subset of the process's address space:
// pages it created or was given, the coherence bookkeeping for them,
// and the size-class allocator.
type Store struct {
	self     NodeID
	delegate Delegate

	mu    sync.Mutex
	pages map[VAddr]*Page
	// ownerHint remembers the last known owner of an address this node
	// is not resident for, so require() knows who to ask (§4.4: "emit
	// require to the last known owner").
	ownerHint map[VAddr]NodeID
	// lastRequire and consecutiveMisses carry the require() rate-limit
	// state of §4.4 per address, independent of whether a Page exists
	// yet for that address -- a never-resident address must be rate
	// limited starting from its very first fault, not just once it has
	// a stale local copy.
	lastRequire       map[VAddr]time.Time
	consecutiveMisses map[VAddr]int
	// free is the per-size-class free list so malloc/free can reuse
	// an address without a separate map (§3).
	free map[AddrType][]VAddr
	next map[AddrType]uint64
}

// NewStore builds an empty Store for the given node identity.
func NewStore(self NodeID, delegate Delegate) *Store {
	return &Store{
		self:              self,
		delegate:          delegate,
		pages:             make(map[VAddr]*Page),
		ownerHint:         make(map[VAddr]NodeID),
		lastRequire:       make(map[VAddr]time.Time),
		consecutiveMisses: make(map[VAddr]int),
		free:              make(map[AddrType][]VAddr),
		next:              make(map[AddrType]uint64),
	}
}

// Alloc allocates a page of n bytes in the smallest covering size
// class, owned by self (§4.4, §8 boundary cases). A freed address in
// that class is reused if one is available.
func (s *Store) Alloc(n uint64) VAddr {
	s.mu.Lock()
	defer s.mu.Unlock()

	class := SizeClassFor(n)
	if freed := s.free[class]; len(freed) > 0 {
		addr := freed[len(freed)-1]
		s.free[class] = freed[:len(freed)-1]
		s.pages[addr] = newPage(addr, int(n), s.self)
		return addr
	}

	payload := s.next[class]
	addr := WithTag(class, payload)
	for _, taken := s.pages[addr]; taken; _, taken = s.pages[addr] {
		payload++
		addr = WithTag(class, payload)
	}
	s.next[class] = payload + 1
	s.pages[addr] = newPage(addr, int(n), s.self)
	return addr
}

// AllocProgram allocates an immutable PROGRAM-area page (types,
// functions), which is replicated freely without ownership (§4.4).
func (s *Store) AllocProgram(payload uint64, bytes []byte) VAddr {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr := WithTag(AddrProgram, payload)
	p := newPage(addr, len(bytes), s.self)
	copy(p.Bytes, bytes)
	s.pages[addr] = p
	return addr
}

// Free releases addr locally and broadcasts MEMORY:free (§4.4). A
// double-free is fatal, matching §4.3's free() contract.
func (s *Store) Free(addr VAddr) error {
	if addr == NULL {
		return nil
	}

	s.mu.Lock()
	p, ok := s.pages[addr]
	if !ok {
		s.mu.Unlock()
		return perror.New(perror.Memory, "vmem: double free")
	}
	delete(s.pages, addr)
	s.free[addr.Tag()] = append(s.free[addr.Tag()], addr)
	s.mu.Unlock()

	_ = p
	if s.delegate != nil {
		return s.delegate.BroadcastFree(addr)
	}
	return nil
}

// Resident reports whether addr has a locally cached page, with no
// network round trip.
func (s *Store) Resident(addr VAddr) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pages[addr]
	return ok
}

// Get returns the locally resident page for a read, or ErrRetryLater
// after issuing (or having recently issued) a require() to the last
// known owner (§4.4 read fault).
func (s *Store) Get(addr VAddr) (*Page, error) {
	s.mu.Lock()
	if p, ok := s.pages[addr]; ok {
		s.mu.Unlock()
		return p, nil
	}
	owner, known := s.ownerHint[addr]
	s.mu.Unlock()

	if !known {
		return nil, perror.New(perror.SegmentFault, "vmem: unresolvable vaddr")
	}
	return nil, s.fault(addr, owner, false)
}

// GetWritable returns the locally resident page if this node already
// owns it; otherwise it requests ownership transfer and returns
// ErrRetryLater (§4.4 write fault).
func (s *Store) GetWritable(addr VAddr) (*Page, error) {
	s.mu.Lock()
	p, ok := s.pages[addr]
	if ok && p.IsWritable(s.self) {
		s.mu.Unlock()
		return p, nil
	}
	var owner NodeID
	if ok {
		owner = p.OwnerID
	} else {
		owner = s.ownerHint[addr]
	}
	s.mu.Unlock()

	return nil, s.fault(addr, owner, true)
}

// fault applies the rate-limited require() protocol of §4.4: it will
// not resend require for the same addr more often than RequireInterval,
// tracked per address from its very first fault regardless of whether
// a Page is resident yet, and after two consecutive unanswered
// intervals it reports ErrRetryLater up through the caller just the
// same (the interpreter cannot distinguish "about to arrive" from
// "given up for now"; both suspend the instruction, per §5).
func (s *Store) fault(addr VAddr, owner NodeID, writable bool) error {
	s.mu.Lock()
	now := time.Now()
	canSend := now.Sub(s.lastRequire[addr]) >= RequireInterval
	if canSend {
		s.lastRequire[addr] = now
		s.consecutiveMisses[addr]++
	}
	s.mu.Unlock()

	if canSend && s.delegate != nil {
		if err := s.delegate.SendRequire(owner, addr, writable); err != nil {
			return perror.Wrap(perror.Memory, "vmem: send require", err)
		}
	}
	return ErrRetryLater
}

// OnGive handles an inbound MEMORY:give reply (§4.4): it installs the
// page bytes locally, becoming either the owner (transferOwnership) or
// a reader, and resets the rate-limit/miss bookkeeping.
func (s *Store) OnGive(addr VAddr, bytes []byte, from NodeID, otherReaders []NodeID, transferOwnership bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pages[addr]
	if !ok {
		p = newPage(addr, len(bytes), from)
		s.pages[addr] = p
	}
	copy(p.Bytes, bytes)
	delete(s.consecutiveMisses, addr)
	delete(s.lastRequire, addr)
	delete(s.ownerHint, addr)

	if transferOwnership {
		p.OwnerID = s.self
		p.Version++
	} else {
		p.OwnerID = from
		p.Readers[s.self] = struct{}{}
	}
	for _, r := range otherReaders {
		p.Readers[r] = struct{}{}
	}
}

// OnRequire handles an inbound MEMORY:require from another node: if
// self owns addr, it replies with give(), demoting itself to reader or
// evicting when writable is requested (§4.4 write path).
func (s *Store) OnRequire(requester NodeID, addr VAddr, writable bool) error {
	s.mu.Lock()
	p, ok := s.pages[addr]
	if !ok || p.OwnerID != s.self {
		s.mu.Unlock()
		// Not the owner: nothing to give. A well-behaved caller only
		// asks the last known owner, so this is a stale hint; drop it
		// per the router/scheduler "log and drop" policy (§7).
		return nil
	}

	bytes := make([]byte, len(p.Bytes))
	copy(bytes, p.Bytes)
	var readers []NodeID
	for r := range p.Readers {
		readers = append(readers, r)
	}

	if writable {
		prevReaders := readers
		p.OwnerID = requester
		p.Readers = make(map[NodeID]struct{})
		p.Version++
		s.mu.Unlock()

		if err := s.delegate.SendGive(requester, addr, bytes, prevReaders, true); err != nil {
			return perror.Wrap(perror.Memory, "vmem: send give", err)
		}
		if len(prevReaders) > 0 {
			return s.delegate.SendUnwant(prevReaders, addr)
		}
		return nil
	}

	p.Readers[requester] = struct{}{}
	s.mu.Unlock()
	if err := s.delegate.SendGive(requester, addr, bytes, readers, false); err != nil {
		return perror.Wrap(perror.Memory, "vmem: send give", err)
	}
	return nil
}

// OnUnwant handles an inbound MEMORY:unwant: it evicts the local
// reader copy of addr, since ownership moved elsewhere (§4.4 Invalidate).
func (s *Store) OnUnwant(addr VAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pages[addr]; ok && p.OwnerID != s.self {
		delete(s.pages, addr)
	}
}

// OnFree handles an inbound MEMORY:free broadcast: it drops any local
// copy of addr.
func (s *Store) OnFree(addr VAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pages, addr)
	delete(s.ownerHint, addr)
	delete(s.lastRequire, addr)
	delete(s.consecutiveMisses, addr)
}

// ReadBytes returns a copy of addr's page bytes, faulting per Get if
// the page is not locally resident.
func (s *Store) ReadBytes(addr VAddr) ([]byte, error) {
	p, err := s.Get(addr)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(p.Bytes))
	copy(out, p.Bytes)
	return out, nil
}

// WriteBytes overwrites addr's page bytes with data, faulting per
// GetWritable if this node does not already own the page. data longer
// than the page is truncated to the page's allocated size, matching
// realloc's "copy min(old_size,n)" contract (§4.3) when reused here.
func (s *Store) WriteBytes(addr VAddr, data []byte) error {
	p, err := s.GetWritable(addr)
	if err != nil {
		return err
	}
	n := copy(p.Bytes, data)
	_ = n
	p.Version++
	return nil
}

// Size returns the allocated byte size of addr's page, faulting per Get.
func (s *Store) Size(addr VAddr) (int, error) {
	p, err := s.Get(addr)
	if err != nil {
		return 0, err
	}
	return len(p.Bytes), nil
}

// ReadAt reads length bytes at offset within addr's page, faulting per
// Get. Used by the interpreter's frame-local slot table addressing
// (§4.2's stack-relative operand resolution).
func (s *Store) ReadAt(addr VAddr, offset, length int) ([]byte, error) {
	p, err := s.Get(addr)
	if err != nil {
		return nil, err
	}
	if offset < 0 || offset+length > len(p.Bytes) {
		return nil, perror.New(perror.SegmentFault, "vmem: read out of page bounds")
	}
	out := make([]byte, length)
	copy(out, p.Bytes[offset:offset+length])
	return out, nil
}

// IsOwner reports whether self currently owns the locally resident page
// at addr (§4.2's CMPXCHG precondition: "succeeds iff owner-nid equals
// this node"). A non-resident address is never this node's own, so it
// reports false without faulting -- the caller is expected to treat
// that as a CAS failure, not a retry.
func (s *Store) IsOwner(addr VAddr) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pages[addr]
	return ok && p.OwnerID == s.self
}

// NoteOwnerHint records owner as the last known owner of addr without
// requiring a page fault first. Used when a thread warps in (§4.5 step
// 4): the incoming page manifest names addresses this node has never
// seen before, so the first fault against them needs somewhere to ask.
func (s *Store) NoteOwnerHint(addr VAddr, owner NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, resident := s.pages[addr]; resident {
		return
	}
	s.ownerHint[addr] = owner
}

// WriteAt writes data at offset within addr's page, faulting per
// GetWritable.
func (s *Store) WriteAt(addr VAddr, offset int, data []byte) error {
	p, err := s.GetWritable(addr)
	if err != nil {
		return err
	}
	if offset < 0 || offset+len(data) > len(p.Bytes) {
		return perror.New(perror.SegmentFault, "vmem: write out of page bounds")
	}
	copy(p.Bytes[offset:offset+len(data)], data)
	p.Version++
	return nil
}
