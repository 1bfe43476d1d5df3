package vmem

// Page is the DataStore of spec.md §3: a contiguous vaddr-addressed
// byte region owned by exactly one node at a time.
//
// The require() rate-limit bookkeeping of §4.4 lives on Store instead
// of here (see Store.lastRequire/Store.consecutiveMisses): a Page only
// exists once an address has a local copy, but the rate limit must
// also cover the very first, never-resident fault against an address,
// so it cannot be keyed off page residency.
type Page struct {
	Addr    VAddr
	Bytes   []byte
	OwnerID NodeID
	Readers map[NodeID]struct{}
	// Version is bumped on every accepted write and every ownership
	// transfer (Open Question decision in DESIGN.md: spec.md says
	// "changes propagate as version bumps" without naming a field).
	Version uint64
}

func newPage(addr VAddr, size int, owner NodeID) *Page {
	return &Page{
		Addr:    addr,
		Bytes:   make([]byte, size),
		OwnerID: owner,
		Readers: make(map[NodeID]struct{}),
		Version: 1,
	}
}

// IsWritable reports whether self, the local node, may accept writes to
// this page: it must be the owner. PROGRAM-tagged pages are immutable
// after load regardless of ownership (§3).
func (p *Page) IsWritable(self NodeID) bool {
	if p.Addr.Tag() == AddrProgram {
		return false
	}
	return p.OwnerID == self
}
