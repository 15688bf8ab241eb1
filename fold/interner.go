package fold

import "sync"

// Interner deduplicates immutable shared fields (sender, dapp address) so
// many Input values can reference the same backing common.Address without
// each fold allocating its own copy, per spec.md §4.3 ("Deduplicates shared
// immutable fields ... through a UserData interner"). Grounded on the
// handle-registry pattern in revm_bridge/handles.go (a sync.Map keyed
// registry handing out stable references).
type Interner struct {
	mu   sync.Mutex
	seen map[[20]byte]*[20]byte
}

// NewInterner returns an empty interner.
func NewInterner() *Interner {
	return &Interner{seen: make(map[[20]byte]*[20]byte)}
}

// Intern returns a pointer shared by every caller that has interned the same
// 20-byte address value.
func (in *Interner) Intern(addr [20]byte) *[20]byte {
	in.mu.Lock()
	defer in.mu.Unlock()
	if p, ok := in.seen[addr]; ok {
		return p
	}
	cp := addr
	in.seen[addr] = &cp
	return &cp
}
