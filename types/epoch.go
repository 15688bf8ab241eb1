package types

import (
	"github.com/ethereum/go-ethereum/common"
)

// RawPhase is the on-chain rollups phase enum, distinct from the derived
// RollupsPhase the dispatcher actually reasons about (see phase.go).
type RawPhase uint8

const (
	RawInputAccumulation RawPhase = iota
	RawAwaitingConsensus
	RawAwaitingDispute
)

// Claim is a single validator's assertion about an epoch's outcome. Multiple
// claims may coexist for the same epoch; a second, conflicting claim is
// resolved on-chain, not here.
type Claim struct {
	EpochHash  common.Hash
	FirstIndex uint64
	LastIndex  uint64
	Claimer    common.Address
}

// AccumulatingEpoch is the currently open epoch collecting inputs; it has no
// claim yet.
type AccumulatingEpoch struct {
	EpochNumber uint64
	Inputs      *EpochInputState
}

// SealedEpoch is an epoch that has stopped accumulating inputs (input
// duration elapsed) but has not yet finalized on-chain.
type SealedEpoch struct {
	EpochNumber uint64
	Inputs      *EpochInputState
	Claims      *SealedEpochState
}

// FinalizedEpoch is a canonical, on-chain-finalized epoch: its claim is final
// and its vouchers are executable.
type FinalizedEpoch struct {
	EpochNumber       uint64
	Hash              common.Hash
	Inputs            *EpochInputState
	FinalizedBlockHash common.Hash
	FinalizedBlockNum uint64
}

// FinalizedEpochs is the gap-free list of FinalizedEpoch values starting at
// InitialEpoch. Insert rejects any entry where EpochNumber != InitialEpoch +
// len(Epochs), preserving the invariant from spec.md §4.3.
type FinalizedEpochs struct {
	InitialEpoch uint64
	Epochs       []*FinalizedEpoch
}

// NextEpochNumber is the epoch number the next Insert must carry.
func (f *FinalizedEpochs) NextEpochNumber() uint64 {
	return f.InitialEpoch + uint64(len(f.Epochs))
}

// Insert appends e if it is gap-free, returning an error otherwise. The
// receiver is not mutated in place in callers that must preserve
// immutability of previously-published states; fold implementations are
// expected to copy-on-write before calling Insert on a fresh copy.
func (f *FinalizedEpochs) Insert(e *FinalizedEpoch) error {
	if e.EpochNumber != f.NextEpochNumber() {
		return &GapError{Expected: f.NextEpochNumber(), Got: e.EpochNumber}
	}
	f.Epochs = append(f.Epochs, e)
	return nil
}

// GapError reports a non-gap-free insert into FinalizedEpochs, a permanent
// foldable invariant breach per spec.md §7.
type GapError struct {
	Expected uint64
	Got      uint64
}

func (e *GapError) Error() string {
	return "types: finalized epoch gap: expected " + itoa(e.Expected) + " got " + itoa(e.Got)
}

// SealedEpochState is the tagged union described in spec.md §4.3:
// SealedEpochNoClaims | SealedEpochWithClaims. HasClaims discriminates.
type SealedEpochState struct {
	HasClaims          bool
	Claims             map[common.Hash]map[common.Address]struct{}
	FirstClaimTimestamp uint64
}

// NewSealedEpochNoClaims returns the SealedEpochNoClaims variant.
func NewSealedEpochNoClaims() *SealedEpochState {
	return &SealedEpochState{HasClaims: false}
}

// WithClaim records a claim and returns the SealedEpochWithClaims variant,
// folding additional claimants for an already-seen epoch hash into the same
// set.
func (s *SealedEpochState) WithClaim(epochHash common.Hash, claimer common.Address, ts uint64) *SealedEpochState {
	claims := make(map[common.Hash]map[common.Address]struct{}, len(s.Claims)+1)
	for h, set := range s.Claims {
		cp := make(map[common.Address]struct{}, len(set))
		for a := range set {
			cp[a] = struct{}{}
		}
		claims[h] = cp
	}
	set, ok := claims[epochHash]
	if !ok {
		set = make(map[common.Address]struct{})
		claims[epochHash] = set
	}
	set[claimer] = struct{}{}

	firstTs := s.FirstClaimTimestamp
	if !s.HasClaims || ts < firstTs {
		firstTs = ts
	}
	return &SealedEpochState{HasClaims: true, Claims: claims, FirstClaimTimestamp: firstTs}
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
