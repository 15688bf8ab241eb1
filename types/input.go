package types

import (
	"github.com/ethereum/go-ethereum/common"
)

// Input is a single InputAdded log decoded into a chain-level input. Ordering
// is total per dapp by (BlockAdded.Number, TxIndex, LogIndex); InputBox
// preserves that order.
type Input struct {
	Sender     common.Address
	Dapp       common.Address
	Payload    []byte
	BlockAdded *Block
	TxHash     common.Hash
	TxIndex    uint
	LogIndex   uint
}

// DAppInputBox is the append-only, per-dapp ordered sequence of Input
// produced by the InputBox fold. Reorgs may truncate it; they never reorder
// or mutate surviving entries (state objects are immutable once published).
type DAppInputBox struct {
	Dapp   common.Address
	Inputs []*Input
}

// EpochInputState is the subset of a DAppInputBox belonging to one epoch
// number. It becomes immutable once the on-chain epoch finalizes.
type EpochInputState struct {
	Dapp        common.Address
	EpochNumber uint64
	Inputs      []*Input
	Finalized   bool
}

// CalculateEpoch classifies a timestamp into an epoch number using
// floor((ts-genesisTs)/epochLength). Per spec.md S8, ts must be >= genesisTs;
// callers that violate the invariant get a panic rather than a silently wrong
// epoch number, matching the "foldable invariant breach is fatal" policy in
// spec.md §7.
func CalculateEpoch(ts, genesisTs, epochLength uint64) uint64 {
	if ts < genesisTs {
		panic("types: CalculateEpoch: timestamp before genesis")
	}
	if epochLength == 0 {
		panic("types: CalculateEpoch: zero epoch length")
	}
	return (ts - genesisTs) / epochLength
}
