package types

// EpochState combines the current raw on-chain phase with the three epoch
// lifecycle stages and the timestamp of the last raw phase change, per
// spec.md §4.3. At most one of Current/Sealed is non-nil at a time: while
// RawPhase is InputAccumulation, Current holds the open epoch and Sealed is
// nil; once sealed, Current is nil and Sealed holds the claims collected so
// far.
type EpochState struct {
	RawPhase          RawPhase
	PhaseChangeTimestamp *uint64
	Current           *AccumulatingEpoch
	Sealed            *SealedEpoch
	Finalized         *FinalizedEpochs
	Validators        *ValidatorManager
	Fees              *FeeManager
}
