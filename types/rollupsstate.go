package types

import "github.com/ethereum/go-ethereum/common"

// RollupsConstants are the contract-creation-time immutables RollupsState
// carries alongside the derived phase, per spec.md §4.3.
type RollupsConstants struct {
	DappAddress     common.Address
	InputDuration   uint64
	ChallengePeriod uint64
	ContractCreatedTimestamp uint64
	GenesisTimestamp uint64
	EpochLength     uint64
	InitialEpoch    uint64
}

// RollupsState is the top-level foldable the dispatcher reacts to: the
// logical phase, its base timestamp (meaningful only for
// PhaseAwaitingConsensusAfterConflict), the immutable constants, and the full
// epoch sub-state (spec.md §4.3, §3).
type RollupsState struct {
	Constants RollupsConstants
	Phase     RollupsPhase
	PhaseBase uint64
	Epoch     *EpochState
}

// HasConflictingClaims reports whether the sealed epoch (if any) currently
// carries more than one distinct claim hash, the condition DerivePhase needs
// to distinguish AwaitingConsensusNoConflict from AfterConflict.
func (s *EpochState) HasConflictingClaims() bool {
	if s.Sealed == nil || s.Sealed.Claims == nil || !s.Sealed.Claims.HasClaims {
		return false
	}
	return len(s.Sealed.Claims.Claims) > 1
}

// DeriveLogicalPhase recomputes RollupsState.Phase/PhaseBase from Epoch and
// the given block timestamp, wrapping DerivePhase with this state's own
// constants.
func (s *RollupsState) DeriveLogicalPhase(now uint64) {
	phase, base := DerivePhase(
		s.Epoch.RawPhase,
		s.Epoch.PhaseChangeTimestamp,
		s.Constants.InputDuration,
		s.Constants.ChallengePeriod,
		now,
		s.Epoch.HasConflictingClaims(),
	)
	s.Phase = phase
	s.PhaseBase = base
}
