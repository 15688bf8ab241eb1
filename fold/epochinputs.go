package fold

import "github.com/cartesi/rollups-operator/types"

// EpochInputsOf slices box into the EpochInputState for epochNumber, deriving
// each input's epoch from its block timestamp via types.CalculateEpoch. The
// result is marked Finalized when upperBoundExclusive is non-nil and
// epochNumber is strictly below it (i.e. the epoch has already been
// finalized on-chain), per spec.md §4.3.
func EpochInputsOf(box *InputBox, epochNumber uint64, genesisTimestamp, epochLength uint64, upperBoundExclusive *uint64) *types.EpochInputState {
	state := &types.EpochInputState{Dapp: box.Dapp, EpochNumber: epochNumber}
	if upperBoundExclusive != nil && epochNumber < *upperBoundExclusive {
		state.Finalized = true
	}
	for _, in := range box.Box.Inputs {
		if types.CalculateEpoch(in.BlockAdded.Timestamp, genesisTimestamp, epochLength) == epochNumber {
			state.Inputs = append(state.Inputs, in)
		}
	}
	return state
}
