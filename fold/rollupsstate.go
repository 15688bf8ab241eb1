package fold

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cartesi/rollups-operator/types"
)

// RollupsSources bundles every sub-foldable RollupsState composes, so
// FoldRollupsState can fold each one incrementally instead of re-deriving the
// whole tree from scratch every block (spec.md §4.3's "combines the above").
type RollupsSources struct {
	Box        *InputBox
	Phase      *PhaseState
	Sealed     *types.SealedEpochState
	Finalized  *types.FinalizedEpochs
	Validators *types.ValidatorManager
	Fees       *types.FeeManager
}

// Addresses groups the contract addresses a RollupsState fold reads logs
// from (spec.md §4.3's "rollups" and "input box" contracts are distinct).
type Addresses struct {
	InputBox common.Address
	Rollups  common.Address
	Dapp     common.Address
}

func buildEpochState(constants *types.RollupsConstants, src *RollupsSources, block *types.Block) *types.EpochState {
	epoch := types.CalculateEpoch(block.Timestamp, constants.GenesisTimestamp, constants.EpochLength)
	nextFinalized := src.Finalized.NextEpochNumber()

	epochState := &types.EpochState{
		RawPhase:             src.Phase.Raw,
		PhaseChangeTimestamp: src.Phase.ChangedAt,
		Finalized:            src.Finalized,
		Validators:           src.Validators,
		Fees:                 src.Fees,
	}

	if src.Phase.Raw == types.RawInputAccumulation {
		epochState.Current = &types.AccumulatingEpoch{
			EpochNumber: epoch,
			Inputs:      EpochInputsOf(src.Box, epoch, constants.GenesisTimestamp, constants.EpochLength, &nextFinalized),
		}
		return epochState
	}

	sealedNumber := nextFinalized
	epochState.Sealed = &types.SealedEpoch{
		EpochNumber: sealedNumber,
		Inputs:      EpochInputsOf(src.Box, sealedNumber, constants.GenesisTimestamp, constants.EpochLength, &nextFinalized),
		Claims:      src.Sealed,
	}
	return epochState
}

// SyncRollupsState derives the full RollupsState from scratch up to block,
// per spec.md §4.3/§4.4. constants must already be known (see
// SyncRollupsConstants; it is cached for the lifetime of the dapp since it
// never changes).
func SyncRollupsState(ctx context.Context, env *Environment, addr Addresses, constants *types.RollupsConstants, block *types.Block) (*RollupsSources, *types.RollupsState, error) {
	box, err := SyncInputBox(ctx, env, addr.InputBox, addr.Dapp, constants.GenesisTimestamp, block)
	if err != nil {
		return nil, nil, err
	}
	phase, err := SyncPhaseState(ctx, env, addr.Rollups, constants.GenesisTimestamp, block)
	if err != nil {
		return nil, nil, err
	}
	finalized, err := SyncFinalizedEpochs(ctx, env, addr.Rollups, constants.InitialEpoch, constants.GenesisTimestamp, block, func(uint64) *types.EpochInputState { return nil })
	if err != nil {
		return nil, nil, err
	}
	validators, err := SyncValidatorManager(ctx, env, addr.Rollups, constants.GenesisTimestamp, block)
	if err != nil {
		return nil, nil, err
	}
	fees, err := SyncFeeManager(ctx, env, addr.Rollups, constants.GenesisTimestamp, block, validators.IsRemoved)
	if err != nil {
		return nil, nil, err
	}
	sealedNumber := finalized.NextEpochNumber()
	var sealed *types.SealedEpochState
	if phase.Raw != types.RawInputAccumulation {
		sealed, err = SyncSealedEpochState(ctx, env, addr.Rollups, sealedNumber, constants.GenesisTimestamp, block)
		if err != nil {
			return nil, nil, err
		}
	} else {
		sealed = types.NewSealedEpochNoClaims()
	}

	src := &RollupsSources{Box: box, Phase: phase, Sealed: sealed, Finalized: finalized, Validators: validators, Fees: fees}
	state := &types.RollupsState{Constants: *constants, Epoch: buildEpochState(constants, src, block)}
	state.DeriveLogicalPhase(block.Timestamp)
	return src, state, nil
}

// FoldRollupsState derives state incrementally from previous sources.
func FoldRollupsState(ctx context.Context, env *Environment, addr Addresses, constants *types.RollupsConstants, previous *RollupsSources, block *types.Block) (*RollupsSources, *types.RollupsState, error) {
	box, err := FoldInputBox(ctx, env, addr.InputBox, previous.Box, block)
	if err != nil {
		return nil, nil, fmt.Errorf("fold: RollupsState: %w", err)
	}
	phase, err := FoldPhaseState(ctx, env, addr.Rollups, previous.Phase, block)
	if err != nil {
		return nil, nil, fmt.Errorf("fold: RollupsState: %w", err)
	}
	finalized, err := FoldFinalizedEpochs(ctx, env, addr.Rollups, previous.Finalized, block, func(uint64) *types.EpochInputState { return nil })
	if err != nil {
		return nil, nil, fmt.Errorf("fold: RollupsState: %w", err)
	}
	validators, err := FoldValidatorManager(ctx, env, addr.Rollups, previous.Validators, block)
	if err != nil {
		return nil, nil, fmt.Errorf("fold: RollupsState: %w", err)
	}
	fees, err := FoldFeeManager(ctx, env, addr.Rollups, previous.Fees, block, validators.IsRemoved)
	if err != nil {
		return nil, nil, fmt.Errorf("fold: RollupsState: %w", err)
	}

	sealedNumber := finalized.NextEpochNumber()
	sealed := previous.Sealed
	justSealed := previous.Phase.Raw == types.RawInputAccumulation && phase.Raw != types.RawInputAccumulation
	if justSealed {
		sealed = types.NewSealedEpochNoClaims()
	}
	if phase.Raw != types.RawInputAccumulation {
		sealed, err = FoldSealedEpochState(ctx, env, addr.Rollups, sealedNumber, sealed, block)
		if err != nil {
			return nil, nil, fmt.Errorf("fold: RollupsState: %w", err)
		}
	}

	src := &RollupsSources{Box: box, Phase: phase, Sealed: sealed, Finalized: finalized, Validators: validators, Fees: fees}
	state := &types.RollupsState{Constants: *constants, Epoch: buildEpochState(constants, src, block)}
	state.DeriveLogicalPhase(block.Timestamp)
	return src, state, nil
}
