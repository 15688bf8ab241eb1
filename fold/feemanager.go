package fold

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/cartesi/rollups-operator/types"
)

var (
	feeManagerInitializedArgs = abi.Arguments{{Type: mustType("uint256")}, {Type: mustType("uint256")}}
	feePerClaimResetArgs      = abi.Arguments{{Type: mustType("uint256")}}
	amountArgs                = abi.Arguments{{Type: mustType("uint256")}} // shared by FeeRedeemed/Deposit (amount is non-indexed)
)

var feeManagerTopics = [][]common.Hash{{topicFeeManagerInitialized, topicFeePerClaimReset, topicFeeRedeemed, topicTransfer, topicDeposit}}

// SyncFeeManager derives the FeeManager by replaying
// FeeManagerInitialized/FeePerClaimReset/FeeRedeemed/Transfer/Deposit logs in
// order, per spec.md §4.3. validatorRemoved reports whether a validator has
// been removed by ValidatorManager, since a removed validator's redemptions
// must be ignored (spec.md §4.3 cross-foldable dependency).
func SyncFeeManager(ctx context.Context, env *Environment, rollupsAddr common.Address, genesis uint64, block *types.Block, validatorRemoved func(common.Address) bool) (*types.FeeManager, error) {
	logs, err := env.Sync.SyncRange(ctx, genesis, block.Number, []common.Address{rollupsAddr}, feeManagerTopics)
	if err != nil {
		return nil, fmt.Errorf("fold: FeeManager sync: %w", err)
	}
	fm := types.NewFeeManager(0, 0)
	for i := range logs {
		fm, err = applyFeeManagerLog(fm, &logs[i], validatorRemoved)
		if err != nil {
			return nil, err
		}
	}
	return fm, nil
}

// FoldFeeManager derives state incrementally from previous.
func FoldFeeManager(ctx context.Context, env *Environment, rollupsAddr common.Address, previous *types.FeeManager, block *types.Block, validatorRemoved func(common.Address) bool) (*types.FeeManager, error) {
	if !BloomRelevant(block.LogsBloom, rollupsAddr, []common.Hash{topicFeeManagerInitialized, topicFeePerClaimReset, topicFeeRedeemed, topicTransfer, topicDeposit}) {
		return previous, nil
	}
	logs, err := env.FoldAcc.FoldQuery(ctx, block.Hash, []common.Address{rollupsAddr}, feeManagerTopics)
	if err != nil {
		return nil, fmt.Errorf("fold: FeeManager fold: %w", err)
	}
	fm := previous
	for i := range logs {
		fm, err = applyFeeManagerLog(fm, &logs[i], validatorRemoved)
		if err != nil {
			return nil, err
		}
	}
	return fm, nil
}

func applyFeeManagerLog(fm *types.FeeManager, l *ethtypes.Log, validatorRemoved func(common.Address) bool) (*types.FeeManager, error) {
	if len(l.Topics) == 0 {
		return fm, nil
	}
	switch l.Topics[0] {
	case topicFeeManagerInitialized:
		vals, err := unpackNonIndexed(feeManagerInitializedArgs, l.Data)
		if err != nil {
			return nil, fmt.Errorf("fold: FeeManagerInitialized: %w", err)
		}
		bank := vals[0].(*big.Int).Uint64()
		feePerClaim := vals[1].(*big.Int).Uint64()
		return types.NewFeeManager(bank, feePerClaim), nil
	case topicFeePerClaimReset:
		vals, err := unpackNonIndexed(feePerClaimResetArgs, l.Data)
		if err != nil {
			return nil, fmt.Errorf("fold: FeePerClaimReset: %w", err)
		}
		return fm.OnFeePerClaimReset(vals[0].(*big.Int).Uint64()), nil
	case topicFeeRedeemed:
		if len(l.Topics) < 2 {
			return nil, fmt.Errorf("fold: FeeRedeemed: missing indexed topic")
		}
		validator := common.BytesToAddress(l.Topics[1].Bytes())
		vals, err := unpackNonIndexed(amountArgs, l.Data)
		if err != nil {
			return nil, fmt.Errorf("fold: FeeRedeemed: %w", err)
		}
		claims := vals[0].(*big.Int).Uint64()
		return fm.OnFeeRedeemed(validator, claims, validatorRemoved(validator)), nil
	case topicTransfer, topicDeposit:
		vals, err := unpackNonIndexed(amountArgs, l.Data)
		if err != nil {
			return nil, fmt.Errorf("fold: Deposit/Transfer: %w", err)
		}
		return fm.OnDeposit(vals[0].(*big.Int).Uint64()), nil
	default:
		return fm, nil
	}
}
