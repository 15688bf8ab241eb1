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

var finalizeEpochArgs = abi.Arguments{
	{Type: mustType("uint256")}, // epochNumber
	{Type: mustType("bytes32")}, // epochHash
}

func decodeFinalizeEpoch(l *ethtypes.Log) (epochNum uint64, hash common.Hash, err error) {
	vals, err := unpackNonIndexed(finalizeEpochArgs, l.Data)
	if err != nil {
		return 0, common.Hash{}, fmt.Errorf("fold: FinalizeEpoch: %w", err)
	}
	n, ok := vals[0].(*big.Int)
	if !ok {
		return 0, common.Hash{}, fmt.Errorf("fold: FinalizeEpoch: epochNumber field missing")
	}
	h, ok := vals[1].([32]byte)
	if !ok {
		return 0, common.Hash{}, fmt.Errorf("fold: FinalizeEpoch: epochHash field missing")
	}
	return n.Uint64(), common.Hash(h), nil
}

func finalizedEpochFromLog(l *ethtypes.Log, inputsOf func(epoch uint64) *types.EpochInputState) (*types.FinalizedEpoch, error) {
	epochNum, hash, err := decodeFinalizeEpoch(l)
	if err != nil {
		return nil, err
	}
	return &types.FinalizedEpoch{
		EpochNumber:        epochNum,
		Hash:               hash,
		Inputs:             inputsOf(epochNum),
		FinalizedBlockHash: l.BlockHash,
		FinalizedBlockNum:  l.BlockNumber,
	}, nil
}

// SyncFinalizedEpochs derives the gap-free FinalizedEpochs list from
// FinalizeEpoch logs, per spec.md §4.3. Non-gap-free inserts are rejected
// with a *types.GapError, a permanent foldable invariant breach (spec.md §7).
func SyncFinalizedEpochs(ctx context.Context, env *Environment, rollupsAddr common.Address, initialEpoch, genesis uint64, block *types.Block, inputsOf func(epoch uint64) *types.EpochInputState) (*types.FinalizedEpochs, error) {
	logs, err := env.Sync.SyncRange(ctx, genesis, block.Number, []common.Address{rollupsAddr}, [][]common.Hash{{topicFinalizeEpoch}})
	if err != nil {
		return nil, fmt.Errorf("fold: FinalizedEpochs sync: %w", err)
	}
	f := &types.FinalizedEpochs{InitialEpoch: initialEpoch}
	for i := range logs {
		e, err := finalizedEpochFromLog(&logs[i], inputsOf)
		if err != nil {
			return nil, err
		}
		if err := f.Insert(e); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// FoldFinalizedEpochs derives state incrementally, appending any newly
// finalized epochs observed in this block.
func FoldFinalizedEpochs(ctx context.Context, env *Environment, rollupsAddr common.Address, previous *types.FinalizedEpochs, block *types.Block, inputsOf func(epoch uint64) *types.EpochInputState) (*types.FinalizedEpochs, error) {
	if !BloomRelevant(block.LogsBloom, rollupsAddr, []common.Hash{topicFinalizeEpoch}) {
		return previous, nil
	}
	logs, err := env.FoldAcc.FoldQuery(ctx, block.Hash, []common.Address{rollupsAddr}, [][]common.Hash{{topicFinalizeEpoch}})
	if err != nil {
		return nil, fmt.Errorf("fold: FinalizedEpochs fold: %w", err)
	}
	if len(logs) == 0 {
		return previous, nil
	}
	next := &types.FinalizedEpochs{InitialEpoch: previous.InitialEpoch, Epochs: append([]*types.FinalizedEpoch{}, previous.Epochs...)}
	for i := range logs {
		e, err := finalizedEpochFromLog(&logs[i], inputsOf)
		if err != nil {
			return nil, err
		}
		if err := next.Insert(e); err != nil {
			return nil, err
		}
	}
	return next, nil
}
