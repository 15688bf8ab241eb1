package fold

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/cartesi/rollups-operator/types"
)

// claimEvent is a decoded Claim(uint256 indexed epochNumber, address indexed
// claimer, bytes32 epochHash) log.
type claimEvent struct {
	epochNumber uint64
	claimer     common.Address
	epochHash   common.Hash
	timestamp   uint64
}

func decodeClaim(l *ethtypes.Log, blockTimestamp uint64) (*claimEvent, error) {
	if len(l.Topics) < 3 {
		return nil, fmt.Errorf("fold: Claim: missing indexed topics")
	}
	epochNumber := bigFromTopic(l.Topics[1]).Uint64()
	claimer := common.BytesToAddress(l.Topics[2].Bytes())
	if len(l.Data) < 32 {
		return nil, fmt.Errorf("fold: Claim: short data")
	}
	epochHash := common.BytesToHash(l.Data[:32])
	return &claimEvent{
		epochNumber: epochNumber,
		claimer:     claimer,
		epochHash:   epochHash,
		timestamp:   blockTimestamp,
	}, nil
}

// SyncSealedEpochState derives the SealedEpochState for a single, not-yet
// finalized epoch by replaying its Claim logs (spec.md §4.3).
func SyncSealedEpochState(ctx context.Context, env *Environment, rollupsAddr common.Address, epochNumber, genesis uint64, block *types.Block) (*types.SealedEpochState, error) {
	logs, err := env.Sync.SyncRange(ctx, genesis, block.Number, []common.Address{rollupsAddr}, [][]common.Hash{{topicClaim}})
	if err != nil {
		return nil, fmt.Errorf("fold: SealedEpochState sync: %w", err)
	}
	state := types.NewSealedEpochNoClaims()
	for i := range logs {
		blk, err := env.Block(ctx, logs[i].BlockHash)
		if err != nil {
			return nil, fmt.Errorf("fold: SealedEpochState: resolve block: %w", err)
		}
		ev, err := decodeClaim(&logs[i], blk.Timestamp)
		if err != nil {
			return nil, err
		}
		if ev.epochNumber != epochNumber {
			continue
		}
		state = state.WithClaim(ev.epochHash, ev.claimer, ev.timestamp)
	}
	return state, nil
}

// FoldSealedEpochState derives state incrementally, folding any Claim events
// for epochNumber observed in this block into previous.
func FoldSealedEpochState(ctx context.Context, env *Environment, rollupsAddr common.Address, epochNumber uint64, previous *types.SealedEpochState, block *types.Block) (*types.SealedEpochState, error) {
	if !BloomRelevant(block.LogsBloom, rollupsAddr, []common.Hash{topicClaim}) {
		return previous, nil
	}
	logs, err := env.FoldAcc.FoldQuery(ctx, block.Hash, []common.Address{rollupsAddr}, [][]common.Hash{{topicClaim}})
	if err != nil {
		return nil, fmt.Errorf("fold: SealedEpochState fold: %w", err)
	}
	state := previous
	for i := range logs {
		ev, err := decodeClaim(&logs[i], block.Timestamp)
		if err != nil {
			return nil, err
		}
		if ev.epochNumber != epochNumber {
			continue
		}
		state = state.WithClaim(ev.epochHash, ev.claimer, ev.timestamp)
	}
	return state, nil
}
