package fold

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/cartesi/rollups-operator/types"
)

var phaseChangeArgs = abi.Arguments{{Type: mustType("uint8")}}

func decodePhaseChange(l *ethtypes.Log) (types.RawPhase, error) {
	vals, err := unpackNonIndexed(phaseChangeArgs, l.Data)
	if err != nil {
		return 0, fmt.Errorf("fold: PhaseChange: %w", err)
	}
	raw, ok := vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("fold: PhaseChange: raw phase field missing")
	}
	return types.RawPhase(raw), nil
}

// PhaseState is the raw on-chain phase plus the timestamp of the block in
// which it last changed (nil before any PhaseChange has been observed, the
// Open Question resolved in DerivePhase).
type PhaseState struct {
	Raw       types.RawPhase
	ChangedAt *uint64
}

// SyncPhaseState replays every PhaseChange log up to block, keeping only the
// last one (spec.md §4.3: the raw phase is simply the most recently emitted
// value).
func SyncPhaseState(ctx context.Context, env *Environment, rollupsAddr common.Address, genesis uint64, block *types.Block) (*PhaseState, error) {
	logs, err := env.Sync.SyncRange(ctx, genesis, block.Number, []common.Address{rollupsAddr}, [][]common.Hash{{topicPhaseChange}})
	if err != nil {
		return nil, fmt.Errorf("fold: PhaseState sync: %w", err)
	}
	state := &PhaseState{Raw: types.RawInputAccumulation}
	for i := range logs {
		raw, err := decodePhaseChange(&logs[i])
		if err != nil {
			return nil, err
		}
		blk, err := env.Block(ctx, logs[i].BlockHash)
		if err != nil {
			return nil, fmt.Errorf("fold: PhaseState: resolve block: %w", err)
		}
		ts := blk.Timestamp
		state = &PhaseState{Raw: raw, ChangedAt: &ts}
	}
	return state, nil
}

// FoldPhaseState derives state incrementally from previous.
func FoldPhaseState(ctx context.Context, env *Environment, rollupsAddr common.Address, previous *PhaseState, block *types.Block) (*PhaseState, error) {
	if !BloomRelevant(block.LogsBloom, rollupsAddr, []common.Hash{topicPhaseChange}) {
		return previous, nil
	}
	logs, err := env.FoldAcc.FoldQuery(ctx, block.Hash, []common.Address{rollupsAddr}, [][]common.Hash{{topicPhaseChange}})
	if err != nil {
		return nil, fmt.Errorf("fold: PhaseState fold: %w", err)
	}
	state := previous
	for i := range logs {
		raw, err := decodePhaseChange(&logs[i])
		if err != nil {
			return nil, err
		}
		ts := block.Timestamp
		state = &PhaseState{Raw: raw, ChangedAt: &ts}
	}
	return state, nil
}
