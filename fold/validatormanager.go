package fold

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/cartesi/rollups-operator/types"
)

func decodeDisputeEnded(l *ethtypes.Log) (winner, loser common.Address, err error) {
	if len(l.Topics) < 3 {
		return common.Address{}, common.Address{}, fmt.Errorf("fold: DisputeEnded: missing indexed topics")
	}
	return common.BytesToAddress(l.Topics[1].Bytes()), common.BytesToAddress(l.Topics[2].Bytes()), nil
}

var validatorManagerTopics = [][]common.Hash{{topicClaim, topicNewEpoch, topicDisputeEnded}}

// SyncValidatorManager derives the ValidatorManager by replaying Claim,
// NewEpoch and DisputeEnded logs in block order, per spec.md §4.3. Log order
// within a block matters here (a DisputeEnded can invalidate a Claim from the
// same block), so logs must be processed in the order returned by the access
// layer (ascending block number, then log index).
func SyncValidatorManager(ctx context.Context, env *Environment, rollupsAddr common.Address, genesis uint64, block *types.Block) (*types.ValidatorManager, error) {
	logs, err := env.Sync.SyncRange(ctx, genesis, block.Number, []common.Address{rollupsAddr}, validatorManagerTopics)
	if err != nil {
		return nil, fmt.Errorf("fold: ValidatorManager sync: %w", err)
	}
	vm := types.NewValidatorManager()
	for i := range logs {
		vm, err = applyValidatorManagerLog(vm, &logs[i])
		if err != nil {
			return nil, err
		}
	}
	return vm, nil
}

// FoldValidatorManager derives state incrementally from previous.
func FoldValidatorManager(ctx context.Context, env *Environment, rollupsAddr common.Address, previous *types.ValidatorManager, block *types.Block) (*types.ValidatorManager, error) {
	if !BloomRelevant(block.LogsBloom, rollupsAddr, []common.Hash{topicClaim, topicNewEpoch, topicDisputeEnded}) {
		return previous, nil
	}
	logs, err := env.FoldAcc.FoldQuery(ctx, block.Hash, []common.Address{rollupsAddr}, validatorManagerTopics)
	if err != nil {
		return nil, fmt.Errorf("fold: ValidatorManager fold: %w", err)
	}
	vm := previous
	for i := range logs {
		vm, err = applyValidatorManagerLog(vm, &logs[i])
		if err != nil {
			return nil, err
		}
	}
	return vm, nil
}

func applyValidatorManagerLog(vm *types.ValidatorManager, l *ethtypes.Log) (*types.ValidatorManager, error) {
	if len(l.Topics) == 0 {
		return vm, nil
	}
	switch l.Topics[0] {
	case topicClaim:
		ev, err := decodeClaim(l, 0)
		if err != nil {
			return nil, err
		}
		return vm.OnClaim(ev.claimer, false), nil
	case topicNewEpoch:
		return vm.OnNewEpoch(), nil
	case topicDisputeEnded:
		_, loser, err := decodeDisputeEnded(l)
		if err != nil {
			return nil, err
		}
		return vm.OnDisputeLost(loser), nil
	default:
		return vm, nil
	}
}
