package fold

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/cartesi/rollups-operator/types"
)

var rollupsInitializedArgs = abi.Arguments{
	{Type: mustType("uint256")}, // inputDuration
	{Type: mustType("uint256")}, // challengePeriod
	{Type: mustType("uint256")}, // contractCreatedTimestamp
}

// SyncRollupsConstants reads the single RollupsInitialized log emitted at
// contract-creation time and builds the immutable constants every
// RollupsState carries, per spec.md §4.3. These never change again, so there
// is no corresponding FoldRollupsConstants: callers cache the result once.
func SyncRollupsConstants(ctx context.Context, env *Environment, rollupsAddr, dappAddr common.Address, genesisBlock, genesisTimestamp, epochLength, initialEpoch uint64, block *types.Block) (*types.RollupsConstants, error) {
	logs, err := env.Sync.SyncRange(ctx, genesisBlock, block.Number, []common.Address{rollupsAddr}, [][]common.Hash{{topicRollupsInitialized}})
	if err != nil {
		return nil, fmt.Errorf("fold: RollupsConstants sync: %w", err)
	}
	if len(logs) == 0 {
		return nil, fmt.Errorf("fold: RollupsConstants: no RollupsInitialized log found up to block %d", block.Number)
	}
	vals, err := unpackNonIndexed(rollupsInitializedArgs, logs[0].Data)
	if err != nil {
		return nil, fmt.Errorf("fold: RollupsInitialized: %w", err)
	}
	return &types.RollupsConstants{
		DappAddress:              dappAddr,
		InputDuration:            vals[0].(*big.Int).Uint64(),
		ChallengePeriod:          vals[1].(*big.Int).Uint64(),
		ContractCreatedTimestamp: vals[2].(*big.Int).Uint64(),
		GenesisTimestamp:         genesisTimestamp,
		EpochLength:              epochLength,
		InitialEpoch:             initialEpoch,
	}, nil
}
