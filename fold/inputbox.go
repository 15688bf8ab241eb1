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

var inputAddedArgs = abi.Arguments{
	{Type: mustType("uint256")}, // inputIndex
	{Type: mustType("bytes")},   // input payload
}

func mustType(t string) abi.Type {
	ty, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return ty
}

// InputBox is the foldable described in spec.md §4.3: a per-dapp ordered
// list of Input, built from InputAdded logs.
type InputBox struct {
	Dapp common.Address
	Box  *types.DAppInputBox
}

// SyncInputBox derives an InputBox from scratch up to block, per the
// sync()/fold() contract in spec.md §4.3.
func SyncInputBox(ctx context.Context, env *Environment, inputBoxAddr, dapp common.Address, genesis uint64, block *types.Block) (*InputBox, error) {
	logs, err := env.Sync.SyncRange(ctx, genesis, block.Number, []common.Address{inputBoxAddr}, [][]common.Hash{{topicInputAdded}, nil, {addrTopic(dapp)}})
	if err != nil {
		return nil, fmt.Errorf("fold: InputBox sync: %w", err)
	}
	box := &types.DAppInputBox{Dapp: dapp}
	for _, l := range logs {
		blk, err := env.Block(ctx, l.BlockHash)
		if err != nil {
			return nil, fmt.Errorf("fold: InputBox: resolve block: %w", err)
		}
		in, err := decodeInputAdded(env, &l, blk)
		if err != nil {
			return nil, err
		}
		box.Inputs = append(box.Inputs, in)
	}
	return &InputBox{Dapp: dapp, Box: box}, nil
}

// FoldInputBox derives state incrementally from previous (the state at
// block.ParentHash), per spec.md §4.3 invariant 1 (determinism) and
// invariant 2 (bloom short-circuit).
func FoldInputBox(ctx context.Context, env *Environment, inputBoxAddr common.Address, previous *InputBox, block *types.Block) (*InputBox, error) {
	if !BloomRelevant(block.LogsBloom, inputBoxAddr, []common.Hash{topicInputAdded}) {
		return previous, nil
	}
	logs, err := env.FoldAcc.FoldQuery(ctx, block.Hash, []common.Address{inputBoxAddr}, [][]common.Hash{{topicInputAdded}, nil, {addrTopic(previous.Dapp)}})
	if err != nil {
		return nil, fmt.Errorf("fold: InputBox fold: %w", err)
	}
	if len(logs) == 0 {
		return previous, nil
	}
	next := &types.DAppInputBox{Dapp: previous.Dapp, Inputs: append([]*types.Input{}, previous.Box.Inputs...)}
	for _, l := range logs {
		in, err := decodeInputAdded(env, &l, block)
		if err != nil {
			return nil, err
		}
		next.Inputs = append(next.Inputs, in)
	}
	return &InputBox{Dapp: previous.Dapp, Box: next}, nil
}

func decodeInputAdded(env *Environment, l *ethtypes.Log, block *types.Block) (*types.Input, error) {
	if len(l.Topics) < 3 {
		return nil, fmt.Errorf("fold: InputAdded: missing indexed topics")
	}
	sender := common.BytesToAddress(l.Topics[1].Bytes())
	dapp := common.BytesToAddress(l.Topics[2].Bytes())
	vals, err := unpackNonIndexed(inputAddedArgs, l.Data)
	if err != nil {
		return nil, fmt.Errorf("fold: InputAdded: %w", err)
	}
	payload, ok := vals[1].([]byte)
	if !ok {
		return nil, fmt.Errorf("fold: InputAdded: payload field missing")
	}

	senderPtr := env.Interner.Intern(sender)
	dappPtr := env.Interner.Intern(dapp)

	return &types.Input{
		Sender:     common.Address(*senderPtr),
		Dapp:       common.Address(*dappPtr),
		Payload:    payload,
		BlockAdded: block,
		TxHash:     l.TxHash,
		TxIndex:    l.TxIndex,
		LogIndex:   l.Index,
	}, nil
}

func addrTopic(a common.Address) common.Hash {
	return common.BytesToHash(a.Bytes())
}

func bigFromTopic(h common.Hash) *big.Int {
	return new(big.Int).SetBytes(h.Bytes())
}
