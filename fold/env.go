// Package fold implements the foldable projections of spec.md §4.3 and the
// global archive / single-flight layer of §4.4. Every exported fold type
// satisfies the same two-operation contract: Sync derives state from
// scratch, Fold derives it incrementally from a parent state. Grounded on
// the teacher's small-capability-interface style (core/tx_executor.go's
// TxExecutor/ChainContext split) and on go-ethereum's accounts/abi for log
// decoding.
package fold

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/cartesi/rollups-operator/chain"
	"github.com/cartesi/rollups-operator/types"
)

// SyncAccess is the read capability sync() uses: ranged log queries pinned
// to a target block (spec.md §4.2 sync access).
type SyncAccess interface {
	SyncRange(ctx context.Context, genesis, target uint64, addresses []common.Address, topics [][]common.Hash) ([]ethtypes.Log, error)
}

// FoldAccess is the read capability fold() uses: single-block log queries
// (spec.md §4.2 fold access).
type FoldAccess interface {
	FoldQuery(ctx context.Context, blockHash common.Hash, addresses []common.Address, topics [][]common.Hash) ([]ethtypes.Log, error)
}

// Environment is the per-process container described in spec.md §9
// ("Global mutable state -> per-environment container"): it bundles the
// block archive, the log-access layer and the interner so no foldable needs
// a process-level singleton.
type Environment struct {
	Blocks   *chain.Archive
	Sync     SyncAccess
	FoldAcc  FoldAccess
	Interner *Interner
}

// Block resolves a types.Block the fold layer can pass to BloomRelevant.
func (e *Environment) Block(ctx context.Context, hash common.Hash) (*types.Block, error) {
	return e.Blocks.BlockWithHash(ctx, hash)
}

// BloomRelevant implements the short-circuit invariant from spec.md §4.3:
// a block whose logs-bloom indicates neither the target address nor any of
// the relevant topics is irrelevant to this foldable, so fold() may return
// the previous state unchanged.
func BloomRelevant(bloomBytes []byte, address common.Address, topics []common.Hash) bool {
	if len(bloomBytes) != ethtypes.BloomByteLength {
		// A malformed/empty bloom is treated as "can't rule out relevance".
		return true
	}
	bloom := ethtypes.BytesToBloom(bloomBytes)
	if bloom.Test(address.Bytes()) {
		return true
	}
	for _, t := range topics {
		if bloom.Test(t.Bytes()) {
			return true
		}
	}
	return false
}
