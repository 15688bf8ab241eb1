package fold

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"

	"github.com/cartesi/rollups-operator/types"
)

// defaultCacheWindow bounds the number of (dapp, block hash) RollupsState
// entries kept in memory (spec.md §4.4); once full, the least recently used
// entry is evicted.
const defaultCacheWindow = 128

type cacheKey struct {
	dapp  [20]byte
	block [32]byte
}

type cacheEntry struct {
	sources *RollupsSources
	state   *types.RollupsState
}

// GlobalArchive computes RollupsState per (dapp, block) exactly once even
// under concurrent callers, and reuses the nearest cached ancestor instead of
// re-deriving state from genesis every call, per spec.md §4.4.
type GlobalArchive struct {
	env   *Environment
	cache *lru.Cache
	group singleflight.Group
}

// NewGlobalArchive constructs an empty archive bounded to defaultCacheWindow
// entries.
func NewGlobalArchive(env *Environment) (*GlobalArchive, error) {
	c, err := lru.New(defaultCacheWindow)
	if err != nil {
		return nil, fmt.Errorf("fold: NewGlobalArchive: %w", err)
	}
	return &GlobalArchive{env: env, cache: c}, nil
}

func key(dapp types.RollupsConstants, blockHash [32]byte) cacheKey {
	return cacheKey{dapp: dapp.DappAddress, block: blockHash}
}

// StateAt returns the RollupsState at block, computing it once per
// (dapp, block) pair regardless of how many goroutines call concurrently
// (spec.md §4.4's single-flight-per-(type, initial_state, block) semantics).
func (g *GlobalArchive) StateAt(ctx context.Context, addr Addresses, constants *types.RollupsConstants, block *types.Block) (*types.RollupsState, error) {
	entry, err := g.entryAt(ctx, addr, constants, block)
	if err != nil {
		return nil, err
	}
	return entry.state, nil
}

// InputBoxAt returns the dapp's full ordered input sequence at block,
// the source the dispatcher walks forward from inputs_sent_count.
func (g *GlobalArchive) InputBoxAt(ctx context.Context, addr Addresses, constants *types.RollupsConstants, block *types.Block) (*types.DAppInputBox, error) {
	entry, err := g.entryAt(ctx, addr, constants, block)
	if err != nil {
		return nil, err
	}
	return entry.sources.Box.Box, nil
}

func (g *GlobalArchive) entryAt(ctx context.Context, addr Addresses, constants *types.RollupsConstants, block *types.Block) (*cacheEntry, error) {
	k := key(*constants, block.Hash)
	if v, ok := g.cache.Get(k); ok {
		return v.(*cacheEntry), nil
	}

	flightKey := fmt.Sprintf("%x:%x", constants.DappAddress, block.Hash)
	v, err, _ := g.group.Do(flightKey, func() (interface{}, error) {
		if v, ok := g.cache.Get(k); ok {
			return v.(*cacheEntry), nil
		}
		entry, err := g.computeAt(ctx, addr, constants, block)
		if err != nil {
			return nil, err
		}
		g.cache.Add(k, entry)
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*cacheEntry), nil
}

// computeAt resolves the nearest cached ancestor of block (walking parent
// pointers through the block archive) and folds forward from there,
// falling back to a full sync from genesis when no ancestor is cached.
func (g *GlobalArchive) computeAt(ctx context.Context, addr Addresses, constants *types.RollupsConstants, block *types.Block) (*cacheEntry, error) {
	var chain []*types.Block
	cur := block
	for {
		k := key(*constants, cur.Hash)
		if v, ok := g.cache.Get(k); ok {
			entry := v.(*cacheEntry)
			return g.foldForward(ctx, addr, constants, entry.sources, chain)
		}
		chain = append([]*types.Block{cur}, chain...)
		if cur.Number == 0 {
			break
		}
		parent, err := g.env.Blocks.BlockWithHash(ctx, cur.ParentHash)
		if err != nil {
			break
		}
		cur = parent
	}

	genesisBlock := chain[0]
	src, state, err := SyncRollupsState(ctx, g.env, addr, constants, genesisBlock)
	if err != nil {
		return nil, err
	}
	entry := &cacheEntry{sources: src, state: state}
	g.cache.Add(key(*constants, genesisBlock.Hash), entry)
	return g.foldForward(ctx, addr, constants, src, chain[1:])
}

func (g *GlobalArchive) foldForward(ctx context.Context, addr Addresses, constants *types.RollupsConstants, src *RollupsSources, blocks []*types.Block) (*cacheEntry, error) {
	var entry *cacheEntry
	for _, b := range blocks {
		var state *types.RollupsState
		var err error
		src, state, err = FoldRollupsState(ctx, g.env, addr, constants, src, b)
		if err != nil {
			return nil, fmt.Errorf("fold: GlobalArchive: %w", err)
		}
		entry = &cacheEntry{sources: src, state: state}
		g.cache.Add(key(*constants, b.Hash), entry)
	}
	if entry == nil {
		return nil, fmt.Errorf("fold: GlobalArchive: empty block chain")
	}
	return entry, nil
}
