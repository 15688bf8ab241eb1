// Package chain implements the block archive & subscriber and the log-access
// layer (spec.md §4.1, §4.2). It is grounded on go-ethereum's ethclient for
// JSON-RPC/websocket transport, mirroring the small-interface style of the
// teacher's core.ChainContext/consensus.Engine split (core/tx_executor.go).
package chain

import (
	"container/list"
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/cartesi/rollups-operator/errkind"
	"github.com/cartesi/rollups-operator/types"
)

// Provider is the subset of ethclient.Client the subscriber needs. It is
// declared narrowly so tests can supply a fake without dragging in a live
// RPC endpoint.
type Provider interface {
	BlockByHash(ctx context.Context, hash common.Hash) (*ethtypes.Block, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*ethtypes.Block, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
	SubscribeNewHead(ctx context.Context, ch chan<- *ethtypes.Header) (Subscription, error)
}

// Subscription mirrors ethereum.Subscription's two relevant methods.
type Subscription interface {
	Unsubscribe()
	Err() <-chan error
}

// Event is the push-based stream element from spec.md §4.1: either a new
// confirmed tip or a reorg carrying the new canonical suffix.
type Event struct {
	Kind  EventKind
	Block *types.Block   // set when Kind == EventNewBlock
	Reorg []*types.Block // set when Kind == EventReorg; new canonical suffix from the divergence point
}

type EventKind int

const (
	EventNewBlock EventKind = iota
	EventReorg
	EventSubscriptionDropped
)

// defaultWindowSize bounds the in-memory sliding window of recent blocks.
const defaultWindowSize = 256

// Archive maintains a sliding window of recent blocks and serves point
// lookups and confirmed-tip subscriptions over a Provider (spec.md §4.1).
type Archive struct {
	provider Provider
	window   int

	mu      sync.Mutex
	byHash  map[common.Hash]*types.Block
	order   *list.List // front = oldest, back = newest, by insertion
	elemOf  map[common.Hash]*list.Element
	headHash common.Hash
}

// NewArchive constructs an Archive with the default window size.
func NewArchive(provider Provider) *Archive {
	return &Archive{
		provider: provider,
		window:   defaultWindowSize,
		byHash:   make(map[common.Hash]*types.Block),
		order:    list.New(),
		elemOf:   make(map[common.Hash]*list.Element),
	}
}

func toBlock(h *ethtypes.Header) *types.Block {
	return &types.Block{
		Hash:       h.Hash(),
		Number:     h.Number.Uint64(),
		ParentHash: h.ParentHash,
		Timestamp:  h.Time,
		LogsBloom:  h.Bloom.Bytes(),
	}
}

// insert records b in the window, evicting the oldest entry once the window
// is full. Callers must hold a.mu.
func (a *Archive) insert(b *types.Block) {
	if _, ok := a.byHash[b.Hash]; ok {
		return
	}
	el := a.order.PushBack(b.Hash)
	a.byHash[b.Hash] = b
	a.elemOf[b.Hash] = el
	if a.order.Len() > a.window {
		front := a.order.Front()
		h := front.Value.(common.Hash)
		a.order.Remove(front)
		delete(a.byHash, h)
		delete(a.elemOf, h)
	}
}

// BlockWithHash resolves a block by hash, falling back to the provider on a
// window miss.
func (a *Archive) BlockWithHash(ctx context.Context, h common.Hash) (*types.Block, error) {
	a.mu.Lock()
	if b, ok := a.byHash[h]; ok {
		a.mu.Unlock()
		return b, nil
	}
	a.mu.Unlock()

	eb, err := a.provider.BlockByHash(ctx, h)
	if err != nil {
		return nil, errkind.Transient(fmt.Errorf("chain: BlockByHash: %w", err))
	}
	b := toBlock(eb.Header())
	a.mu.Lock()
	a.insert(b)
	a.mu.Unlock()
	return b, nil
}

// BlockWithNumber resolves a block by number from the provider's canonical
// chain (not subject to the window cache, since many numbers may map to
// distinct hashes across reorgs).
func (a *Archive) BlockWithNumber(ctx context.Context, n uint64) (*types.Block, error) {
	h, err := a.provider.HeaderByNumber(ctx, new(big.Int).SetUint64(n))
	if err != nil {
		return nil, errkind.Transient(fmt.Errorf("chain: HeaderByNumber(%d): %w", n, err))
	}
	return toBlock(h), nil
}

// LatestBlock returns the chain's current head (HeaderByNumber(nil) in
// go-ethereum's convention).
func (a *Archive) LatestBlock(ctx context.Context) (*types.Block, error) {
	h, err := a.provider.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, errkind.Transient(fmt.Errorf("chain: HeaderByNumber(latest): %w", err))
	}
	return toBlock(h), nil
}

// ancestorAtDepth walks parent pointers backward from head until it reaches
// depth confirmations behind, or block 0, which it returns as is. It fetches
// any missing ancestor from the provider, inserting it into the window, and
// returns the error of a failed fetch.
func (a *Archive) ancestorAtDepth(ctx context.Context, head *types.Block, depth uint64) (*types.Block, error) {
	cur := head
	for i := uint64(0); i < depth; i++ {
		if cur.Number == 0 {
			return cur, nil
		}
		parent, err := a.BlockWithHash(ctx, cur.ParentHash)
		if err != nil {
			return nil, err
		}
		cur = parent
	}
	return cur, nil
}

// Subscribe follows new heads via the provider and emits confirmed-tip
// events `confirmations` blocks behind the observed head, reporting reorgs
// when the walk back from a new head diverges from the cached chain
// (spec.md §4.1). The returned channel is closed when ctx is cancelled or
// the background task ends terminally (after which EventSubscriptionDropped
// is the last event sent).
func (a *Archive) Subscribe(ctx context.Context, confirmations uint64) (<-chan Event, error) {
	heads := make(chan *ethtypes.Header, 16)
	sub, err := a.dialWithBackoff(ctx, heads)
	if err != nil {
		return nil, err
	}

	out := make(chan Event, 16)
	go a.run(ctx, confirmations, heads, sub, out)
	return out, nil
}

func (a *Archive) dialWithBackoff(ctx context.Context, heads chan<- *ethtypes.Header) (Subscription, error) {
	var sub Subscription
	op := func() error {
		s, err := a.provider.SubscribeNewHead(ctx, heads)
		if err != nil {
			return err
		}
		sub = s
		return nil
	}
	b := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, errkind.Transient(fmt.Errorf("chain: SubscribeNewHead: %w", err))
	}
	return sub, nil
}

func (a *Archive) run(ctx context.Context, confirmations uint64, heads <-chan *ethtypes.Header, sub Subscription, out chan<- Event) {
	logger := log.New("component", "chain.subscriber")
	defer close(out)
	defer sub.Unsubscribe()

	var lastReported common.Hash
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-sub.Err():
			logger.Warn("subscription ended, reconnecting", "err", err)
			newHeads := make(chan *ethtypes.Header, 16)
			newSub, derr := a.dialWithBackoff(ctx, newHeads)
			if derr != nil {
				out <- Event{Kind: EventSubscriptionDropped}
				return
			}
			heads = newHeads
			sub = newSub
		case h, ok := <-heads:
			if !ok {
				out <- Event{Kind: EventSubscriptionDropped}
				return
			}
			head := toBlock(h)
			a.mu.Lock()
			a.insert(head)
			a.mu.Unlock()

			tip, err := a.ancestorAtDepth(ctx, head, confirmations)
			if err != nil {
				logger.Error("failed to resolve confirmed tip", "err", err)
				continue
			}
			if lastReported != (common.Hash{}) && tip.ParentHash != lastReported && tip.Hash != lastReported {
				reorgBlocks, err := a.reorgSuffix(ctx, lastReported, tip)
				if err != nil {
					logger.Error("failed to resolve reorg suffix", "err", err)
					continue
				}
				out <- Event{Kind: EventReorg, Reorg: reorgBlocks}
			} else if tip.Hash != lastReported {
				out <- Event{Kind: EventNewBlock, Block: tip}
			}
			lastReported = tip.Hash
		}
	}
}

// reorgSuffix walks back from newTip until it finds an ancestor also
// reachable from the previously reported tip (or hits genesis), returning
// the new canonical suffix starting at the divergence point.
func (a *Archive) reorgSuffix(ctx context.Context, prevTip common.Hash, newTip *types.Block) ([]*types.Block, error) {
	var suffix []*types.Block
	cur := newTip
	for cur.Number > 0 {
		suffix = append([]*types.Block{cur}, suffix...)
		if cur.ParentHash == prevTip {
			return suffix, nil
		}
		parent, err := a.BlockWithHash(ctx, cur.ParentHash)
		if err != nil {
			return nil, err
		}
		cur = parent
	}
	suffix = append([]*types.Block{cur}, suffix...)
	return suffix, nil
}

// BlocksSince diffs the chain since a previously observed ancestor at depth,
// per spec.md §4.1 blocks_since.
func (a *Archive) BlocksSince(ctx context.Context, depth uint64, previous common.Hash) (normal []*types.Block, reorg []*types.Block, err error) {
	head, err := a.LatestBlock(ctx)
	if err != nil {
		return nil, nil, err
	}
	tip, err := a.ancestorAtDepth(ctx, head, depth)
	if err != nil {
		return nil, nil, err
	}
	if tip.ParentHash == previous || tip.Hash == previous {
		return []*types.Block{tip}, nil, nil
	}
	suffix, err := a.reorgSuffix(ctx, previous, tip)
	if err != nil {
		return nil, nil, err
	}
	return nil, suffix, nil
}
