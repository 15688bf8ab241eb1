package chain

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

type fakeSubscription struct {
	errCh chan error
}

func (f *fakeSubscription) Unsubscribe()        {}
func (f *fakeSubscription) Err() <-chan error   { return f.errCh }

type fakeProvider struct {
	byHash      map[common.Hash]*ethtypes.Header
	byNumber    map[uint64]*ethtypes.Header
	latest      *ethtypes.Header
	hashFetches int
}

func newFakeProvider(headers ...*ethtypes.Header) *fakeProvider {
	p := &fakeProvider{byHash: map[common.Hash]*ethtypes.Header{}, byNumber: map[uint64]*ethtypes.Header{}}
	for _, h := range headers {
		p.byHash[h.Hash()] = h
		p.byNumber[h.Number.Uint64()] = h
		p.latest = h
	}
	return p
}

func (p *fakeProvider) BlockByHash(ctx context.Context, hash common.Hash) (*ethtypes.Block, error) {
	p.hashFetches++
	h, ok := p.byHash[hash]
	if !ok {
		return nil, errNotFound
	}
	return ethtypes.NewBlockWithHeader(h), nil
}

func (p *fakeProvider) BlockByNumber(ctx context.Context, number *big.Int) (*ethtypes.Block, error) {
	h, ok := p.byNumber[number.Uint64()]
	if !ok {
		return nil, errNotFound
	}
	return ethtypes.NewBlockWithHeader(h), nil
}

func (p *fakeProvider) HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error) {
	if number == nil {
		return p.latest, nil
	}
	h, ok := p.byNumber[number.Uint64()]
	if !ok {
		return nil, errNotFound
	}
	return h, nil
}

func (p *fakeProvider) SubscribeNewHead(ctx context.Context, ch chan<- *ethtypes.Header) (Subscription, error) {
	return &fakeSubscription{errCh: make(chan error)}, nil
}

var errNotFound = &notFoundErr{}

type notFoundErr struct{}

func (*notFoundErr) Error() string { return "not found" }

func header(number uint64, parent common.Hash, tag string) *ethtypes.Header {
	return &ethtypes.Header{
		Number:     new(big.Int).SetUint64(number),
		ParentHash: parent,
		Time:       number,
		Extra:      []byte(tag),
	}
}

func chainOf(n int) []*ethtypes.Header {
	headers := make([]*ethtypes.Header, 0, n)
	var parent common.Hash
	for i := 0; i < n; i++ {
		h := header(uint64(i), parent, "main")
		headers = append(headers, h)
		parent = h.Hash()
	}
	return headers
}

func TestBlockWithHashCachesAfterProviderFetch(t *testing.T) {
	headers := chainOf(3)
	provider := newFakeProvider(headers...)
	a := NewArchive(provider)

	target := headers[2].Hash()
	b1, err := a.BlockWithHash(context.Background(), target)
	if err != nil {
		t.Fatalf("BlockWithHash: %v", err)
	}
	if b1.Number != 2 {
		t.Fatalf("got number %d, want 2", b1.Number)
	}
	if provider.hashFetches != 1 {
		t.Fatalf("expected one provider fetch, got %d", provider.hashFetches)
	}

	if _, err := a.BlockWithHash(context.Background(), target); err != nil {
		t.Fatalf("BlockWithHash (cached): %v", err)
	}
	if provider.hashFetches != 1 {
		t.Fatalf("second lookup should hit the window cache, got %d fetches", provider.hashFetches)
	}
}

func TestBlockWithNumberResolvesFromProvider(t *testing.T) {
	headers := chainOf(2)
	a := NewArchive(newFakeProvider(headers...))
	b, err := a.BlockWithNumber(context.Background(), 1)
	if err != nil {
		t.Fatalf("BlockWithNumber: %v", err)
	}
	if b.Hash != headers[1].Hash() {
		t.Fatalf("got hash %s, want %s", b.Hash, headers[1].Hash())
	}
}

func TestBlocksSinceReturnsSingleTipWhenNoReorg(t *testing.T) {
	headers := chainOf(5)
	a := NewArchive(newFakeProvider(headers...))
	for _, h := range headers {
		a.insert(toBlock(h))
	}

	normal, reorg, err := a.BlocksSince(context.Background(), 1, headers[2].Hash())
	if err != nil {
		t.Fatalf("BlocksSince: %v", err)
	}
	if reorg != nil {
		t.Fatalf("expected no reorg, got %v", reorg)
	}
	if len(normal) != 1 || normal[0].Hash != headers[3].Hash() {
		t.Fatalf("got %+v", normal)
	}
}

func TestBlocksSinceReturnsSuffixOnReorg(t *testing.T) {
	headers := chainOf(3)
	// Build a competing branch off headers[0] that replaces headers[1], headers[2].
	fork1 := header(1, headers[0].Hash(), "fork")
	fork2 := header(2, fork1.Hash(), "fork")

	all := append([]*ethtypes.Header{}, headers...)
	all = append(all, fork1, fork2)
	provider := newFakeProvider(all...)
	provider.latest = fork2
	a := NewArchive(provider)
	for _, h := range all {
		a.insert(toBlock(h))
	}

	normal, reorg, err := a.BlocksSince(context.Background(), 0, headers[0].Hash())
	if err != nil {
		t.Fatalf("BlocksSince: %v", err)
	}
	if normal != nil {
		t.Fatalf("expected a reorg, got normal=%v", normal)
	}
	if len(reorg) != 2 || reorg[0].Hash != fork1.Hash() || reorg[1].Hash != fork2.Hash() {
		t.Fatalf("got reorg suffix %+v", reorg)
	}
}

func TestBigFromUint64(t *testing.T) {
	if bigFromUint64(42).Uint64() != 42 {
		t.Fatal("bigFromUint64 round-trip failed")
	}
}
