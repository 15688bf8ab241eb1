package txsubmitter

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/cartesi/rollups-operator/types"
)

type fakeSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
	signer  ethtypes.Signer
}

func newFakeSigner(t *testing.T, chainID *big.Int) *fakeSigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return &fakeSigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		signer:  ethtypes.NewLondonSigner(chainID),
	}
}

func (s *fakeSigner) Address() common.Address { return s.address }

func (s *fakeSigner) SignTx(tx *ethtypes.Transaction, chainID *big.Int) (*ethtypes.Transaction, error) {
	return ethtypes.SignTx(tx, s.signer, s.key)
}

type fakeChain struct {
	pendingNonce uint64
	gasPrice     *big.Int
	gasLimit     uint64

	sent           []*ethtypes.Transaction
	sendErrs       []error // consumed in order, one per SendTransaction call
	receipts       map[common.Hash]*ethtypes.Receipt
	blockNumber    uint64
	blockNumberErr error
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		pendingNonce: 5,
		gasPrice:     big.NewInt(1_000_000_000),
		gasLimit:     21000,
		receipts:     make(map[common.Hash]*ethtypes.Receipt),
		blockNumber:  100,
	}
}

func (c *fakeChain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return c.pendingNonce, nil
}

func (c *fakeChain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.gasPrice), nil
}

func (c *fakeChain) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return c.gasLimit, nil
}

func (c *fakeChain) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	c.sent = append(c.sent, tx)
	if len(c.sendErrs) > 0 {
		err := c.sendErrs[0]
		c.sendErrs = c.sendErrs[1:]
		if err != nil {
			return err
		}
	}
	c.receipts[tx.Hash()] = &ethtypes.Receipt{BlockNumber: big.NewInt(int64(c.blockNumber))}
	return nil
}

func (c *fakeChain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	if r, ok := c.receipts[txHash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (c *fakeChain) BlockNumber(ctx context.Context) (uint64, error) {
	return c.blockNumber, c.blockNumberErr
}

func newTestSubmitter(t *testing.T, chain *fakeChain, signer Signer) (*Submitter, *NonceStore) {
	t.Helper()
	dir, err := os.MkdirTemp("", "nonce-store-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	nonces, err := OpenNonceStore(dir)
	if err != nil {
		t.Fatalf("open nonce store: %v", err)
	}
	t.Cleanup(func() { nonces.Close() })

	cfg := Config{
		AuthorityAddress:    common.HexToAddress("0xA11"),
		RollupsAddress:      common.HexToAddress("0xB0B"),
		DappAddress:         common.HexToAddress("0xDA99"),
		ChainID:             big.NewInt(1337),
		Confirmations:       0,
		ResubmitAfter:       50 * time.Millisecond,
		ReceiptPollInterval: time.Millisecond,
	}
	return New(chain, signer, nonces, cfg), nonces
}

func TestSubmitClaimUsesPendingNonceWhenStoreEmpty(t *testing.T) {
	chain := newFakeChain()
	signer := newFakeSigner(t, big.NewInt(1337))
	s, _ := newTestSubmitter(t, chain, signer)

	claim := types.Claim{EpochHash: common.HexToHash("0x01"), FirstIndex: 0, LastIndex: 9, Claimer: signer.Address()}
	if err := s.SubmitClaim(context.Background(), claim); err != nil {
		t.Fatalf("SubmitClaim: %v", err)
	}
	if len(chain.sent) != 1 {
		t.Fatalf("expected one transaction sent, got %d", len(chain.sent))
	}
	if chain.sent[0].Nonce() != chain.pendingNonce {
		t.Fatalf("expected nonce %d, got %d", chain.pendingNonce, chain.sent[0].Nonce())
	}
	if *chain.sent[0].To() != s.Cfg.AuthorityAddress {
		t.Fatalf("expected tx to authority contract, got %s", chain.sent[0].To())
	}
}

func TestSubmitClaimReusesStoredNonceOnSecondCall(t *testing.T) {
	chain := newFakeChain()
	signer := newFakeSigner(t, big.NewInt(1337))
	s, _ := newTestSubmitter(t, chain, signer)

	claim := types.Claim{EpochHash: common.HexToHash("0x01"), FirstIndex: 0, LastIndex: 9}
	if err := s.SubmitClaim(context.Background(), claim); err != nil {
		t.Fatalf("first SubmitClaim: %v", err)
	}
	claim2 := types.Claim{EpochHash: common.HexToHash("0x02"), FirstIndex: 10, LastIndex: 19}
	if err := s.SubmitClaim(context.Background(), claim2); err != nil {
		t.Fatalf("second SubmitClaim: %v", err)
	}
	if got, want := chain.sent[1].Nonce(), chain.pendingNonce+1; got != want {
		t.Fatalf("expected second tx to use nonce %d, got %d", want, got)
	}
}

func TestFinalizeEpochTargetsRollupsContract(t *testing.T) {
	chain := newFakeChain()
	signer := newFakeSigner(t, big.NewInt(1337))
	s, _ := newTestSubmitter(t, chain, signer)

	if err := s.FinalizeEpoch(context.Background(), 3); err != nil {
		t.Fatalf("FinalizeEpoch: %v", err)
	}
	if *chain.sent[0].To() != s.Cfg.RollupsAddress {
		t.Fatalf("expected tx to rollups contract, got %s", chain.sent[0].To())
	}
}

func TestSubmitClaimRecoversFromNonceTooLow(t *testing.T) {
	chain := newFakeChain()
	chain.sendErrs = []error{errors.New("nonce too low"), nil}
	chain.pendingNonce = 5
	signer := newFakeSigner(t, big.NewInt(1337))
	s, nonces := newTestSubmitter(t, chain, signer)

	if err := nonces.Set(signer.Address(), 999); err != nil {
		t.Fatalf("seed nonce: %v", err)
	}

	claim := types.Claim{EpochHash: common.HexToHash("0x01"), FirstIndex: 0, LastIndex: 9}
	if err := s.SubmitClaim(context.Background(), claim); err != nil {
		t.Fatalf("SubmitClaim: %v", err)
	}
	if len(chain.sent) != 2 {
		t.Fatalf("expected a retry after nonce too low, got %d sends", len(chain.sent))
	}
	if chain.sent[1].Nonce() != chain.pendingNonce {
		t.Fatalf("expected retry to re-derive nonce from chain, got %d", chain.sent[1].Nonce())
	}
}

func TestDefaultGasBumpRaisesPriceBy12Point5Percent(t *testing.T) {
	got := DefaultGasBump(big.NewInt(1000))
	if got.Cmp(big.NewInt(1125)) != 0 {
		t.Fatalf("expected 1125, got %s", got)
	}
}
