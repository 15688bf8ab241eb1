// Package txsubmitter implements the transaction submitter of spec.md
// §4.10: deliver a signed claim or finalize-epoch transaction, manage
// nonces durably, resubmit with a gas-price bump when inclusion stalls,
// and wait for N confirmations. Grounded on the teacher's narrow-Provider
// style (chain.Provider, chain/subscriber.go) generalized from a read-only
// RPC client to a transaction-broadcasting one, and on errkind's
// transient/permanent discriminator for retry control.
package txsubmitter

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/cartesi/rollups-operator/errkind"
	"github.com/cartesi/rollups-operator/types"
)

// ChainWriter is the subset of ethclient.Client the submitter needs to
// broadcast transactions and wait for confirmations.
type ChainWriter interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// GasBumpStrategy computes the next gas price to try after a resubmission
// timeout elapses without inclusion, per spec.md §4.10's "configurable
// strategy".
type GasBumpStrategy func(previous *big.Int) *big.Int

// DefaultGasBump raises the gas price 12.5%, the minimum bump go-ethereum's
// own tx pool requires to accept a replacement transaction at the same
// nonce.
func DefaultGasBump(previous *big.Int) *big.Int {
	bumped := new(big.Int).Mul(previous, big.NewInt(1125))
	return bumped.Div(bumped, big.NewInt(1000))
}

// Config holds the chain-write tunables from spec.md §6 `tx.*`.
type Config struct {
	AuthorityAddress    common.Address
	RollupsAddress      common.Address
	DappAddress         common.Address
	ChainID             *big.Int
	Confirmations       uint64
	ResubmitAfter       time.Duration
	ReceiptPollInterval time.Duration
	GasBump             GasBumpStrategy
}

// Submitter implements dispatcher.ClaimSubmitter (spec.md §4.10).
type Submitter struct {
	Chain  ChainWriter
	Signer Signer
	Nonces *NonceStore
	Cfg    Config

	logger log.Logger
}

// New constructs a Submitter. cfg.GasBump defaults to DefaultGasBump when
// left nil.
func New(chain ChainWriter, signer Signer, nonces *NonceStore, cfg Config) *Submitter {
	if cfg.GasBump == nil {
		cfg.GasBump = DefaultGasBump
	}
	return &Submitter{
		Chain:  chain,
		Signer: signer,
		Nonces: nonces,
		Cfg:    cfg,
		logger: log.New("component", "txsubmitter"),
	}
}

// SubmitClaim delivers submitClaim(dapp, claim) to the authority contract.
func (s *Submitter) SubmitClaim(ctx context.Context, claim types.Claim) error {
	data, err := encodeSubmitClaim(s.Cfg.DappAddress, claim)
	if err != nil {
		return errkind.Permanent(fmt.Errorf("txsubmitter: encode submitClaim: %w", err))
	}
	return s.deliver(ctx, s.Cfg.AuthorityAddress, data)
}

// FinalizeEpoch delivers finalizeEpoch() to the rollups contract.
func (s *Submitter) FinalizeEpoch(ctx context.Context, epoch uint64) error {
	return s.deliver(ctx, s.Cfg.RollupsAddress, encodeFinalizeEpoch())
}

// deliver signs and broadcasts one transaction, resubmitting with a
// bumped gas price until it is included and confirmed.
func (s *Submitter) deliver(ctx context.Context, to common.Address, data []byte) error {
	from := s.Signer.Address()

	nonce, err := s.nextNonce(ctx, from)
	if err != nil {
		return err
	}
	gasPrice, err := s.Chain.SuggestGasPrice(ctx)
	if err != nil {
		return errkind.Transient(fmt.Errorf("txsubmitter: suggest gas price: %w", err))
	}
	gasLimit, err := s.Chain.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		return errkind.Transient(fmt.Errorf("txsubmitter: estimate gas: %w", err))
	}

	for {
		tx := ethtypes.NewTx(&ethtypes.LegacyTx{
			Nonce:    nonce,
			To:       &to,
			Value:    big.NewInt(0),
			Gas:      gasLimit,
			GasPrice: gasPrice,
			Data:     data,
		})
		signed, err := s.Signer.SignTx(tx, s.Cfg.ChainID)
		if err != nil {
			return errkind.Permanent(fmt.Errorf("txsubmitter: sign tx: %w", err))
		}

		if err := s.broadcast(ctx, signed); err != nil {
			if isNonceTooLow(err) {
				if clearErr := s.Nonces.Clear(from); clearErr != nil {
					return clearErr
				}
				if nonce, err = s.nextNonce(ctx, from); err != nil {
					return err
				}
				continue
			}
			return err
		}
		if err := s.Nonces.Set(from, nonce+1); err != nil {
			return err
		}

		included, err := s.awaitInclusion(ctx, signed.Hash())
		if err != nil {
			return err
		}
		if included {
			return nil
		}

		gasPrice = s.Cfg.GasBump(gasPrice)
		s.logger.Warn("resubmitting with bumped gas price", "to", to, "nonce", nonce, "gas_price", gasPrice)
	}
}

func (s *Submitter) broadcast(ctx context.Context, tx *ethtypes.Transaction) error {
	boff := backoff.NewExponentialBackOff()
	boff.MaxElapsedTime = s.Cfg.ResubmitAfter
	return backoff.Retry(func() error {
		err := s.Chain.SendTransaction(ctx, tx)
		if err == nil || isNonceTooLow(err) {
			return backoff.Permanent(err)
		}
		return errkind.Transient(fmt.Errorf("txsubmitter: send transaction: %w", err))
	}, boff)
}

func (s *Submitter) nextNonce(ctx context.Context, addr common.Address) (uint64, error) {
	if n, ok, err := s.Nonces.Get(addr); err != nil {
		return 0, err
	} else if ok {
		return n, nil
	}
	n, err := s.Chain.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, errkind.Transient(fmt.Errorf("txsubmitter: pending nonce: %w", err))
	}
	return n, nil
}

// awaitInclusion polls for a receipt up to ResubmitAfter, then waits out
// Confirmations additional blocks. Returns false (not an error) when the
// deadline elapses with no receipt, so the caller resubmits with a bumped
// gas price, per spec.md §4.10.
func (s *Submitter) awaitInclusion(ctx context.Context, hash common.Hash) (bool, error) {
	deadline := time.Now().Add(s.Cfg.ResubmitAfter)
	for time.Now().Before(deadline) {
		receipt, err := s.Chain.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return true, s.awaitConfirmations(ctx, receipt.BlockNumber.Uint64())
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(s.Cfg.ReceiptPollInterval):
		}
	}
	return false, nil
}

func (s *Submitter) awaitConfirmations(ctx context.Context, includedAt uint64) error {
	target := includedAt + s.Cfg.Confirmations
	for {
		head, err := s.Chain.BlockNumber(ctx)
		if err != nil {
			return errkind.Transient(fmt.Errorf("txsubmitter: block number: %w", err))
		}
		if head >= target {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.Cfg.ReceiptPollInterval):
		}
	}
}

func isNonceTooLow(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "nonce too low")
}
