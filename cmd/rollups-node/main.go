// Command rollups-node is the thin process entrypoint spec.md §9's
// Non-goals carve out explicitly ("CLI/flag plumbing beyond a thin cmd/
// entrypoint needed to wire configuration"): it loads the TOML
// configuration, constructs the chain archive, broker, server-manager
// client, snapshot manager and transaction submitter, and runs the
// dispatcher and advance-runner loops for the lifetime of the process.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/cartesi/rollups-operator/broker"
	"github.com/cartesi/rollups-operator/chain"
	"github.com/cartesi/rollups-operator/config"
	"github.com/cartesi/rollups-operator/dispatcher"
	"github.com/cartesi/rollups-operator/fold"
	"github.com/cartesi/rollups-operator/runner"
	"github.com/cartesi/rollups-operator/servermanager"
	"github.com/cartesi/rollups-operator/snapshot"
	"github.com/cartesi/rollups-operator/txsubmitter"
	"github.com/cartesi/rollups-operator/types"
)

func main() {
	app := &cli.App{
		Name:  "rollups-node",
		Usage: "runs the dispatcher and advance-runner for one dapp",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "path to the TOML configuration file",
				Required: true,
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Error("rollups-node exited", "err", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		log.Error("load config", "err", err)
		os.Exit(config.ExitConfig)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	chainClient, err := ethclient.DialContext(ctx, cfg.Chain.HTTPEndpoint)
	if err != nil {
		log.Error("dial chain provider", "err", err)
		os.Exit(config.ExitChain)
	}

	env, genesis, err := buildEnvironment(ctx, cfg, chainClient)
	if err != nil {
		log.Error("build fold environment", "err", err)
		os.Exit(config.ExitChain)
	}

	constants, err := fold.SyncRollupsConstants(ctx, env,
		cfg.Dapp.RollupsAddress, cfg.Dapp.Address,
		cfg.Chain.GenesisBlock, cfg.Dapp.GenesisTimestamp, cfg.Dapp.EpochLength, cfg.Dapp.InitialEpoch,
		genesis)
	if err != nil {
		log.Error("sync rollups constants", "err", err)
		os.Exit(config.ExitChain)
	}

	globalArchive, err := fold.NewGlobalArchive(env)
	if err != nil {
		log.Error("build global archive", "err", err)
		os.Exit(config.ExitChain)
	}

	brk, err := broker.New(cfg.Broker.RedisEndpoint, cfg.Dapp.ChainID)
	if err != nil {
		log.Error("dial broker", "err", err)
		os.Exit(config.ExitBroker)
	}
	defer brk.Close()

	smClient, err := servermanager.Dial(ctx, cfg.ServerManager.Endpoint)
	if err != nil {
		log.Error("dial server manager", "err", err)
		os.Exit(config.ExitServerManager)
	}
	defer smClient.Close()

	snapshots, err := snapshot.Open(cfg.ServerManager.SnapshotRoot)
	if err != nil {
		log.Error("open snapshot manager", "err", err)
		os.Exit(config.ExitSnapshot)
	}
	defer snapshots.Close()

	submitter, nonces, err := buildSubmitter(ctx, cfg)
	if err != nil {
		log.Error("build transaction submitter", "err", err)
		os.Exit(config.ExitTxSubmitter)
	}
	defer nonces.Close()

	addr := fold.Addresses{
		InputBox: cfg.Dapp.InputBoxAddress,
		Rollups:  cfg.Dapp.RollupsAddress,
		Dapp:     cfg.Dapp.Address,
	}
	disp := dispatcher.New(globalArchive, brk, submitter, addr, submitter.Signer.Address(), constants)

	r := runner.New(brk, smClient, snapshots, cfg.Dapp.Address, runner.Config{
		SessionID:               cfg.ServerManager.SessionID,
		ScratchDirectory:        cfg.ServerManager.ScratchDirectory,
		RuntimeConfig:           cfg.ServerManager.RuntimeConfig,
		CyclesConfig:            cfg.ServerManager.CyclesConfig,
		DeadlineConfig:          cfg.ServerManager.DeadlineConfig,
		PendingInputsMaxRetries: cfg.ServerManager.PendingInputsMaxRetries,
		PendingInputsSleep:      cfg.ServerManager.PendingInputsSleep(),
		ConsumeTimeout:          cfg.Broker.ConsumeTimeout(),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runDispatcher(gctx, disp, env.Blocks, cfg.Dispatcher.Confirmations) })
	g.Go(func() error {
		if err := r.Start(gctx); err != nil {
			return fmt.Errorf("runner start: %w", err)
		}
		return r.Run(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("component stopped", "err", err)
		return err
	}
	return nil
}

// runDispatcher drives dispatcher.React off the chain archive's confirmed-tip
// subscription, per spec.md §4.1/§4.5.
func runDispatcher(ctx context.Context, disp *dispatcher.Dispatcher, archive *chain.Archive, confirmations uint64) error {
	events, err := archive.Subscribe(ctx, confirmations)
	if err != nil {
		return fmt.Errorf("subscribe to confirmed blocks: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			blocks := ev.Reorg
			if ev.Kind == chain.EventNewBlock {
				blocks = []*types.Block{ev.Block}
			}
			for _, b := range blocks {
				if err := disp.React(ctx, b); err != nil {
					return fmt.Errorf("react to block %d: %w", b.Number, err)
				}
			}
		}
	}
}

// buildEnvironment wires the log-access layer and block archive used by both
// constants-syncing and the global fold cache, and resolves the genesis
// block used to seed constants-syncing.
func buildEnvironment(ctx context.Context, cfg *config.Config, client *ethclient.Client) (*fold.Environment, *types.Block, error) {
	blocks := chain.NewArchive(chainProvider{client})
	logs, err := chain.NewLogAccess(client, queryLimitDetector(cfg.Chain.QueryLimitErrorCodes), cfg.Chain.MaxEventsPerResponse, cfg.Chain.ConcurrentEventsFetch, cfg.Chain.RequestsPerSecond)
	if err != nil {
		return nil, nil, fmt.Errorf("build log access: %w", err)
	}
	env := &fold.Environment{Blocks: blocks, Sync: logs, FoldAcc: logs, Interner: fold.NewInterner()}

	genesis, err := blocks.BlockWithNumber(ctx, cfg.Chain.GenesisBlock)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve genesis block %d: %w", cfg.Chain.GenesisBlock, err)
	}
	return env, genesis, nil
}

// chainProvider adapts *ethclient.Client to chain.Provider. Embedding alone
// is not enough: ethclient.Client.SubscribeNewHead returns
// ethereum.Subscription, a distinct interface type from chain.Subscription,
// so the method must be re-declared to convert the return value.
type chainProvider struct {
	*ethclient.Client
}

func (p chainProvider) SubscribeNewHead(ctx context.Context, ch chan<- *ethtypes.Header) (chain.Subscription, error) {
	return p.Client.SubscribeNewHead(ctx, ch)
}

// queryLimitDetector recognizes a provider's "query returned too many
// results" JSON-RPC error by status code, since there is no standard code
// for this across providers (spec.md §4.2, config `chain.query_limit_error_codes`).
func queryLimitDetector(codes []int) chain.RangeTooLargeDetector {
	set := make(map[int]bool, len(codes))
	for _, code := range codes {
		set[code] = true
	}
	return func(err error) bool {
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) {
			return set[rpcErr.ErrorCode()]
		}
		return false
	}
}

// buildSubmitter constructs the pluggable Signer (local mnemonic or remote
// KMS, spec.md §4.10) and wraps it in a txsubmitter.Submitter.
func buildSubmitter(ctx context.Context, cfg *config.Config) (*txsubmitter.Submitter, *txsubmitter.NonceStore, error) {
	chainID := new(big.Int).SetUint64(cfg.Dapp.ChainID)

	var signer txsubmitter.Signer
	var err error
	if cfg.Auth.Mnemonic != "" {
		signer, err = txsubmitter.NewMnemonicSigner(cfg.Auth.Mnemonic, chainID)
	} else {
		signer, err = txsubmitter.NewKMSSigner(ctx, cfg.Auth.AWSKMSKeyID, cfg.Auth.AWSRegion, chainID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("build signer: %w", err)
	}

	nonces, err := txsubmitter.OpenNonceStore(cfg.Tx.DatabasePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open nonce store: %w", err)
	}

	txClient, err := ethclient.DialContext(ctx, cfg.Tx.ProviderHTTPEndpoint)
	if err != nil {
		nonces.Close()
		return nil, nil, fmt.Errorf("dial tx provider: %w", err)
	}

	submitter := txsubmitter.New(txClient, signer, nonces, txsubmitter.Config{
		AuthorityAddress:    cfg.Dapp.AuthorityAddress,
		RollupsAddress:      cfg.Dapp.RollupsAddress,
		DappAddress:         cfg.Dapp.Address,
		ChainID:             chainID,
		Confirmations:       cfg.Tx.DefaultConfirmations,
		ResubmitAfter:       cfg.Tx.ResubmitAfter(),
		ReceiptPollInterval: cfg.Tx.ReceiptPollInterval(),
	})
	return submitter, nonces, nil
}
