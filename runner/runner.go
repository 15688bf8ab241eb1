// Package runner implements the advance-runner state machine of spec.md
// §4.9: on startup it resumes from the latest durable snapshot and the
// corresponding position in the inputs stream, then forever consumes
// inputs, drives them through the server-manager facade, and produces
// outputs and claims. Grounded on the teacher's reconnect-and-resume loop
// in chain/subscriber.go, generalized from block subscriptions to broker
// stream consumption.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/cartesi/rollups-operator/claimhash"
	"github.com/cartesi/rollups-operator/errkind"
	"github.com/cartesi/rollups-operator/servermanager"
	"github.com/cartesi/rollups-operator/servermanager/pb"
	"github.com/cartesi/rollups-operator/types"
)

// SnapshotManager is the subset of snapshot.Manager the runner needs,
// declared narrowly so tests can supply an in-memory fake instead of an
// on-disk pebble store.
type SnapshotManager interface {
	GetLatest() (*types.Snapshot, error)
	GetStorageDirectory(epoch, processedInputCount uint64) (*types.Snapshot, error)
	SetLatest(s *types.Snapshot) error
}

// ServerManagerClient is the subset of servermanager.Client the runner
// drives inputs and epoch boundaries through.
type ServerManagerClient interface {
	StartSession(ctx context.Context, sessionID, machineDirectory string, activeEpoch, processedInputCount uint64, runtimeCfg, cyclesCfg, deadlineCfg, scratchDir string, pendingInputsMaxRetries int, pendingInputsSleep time.Duration) error
	AdvanceState(ctx context.Context, sessionID string, activeEpoch, inputIndex uint64, sender string, blockNumber, timestamp uint64, payload []byte, maxRetries int, sleep time.Duration) ([]pb.OutputEntry, error)
	FinishEpoch(ctx context.Context, sessionID string, activeEpoch uint64, storageDirectory string) (*pb.FinishEpochResponse, error)
}

// BrokerClient is the subset of broker.Broker the runner consumes inputs
// from and produces outputs/claims onto.
type BrokerClient interface {
	Produce(ctx context.Context, dapp common.Address, name types.StreamName, event *types.Event) (string, error)
	PeekLatest(dapp common.Address, name types.StreamName) (*types.Event, error)
	ConsumeBlocking(ctx context.Context, dapp common.Address, name types.StreamName, lastID string, timeout time.Duration) (*types.Event, error)
	FindPreviousFinishEpoch(dapp common.Address, epoch uint64) (string, error)
}

// Config holds the tunables the runner needs beyond its collaborators:
// server-manager session identity and the scratch/retry parameters
// StartSession/AdvanceState/FinishEpoch require (spec.md §6 `server_manager.*`).
type Config struct {
	SessionID               string
	ScratchDirectory         string
	RuntimeConfig            string
	CyclesConfig             string
	DeadlineConfig           string
	PendingInputsMaxRetries  int
	PendingInputsSleep       time.Duration
	ConsumeTimeout           time.Duration
}

// Runner drives one dapp's advance-runner state machine.
type Runner struct {
	Broker        BrokerClient
	ServerManager ServerManagerClient
	Snapshots     SnapshotManager
	Dapp          common.Address
	Cfg           Config

	logger      log.Logger
	lastEventID string
	snapshot    *types.Snapshot
}

// New constructs a Runner. Call Start once before Run.
func New(broker BrokerClient, sm ServerManagerClient, snapshots SnapshotManager, dapp common.Address, cfg Config) *Runner {
	return &Runner{
		Broker:        broker,
		ServerManager: sm,
		Snapshots:     snapshots,
		Dapp:          dapp,
		Cfg:           cfg,
		logger:        log.New("component", "runner", "dapp", dapp.Hex()),
	}
}

// Start executes spec.md §4.9's startup sequence: resolve the latest
// snapshot, find the inputs-stream position it corresponds to, and start
// (or gracefully replace) the server-manager session.
func (r *Runner) Start(ctx context.Context) error {
	snap, err := r.Snapshots.GetLatest()
	if err != nil {
		return fmt.Errorf("runner: get latest snapshot: %w", err)
	}
	if snap == nil {
		snap, err = r.Snapshots.GetStorageDirectory(0, 0)
		if err != nil {
			return fmt.Errorf("runner: allocate genesis snapshot: %w", err)
		}
	}

	lastID, err := r.Broker.FindPreviousFinishEpoch(r.Dapp, snap.Epoch)
	if err != nil {
		return fmt.Errorf("runner: find previous finish epoch for snapshot epoch %d: %w", snap.Epoch, err)
	}

	if err := r.ServerManager.StartSession(ctx, r.Cfg.SessionID, snap.Path, snap.Epoch, snap.ProcessedInputCount,
		r.Cfg.RuntimeConfig, r.Cfg.CyclesConfig, r.Cfg.DeadlineConfig, r.Cfg.ScratchDirectory,
		r.Cfg.PendingInputsMaxRetries, r.Cfg.PendingInputsSleep); err != nil {
		return fmt.Errorf("runner: start session: %w", err)
	}

	r.snapshot = snap
	r.lastEventID = lastID
	r.logger.Info("runner started", "snapshot_epoch", snap.Epoch, "processed_input_count", snap.ProcessedInputCount, "last_event_id", lastID)
	return nil
}

// Run consumes the inputs stream forever, per spec.md §4.9's main loop.
// It returns only on a permanent error or ctx cancellation.
func (r *Runner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		event, err := r.Broker.ConsumeBlocking(ctx, r.Dapp, types.StreamInputs, r.lastEventID, r.Cfg.ConsumeTimeout)
		if err != nil {
			if errkind.IsTransient(err) {
				r.logger.Warn("consume blocking failed, retrying", "err", err)
				continue
			}
			return err
		}
		if event == nil {
			continue // consume timeout: spec.md §4.6, recoverable, not an error
		}

		if event.ParentID != r.lastEventID {
			return errkind.Permanent(fmt.Errorf("runner: parent id mismatch: expected %q got %q", r.lastEventID, event.ParentID))
		}

		if err := r.dispatch(ctx, event); err != nil {
			return err
		}

		r.lastEventID = event.ID
	}
}

func (r *Runner) dispatch(ctx context.Context, event *types.Event) error {
	switch p := event.Payload.(type) {
	case types.AdvanceStateInput:
		return r.handleAdvanceState(ctx, event, p)
	case types.FinishEpochInput:
		return r.handleFinishEpoch(ctx, event)
	default:
		return errkind.Permanent(fmt.Errorf("runner: unexpected payload type %T on inputs stream", event.Payload))
	}
}

func (r *Runner) handleAdvanceState(ctx context.Context, event *types.Event, in types.AdvanceStateInput) error {
	inputIndex := event.InputsSentCount - 1
	outputs, err := r.ServerManager.AdvanceState(ctx, r.Cfg.SessionID, r.snapshot.Epoch, inputIndex,
		in.Metadata.Sender.Hex(), in.Metadata.BlockNumber, in.Metadata.Timestamp, in.Payload,
		r.Cfg.PendingInputsMaxRetries, r.Cfg.PendingInputsSleep)
	if err != nil {
		return err
	}
	for _, o := range outputs {
		out := &types.Event{Payload: types.Output{Kind: outputKindFromPB(o.Kind), InputIndex: inputIndex, Data: o.Data}}
		if _, err := r.Broker.Produce(ctx, r.Dapp, types.StreamOutputs, out); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) handleFinishEpoch(ctx context.Context, event *types.Event) error {
	epoch := event.EpochIndex
	next, err := r.Snapshots.GetStorageDirectory(epoch+1, event.InputsSentCount)
	if err != nil {
		return fmt.Errorf("runner: allocate next snapshot: %w", err)
	}

	resp, err := r.ServerManager.FinishEpoch(ctx, r.Cfg.SessionID, epoch, next.Path)
	if err != nil {
		if servermanager.IsEmptyEpoch(err) {
			r.logger.Info("finish_epoch: empty epoch, continuing", "epoch", epoch)
			return nil
		}
		return err
	}

	for i, proof := range resp.Proofs {
		data, err := json.Marshal(proof)
		if err != nil {
			return fmt.Errorf("runner: encode proof %d: %w", i, err)
		}
		out := &types.Event{Payload: types.Output{Kind: types.OutputProof, InputIndex: proof.OutputIndex, Data: data}}
		if _, err := r.Broker.Produce(ctx, r.Dapp, types.StreamOutputs, out); err != nil {
			return err
		}
	}

	claimHash := claimhash.Compute(
		common.BytesToHash([]byte(*resp.VouchersRoot)),
		common.BytesToHash([]byte(*resp.NoticesRoot)),
		common.BytesToHash([]byte(*resp.MachineHash)),
	)

	if !r.claimAlreadyCovered(epoch) {
		claimEvent := &types.Event{Payload: types.RollupsClaim{EpochIndex: epoch, ClaimHash: claimHash}}
		if _, err := r.Broker.Produce(ctx, r.Dapp, types.StreamClaims, claimEvent); err != nil {
			return err
		}
	}

	if err := r.Snapshots.SetLatest(next); err != nil {
		return fmt.Errorf("runner: set latest snapshot: %w", err)
	}
	r.snapshot = next
	return nil
}

// claimAlreadyCovered implements spec.md §4.9's duplicate-claim suppression
// rule: skip producing a claim for epoch if the latest claim already covers
// it or a later one, tolerating restarts that replay finish_epoch.
func (r *Runner) claimAlreadyCovered(epoch uint64) bool {
	latest, err := r.Broker.PeekLatest(r.Dapp, types.StreamClaims)
	if err != nil || latest == nil {
		return false
	}
	claim, ok := latest.Payload.(types.RollupsClaim)
	return ok && claim.EpochIndex >= epoch
}

func outputKindFromPB(k pb.OutputKind) types.OutputKind {
	switch k {
	case pb.OutputKindVoucher:
		return types.OutputVoucher
	case pb.OutputKindNotice:
		return types.OutputNotice
	default:
		return types.OutputReport
	}
}
