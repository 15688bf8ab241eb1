package runner

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cartesi/rollups-operator/servermanager/pb"
	"github.com/cartesi/rollups-operator/types"
)

type fakeSnapshots struct {
	latest *types.Snapshot
	set    []*types.Snapshot
}

func (f *fakeSnapshots) GetLatest() (*types.Snapshot, error) { return f.latest, nil }
func (f *fakeSnapshots) GetStorageDirectory(epoch, processedInputCount uint64) (*types.Snapshot, error) {
	return &types.Snapshot{Epoch: epoch, ProcessedInputCount: processedInputCount, Path: "/snap"}, nil
}
func (f *fakeSnapshots) SetLatest(s *types.Snapshot) error {
	f.latest = s
	f.set = append(f.set, s)
	return nil
}

type fakeServerManager struct {
	startedEpoch uint64
	finishCalls  int
	finishResp   *pb.FinishEpochResponse
	finishErr    error
}

func (f *fakeServerManager) StartSession(ctx context.Context, sessionID, machineDirectory string, activeEpoch, processedInputCount uint64, runtimeCfg, cyclesCfg, deadlineCfg, scratchDir string, pendingInputsMaxRetries int, pendingInputsSleep time.Duration) error {
	f.startedEpoch = activeEpoch
	return nil
}

func (f *fakeServerManager) AdvanceState(ctx context.Context, sessionID string, activeEpoch, inputIndex uint64, sender string, blockNumber, timestamp uint64, payload []byte, maxRetries int, sleep time.Duration) ([]pb.OutputEntry, error) {
	return []pb.OutputEntry{{Kind: pb.OutputKindNotice, Data: []byte("out")}}, nil
}

func (f *fakeServerManager) FinishEpoch(ctx context.Context, sessionID string, activeEpoch uint64, storageDirectory string) (*pb.FinishEpochResponse, error) {
	f.finishCalls++
	if f.finishErr != nil {
		return nil, f.finishErr
	}
	return f.finishResp, nil
}

type fakeBroker struct {
	produced    []*types.Event
	latestClaim *types.Event
	events      []*types.Event
	cursor      int
}

func (f *fakeBroker) Produce(ctx context.Context, dapp common.Address, name types.StreamName, event *types.Event) (string, error) {
	f.produced = append(f.produced, event)
	if name == types.StreamClaims {
		f.latestClaim = event
	}
	return "id", nil
}

func (f *fakeBroker) PeekLatest(dapp common.Address, name types.StreamName) (*types.Event, error) {
	if name == types.StreamClaims {
		return f.latestClaim, nil
	}
	return nil, nil
}

func (f *fakeBroker) ConsumeBlocking(ctx context.Context, dapp common.Address, name types.StreamName, lastID string, timeout time.Duration) (*types.Event, error) {
	if f.cursor >= len(f.events) {
		return nil, nil
	}
	e := f.events[f.cursor]
	f.cursor++
	return e, nil
}

func (f *fakeBroker) FindPreviousFinishEpoch(dapp common.Address, epoch uint64) (string, error) {
	if epoch == 0 {
		return types.InitialID, nil
	}
	return "prev-id", nil
}

func hashBytes(b byte) pb.Hash {
	h := make(pb.Hash, 32)
	for i := range h {
		h[i] = b
	}
	return h
}

func TestStartResumesFromLatestSnapshot(t *testing.T) {
	snaps := &fakeSnapshots{latest: &types.Snapshot{Epoch: 3, ProcessedInputCount: 7, Path: "/s3"}}
	sm := &fakeServerManager{}
	brk := &fakeBroker{}
	r := New(brk, sm, snaps, common.HexToAddress("0x1"), Config{SessionID: "s", ConsumeTimeout: time.Millisecond})

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sm.startedEpoch != 3 {
		t.Fatalf("expected StartSession called with epoch 3, got %d", sm.startedEpoch)
	}
	if r.lastEventID != "prev-id" {
		t.Fatalf("expected lastEventID resolved via FindPreviousFinishEpoch, got %q", r.lastEventID)
	}
}

func TestStartAllocatesGenesisSnapshotWhenNoneExists(t *testing.T) {
	snaps := &fakeSnapshots{}
	sm := &fakeServerManager{}
	brk := &fakeBroker{}
	r := New(brk, sm, snaps, common.HexToAddress("0x1"), Config{SessionID: "s"})

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if r.snapshot.Epoch != 0 {
		t.Fatalf("expected genesis snapshot epoch 0, got %d", r.snapshot.Epoch)
	}
	if r.lastEventID != types.InitialID {
		t.Fatalf("expected InitialID for epoch 0, got %q", r.lastEventID)
	}
}

func TestHandleAdvanceStateProducesOutputs(t *testing.T) {
	snaps := &fakeSnapshots{latest: &types.Snapshot{Path: "/s0"}}
	sm := &fakeServerManager{}
	brk := &fakeBroker{}
	r := New(brk, sm, snaps, common.HexToAddress("0x1"), Config{SessionID: "s"})
	r.snapshot = &types.Snapshot{Epoch: 0}

	event := &types.Event{
		Payload:         types.AdvanceStateInput{Metadata: types.InputMetadata{Sender: common.HexToAddress("0x2")}},
		InputsSentCount: 1,
	}
	if err := r.dispatch(context.Background(), event); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(brk.produced) != 1 {
		t.Fatalf("expected 1 output produced, got %d", len(brk.produced))
	}
	out, ok := brk.produced[0].Payload.(types.Output)
	if !ok || out.Kind != types.OutputNotice {
		t.Fatalf("expected a notice output, got %+v", brk.produced[0].Payload)
	}
}

func TestHandleFinishEpochProducesClaimAndAdvancesSnapshot(t *testing.T) {
	snaps := &fakeSnapshots{}
	vouchers, notices, machine := hashBytes(1), hashBytes(2), hashBytes(3)
	sm := &fakeServerManager{finishResp: &pb.FinishEpochResponse{
		VouchersRoot: &vouchers,
		NoticesRoot:  &notices,
		MachineHash:  &machine,
	}}
	brk := &fakeBroker{}
	r := New(brk, sm, snaps, common.HexToAddress("0x1"), Config{SessionID: "s"})
	r.snapshot = &types.Snapshot{Epoch: 2}

	event := &types.Event{Payload: types.FinishEpochInput{}, EpochIndex: 2, InputsSentCount: 10}
	if err := r.dispatch(context.Background(), event); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	claim, ok := brk.latestClaim.Payload.(types.RollupsClaim)
	if !ok || claim.EpochIndex != 2 {
		t.Fatalf("expected a claim for epoch 2, got %+v", brk.latestClaim)
	}
	if len(snaps.set) != 1 || snaps.set[0].Epoch != 3 {
		t.Fatalf("expected SetLatest called with next epoch 3, got %+v", snaps.set)
	}
}

func TestHandleFinishEpochSkipsClaimWhenAlreadyCovered(t *testing.T) {
	snaps := &fakeSnapshots{}
	vouchers, notices, machine := hashBytes(1), hashBytes(2), hashBytes(3)
	sm := &fakeServerManager{finishResp: &pb.FinishEpochResponse{
		VouchersRoot: &vouchers,
		NoticesRoot:  &notices,
		MachineHash:  &machine,
	}}
	brk := &fakeBroker{latestClaim: &types.Event{Payload: types.RollupsClaim{EpochIndex: 5}}}
	r := New(brk, sm, snaps, common.HexToAddress("0x1"), Config{SessionID: "s"})
	r.snapshot = &types.Snapshot{Epoch: 2}

	event := &types.Event{Payload: types.FinishEpochInput{}, EpochIndex: 2, InputsSentCount: 10}
	if err := r.dispatch(context.Background(), event); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	claim := brk.latestClaim.Payload.(types.RollupsClaim)
	if claim.EpochIndex != 5 {
		t.Fatalf("expected existing claim left untouched, got %+v", claim)
	}
}

func TestRunDetectsParentIDMismatch(t *testing.T) {
	snaps := &fakeSnapshots{}
	sm := &fakeServerManager{}
	brk := &fakeBroker{events: []*types.Event{{ID: "e1", ParentID: "wrong", Payload: types.FinishEpochInput{}}}}
	r := New(brk, sm, snaps, common.HexToAddress("0x1"), Config{SessionID: "s"})
	r.lastEventID = types.InitialID

	err := r.Run(context.Background())
	if err == nil {
		t.Fatalf("expected parent id mismatch error")
	}
}
