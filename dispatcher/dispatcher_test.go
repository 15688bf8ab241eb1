package dispatcher

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cartesi/rollups-operator/types"
)

type fakeBroker struct {
	produced []*types.Event
	latest   map[types.StreamName]*types.Event
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{latest: make(map[types.StreamName]*types.Event)}
}

func (f *fakeBroker) Produce(ctx context.Context, dapp common.Address, name types.StreamName, event *types.Event) (string, error) {
	f.produced = append(f.produced, event)
	f.latest[name] = event
	return "id", nil
}

func (f *fakeBroker) PeekLatest(dapp common.Address, name types.StreamName) (*types.Event, error) {
	return f.latest[name], nil
}

func input(ts uint64) *types.Input {
	return &types.Input{BlockAdded: &types.Block{Timestamp: ts}}
}

func TestWalkInputsEmitsFinishEpochOnEpochBoundary(t *testing.T) {
	fb := newFakeBroker()
	d := &Dispatcher{
		Broker:    fb,
		constants: &types.RollupsConstants{DappAddress: common.HexToAddress("0x1"), GenesisTimestamp: 0, EpochLength: 10},
	}
	box := &types.DAppInputBox{
		Inputs: []*types.Input{input(5), input(15), input(25)},
	}
	if err := d.walkInputs(context.Background(), box, &rollupStatus{}); err != nil {
		t.Fatalf("walkInputs: %v", err)
	}

	var finishCount, advanceCount int
	for _, e := range fb.produced {
		if e.IsFinishEpoch() {
			finishCount++
		} else {
			advanceCount++
		}
	}
	if finishCount != 2 {
		t.Fatalf("expected 2 FinishEpoch events (epoch 0->1 and 1->2), got %d", finishCount)
	}
	if advanceCount != 3 {
		t.Fatalf("expected 3 AdvanceState events, got %d", advanceCount)
	}
}

func TestWalkInputsResumesFromInputsSentCount(t *testing.T) {
	fb := newFakeBroker()
	d := &Dispatcher{
		Broker:    fb,
		constants: &types.RollupsConstants{DappAddress: common.HexToAddress("0x1"), GenesisTimestamp: 0, EpochLength: 10},
	}
	box := &types.DAppInputBox{Inputs: []*types.Input{input(1), input(2), input(3)}}
	if err := d.walkInputs(context.Background(), box, &rollupStatus{inputsSentCount: 2}); err != nil {
		t.Fatalf("walkInputs: %v", err)
	}
	if len(fb.produced) != 1 {
		t.Fatalf("expected exactly 1 event produced when resuming at input 2, got %d", len(fb.produced))
	}
}

func TestWalkInputsRejectsOversizedInputsSentCount(t *testing.T) {
	fb := newFakeBroker()
	d := &Dispatcher{
		Broker:    fb,
		constants: &types.RollupsConstants{DappAddress: common.HexToAddress("0x1"), GenesisTimestamp: 0, EpochLength: 10},
	}
	box := &types.DAppInputBox{Inputs: []*types.Input{input(1)}}
	err := d.walkInputs(context.Background(), box, &rollupStatus{inputsSentCount: 5})
	if err == nil {
		t.Fatalf("expected error when broker inputs_sent_count exceeds InputBox length")
	}
}
