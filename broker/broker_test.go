package broker

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-redis/redis"

	"github.com/cartesi/rollups-operator/types"
)

func testAddress(hex string) common.Address { return common.HexToAddress(hex) }

func TestDecodeMessageRoundTripsEventPayload(t *testing.T) {
	event := &types.Event{Payload: types.FinishEpochInput{}, EpochIndex: 7}
	raw, err := event.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}

	msg := redis.XMessage{ID: "5-0", Values: map[string]interface{}{payloadField: string(raw)}}
	got, err := decodeMessage(msg)
	if err != nil {
		t.Fatalf("decodeMessage: %v", err)
	}
	if got.ID != "5-0" {
		t.Fatalf("got ID %q, want 5-0", got.ID)
	}
	if !got.IsFinishEpoch() || got.EpochIndex != 7 {
		t.Fatalf("got %+v", got)
	}
}

func TestDecodeMessageMissingPayloadField(t *testing.T) {
	msg := redis.XMessage{ID: "1-0", Values: map[string]interface{}{}}
	if _, err := decodeMessage(msg); err == nil {
		t.Fatal("expected error for message missing payload field")
	}
}

func TestDecodeMessageNonStringPayloadField(t *testing.T) {
	msg := redis.XMessage{ID: "1-0", Values: map[string]interface{}{payloadField: 42}}
	if _, err := decodeMessage(msg); err == nil {
		t.Fatal("expected error for non-string payload field")
	}
}

func TestDecodeMessageMalformedJSON(t *testing.T) {
	msg := redis.XMessage{ID: "1-0", Values: map[string]interface{}{payloadField: "not json"}}
	if _, err := decodeMessage(msg); err == nil {
		t.Fatal("expected error for malformed payload JSON")
	}
}

func TestStreamKeyingIsScopedPerDapp(t *testing.T) {
	b := &Broker{chainID: 42}
	dapp1 := testAddress("0x1")
	dapp2 := testAddress("0x2")
	if b.stream(dapp1, types.StreamInputs) == b.stream(dapp2, types.StreamInputs) {
		t.Fatal("expected distinct stream keys for distinct dapp addresses")
	}
}
