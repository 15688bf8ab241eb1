package types

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// InitialID is the parent_id a fresh consumer starts from: "0" in the wire
// format, sorting before any real Redis stream id.
const InitialID = "0"

// StreamName enumerates the three named streams per dapp (spec.md §4.6).
type StreamName string

const (
	StreamInputs  StreamName = "inputs"
	StreamOutputs StreamName = "outputs"
	StreamClaims  StreamName = "claims"
)

// StreamKey builds the wire stream name for one dapp's stream, per spec.md
// §4.6: "chain-<chain_id>-<dapp_address>-{inputs,outputs,claims}".
func StreamKey(chainID uint64, dapp common.Address, name StreamName) string {
	return fmt.Sprintf("chain-%d-%s-%s", chainID, dapp.Hex(), name)
}

// Payload is the closed set of BrokerEvent payload kinds from spec.md §3.
type Payload interface {
	isPayload()
}

// AdvanceStateInput is RollupsInput::AdvanceState.
type AdvanceStateInput struct {
	Metadata InputMetadata `json:"metadata"`
	Payload  []byte        `json:"payload"`
	TxHash   common.Hash   `json:"tx_hash"`
}

func (AdvanceStateInput) isPayload() {}

// InputMetadata carries the fields needed to reconstruct an input's ordering
// and epoch assignment downstream of the broker.
type InputMetadata struct {
	Sender      common.Address `json:"sender"`
	BlockNumber uint64         `json:"block_number"`
	Timestamp   uint64         `json:"timestamp"`
	EpochIndex  uint64         `json:"epoch_index"`
	InputIndex  uint64         `json:"input_index"`
}

// FinishEpochInput is RollupsInput::FinishEpoch{}.
type FinishEpochInput struct{}

func (FinishEpochInput) isPayload() {}

// OutputKind enumerates RollupsOutput variants.
type OutputKind string

const (
	OutputVoucher OutputKind = "voucher"
	OutputNotice  OutputKind = "notice"
	OutputReport  OutputKind = "report"
	OutputProof   OutputKind = "proof"
)

// Output is the sum-typed RollupsOutput payload.
type Output struct {
	Kind       OutputKind `json:"kind"`
	InputIndex uint64     `json:"input_index"`
	Data       []byte     `json:"data"`
}

func (Output) isPayload() {}

// RollupsClaim is the claim payload produced onto the claims stream.
type RollupsClaim struct {
	EpochIndex uint64      `json:"epoch_index"`
	ClaimHash  common.Hash `json:"claim_hash"`
}

func (RollupsClaim) isPayload() {}

// Event is a single BrokerEvent: a monotonic id within its stream, the id of
// the event it chains from, and one of the Payload kinds above.
type Event struct {
	ID       string  `json:"-"`
	ParentID string  `json:"-"`
	Payload  Payload `json:"payload"`

	// InputsSentCount/EpochIndex are derived bookkeeping fields mirrored
	// onto the event at produce time so rollup-status queries (spec.md
	// §4.5 step 2) don't need to replay the whole stream.
	InputsSentCount uint64 `json:"-"`
	EpochIndex      uint64 `json:"-"`
}

// IsFinishEpoch reports whether the event's payload is FinishEpochInput.
func (e *Event) IsFinishEpoch() bool {
	_, ok := e.Payload.(FinishEpochInput)
	return ok
}

type payloadKind string

const (
	payloadAdvanceState payloadKind = "advance_state"
	payloadFinishEpoch  payloadKind = "finish_epoch"
	payloadOutput       payloadKind = "output"
	payloadClaim        payloadKind = "claim"
)

type wireEvent struct {
	Kind            payloadKind     `json:"kind"`
	Payload         json.RawMessage `json:"payload"`
	InputsSentCount uint64          `json:"inputs_sent_count"`
	EpochIndex      uint64          `json:"epoch_index"`
}

// MarshalJSON encodes Event as a tagged union over Payload's concrete type,
// since Payload is an interface and encoding/json cannot otherwise recover
// its concrete type on decode.
func (e *Event) MarshalJSON() ([]byte, error) {
	var kind payloadKind
	switch e.Payload.(type) {
	case AdvanceStateInput:
		kind = payloadAdvanceState
	case FinishEpochInput:
		kind = payloadFinishEpoch
	case Output:
		kind = payloadOutput
	case RollupsClaim:
		kind = payloadClaim
	default:
		return nil, fmt.Errorf("types: Event.MarshalJSON: unknown payload type %T", e.Payload)
	}
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("types: Event.MarshalJSON: %w", err)
	}
	return json.Marshal(wireEvent{Kind: kind, Payload: raw, InputsSentCount: e.InputsSentCount, EpochIndex: e.EpochIndex})
}

// UnmarshalJSON decodes the tagged union written by MarshalJSON. ID and
// ParentID are not part of the JSON wire body; callers fill them in from the
// Redis stream entry id and its recorded parent separately.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("types: Event.UnmarshalJSON: %w", err)
	}
	var err error
	switch w.Kind {
	case payloadAdvanceState:
		var p AdvanceStateInput
		err = json.Unmarshal(w.Payload, &p)
		e.Payload = p
	case payloadFinishEpoch:
		var p FinishEpochInput
		err = json.Unmarshal(w.Payload, &p)
		e.Payload = p
	case payloadOutput:
		var p Output
		err = json.Unmarshal(w.Payload, &p)
		e.Payload = p
	case payloadClaim:
		var p RollupsClaim
		err = json.Unmarshal(w.Payload, &p)
		e.Payload = p
	default:
		return fmt.Errorf("types: Event.UnmarshalJSON: unknown payload kind %q", w.Kind)
	}
	if err != nil {
		return fmt.Errorf("types: Event.UnmarshalJSON: %w", err)
	}
	e.InputsSentCount = w.InputsSentCount
	e.EpochIndex = w.EpochIndex
	return nil
}
