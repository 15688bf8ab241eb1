// Package pb declares the wire message shapes this client needs from the
// server-manager gRPC service (spec.md §4.7/§6) and a JSON-based
// grpc.Codec so those shapes can travel over a real gRPC connection without
// a full protoc-generated stub tree — the VM host's .proto surface is an
// external collaborator per spec.md §1 and was not available to generate
// against. Method names and the request/response shapes below mirror the
// operations spec.md names: get_status, start_session, end_session,
// advance_state, finish_epoch, get_session_status, get_epoch_status,
// delete_epoch, inspect_state, get_version.
package pb

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

func init() {
	encoding.RegisterCodec(Codec{})
}

// Codec implements grpc/encoding.Codec over encoding/json, registered under
// the "json" subtype so grpc.CallContentSubtype("json") routes through it.
// statefoldrpc reuses this same codec for its own JSON-over-gRPC surface
// rather than registering a second "json" codec under a different package.
type Codec struct{}

func (Codec) Marshal(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("servermanager/pb: marshal: %w", err)
	}
	return b, nil
}

func (Codec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("servermanager/pb: unmarshal: %w", err)
	}
	return nil
}

func (Codec) Name() string { return "json" }
