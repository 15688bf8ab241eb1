// Package servermanager implements the gRPC facade over the deterministic
// VM host described in spec.md §4.7: start_session/advance_state/
// finish_epoch/get_epoch_status polling/end_session, plus the remaining
// methods spec.md §6 lists (get_status, get_session_status, delete_epoch,
// inspect_state, get_version). Every call tags a google/uuid request id into
// outgoing gRPC metadata and is serialized through a mutex, since the VM
// host permits only one in-flight call per session (spec.md §5).
package servermanager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/cartesi/rollups-operator/errkind"
	"github.com/cartesi/rollups-operator/servermanager/pb"
)

const serviceName = "cartesi.servermanager.ServerManager"

// Client is a mutex-guarded gRPC client for one server-manager endpoint.
// The mutex serializes every RPC, matching the "mutual-exclusion guard, one
// in-flight call per session" invariant from spec.md §5.
type Client struct {
	conn *grpc.ClientConn
	mu   sync.Mutex
}

// Dial connects to endpoint using the JSON wire codec declared in pb, since
// no generated protobuf stubs are available for the VM host's surface.
func Dial(ctx context.Context, endpoint string) (*Client, error) {
	conn, err := grpc.DialContext(ctx, endpoint,
		grpc.WithInsecure(),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(pb.Codec{}.Name())),
	)
	if err != nil {
		return nil, errkind.Transient(fmt.Errorf("servermanager: dial %s: %w", endpoint, err))
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

// call invokes one RPC method under the mutex, tagging a fresh request id
// into outgoing metadata (spec.md §6).
func (c *Client) call(ctx context.Context, method string, req, resp interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	md := metadata.Pairs("request-id", uuid.NewString())
	ctx = metadata.NewOutgoingContext(ctx, md)

	err := c.conn.Invoke(ctx, fmt.Sprintf("/%s/%s", serviceName, method), req, resp)
	if err != nil {
		return classify(method, err)
	}
	return nil
}

// classify maps a gRPC status code to the transient/permanent taxonomy of
// spec.md §7: InvalidArgument/NotFound/FailedPrecondition are permanent
// protocol violations, everything else (Unavailable, DeadlineExceeded,
// internal transport errors) is transient and retriable.
func classify(method string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return errkind.Transient(fmt.Errorf("servermanager: %s: %w", method, err))
	}
	switch st.Code() {
	case codes.InvalidArgument, codes.NotFound, codes.FailedPrecondition:
		return errkind.Permanent(fmt.Errorf("servermanager: %s: %w", method, err))
	default:
		return errkind.Transient(fmt.Errorf("servermanager: %s: %w", method, err))
	}
}

func (c *Client) GetStatus(ctx context.Context) (*pb.GetStatusResponse, error) {
	resp := &pb.GetStatusResponse{}
	if err := c.call(ctx, "GetStatus", &pb.GetStatusRequest{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) GetVersion(ctx context.Context) (*pb.GetVersionResponse, error) {
	resp := &pb.GetVersionResponse{}
	if err := c.call(ctx, "GetVersion", &pb.GetVersionRequest{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) GetSessionStatus(ctx context.Context, sessionID string) (*pb.GetSessionStatusResponse, error) {
	resp := &pb.GetSessionStatusResponse{}
	req := &pb.GetSessionStatusRequest{SessionID: sessionID}
	if err := c.call(ctx, "GetSessionStatus", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) GetEpochStatus(ctx context.Context, sessionID string, epoch uint64) (*pb.GetEpochStatusResponse, error) {
	resp := &pb.GetEpochStatusResponse{}
	req := &pb.GetEpochStatusRequest{SessionID: sessionID, ActiveEpochIndex: epoch}
	if err := c.call(ctx, "GetEpochStatus", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) startSessionRaw(ctx context.Context, req *pb.StartSessionRequest) error {
	return c.call(ctx, "StartSession", req, &pb.StartSessionResponse{})
}

func (c *Client) EndSession(ctx context.Context, sessionID string) error {
	return c.call(ctx, "EndSession", &pb.EndSessionRequest{SessionID: sessionID}, &pb.EndSessionResponse{})
}

// StartSession creates a session from an on-disk machine image. If a
// session with the same id already exists, it is gracefully ended first:
// query its epoch status, wait for pending inputs to drain, finish_epoch it
// into scratchDir, then end_session — per spec.md §4.7.
func (c *Client) StartSession(ctx context.Context, sessionID, machineDirectory string, activeEpoch, processedInputCount uint64, runtimeCfg, cyclesCfg, deadlineCfg, scratchDir string, pendingInputsMaxRetries int, pendingInputsSleep time.Duration) error {
	status, err := c.GetSessionStatus(ctx, sessionID)
	if err == nil && status != nil {
		if err := c.drainPendingInputs(ctx, sessionID, status.ActiveEpochIndex, pendingInputsMaxRetries, pendingInputsSleep); err != nil {
			return err
		}
		if _, err := c.FinishEpoch(ctx, sessionID, status.ActiveEpochIndex, scratchDir); err != nil {
			if !isEmptyEpoch(err) {
				return err
			}
		}
		if err := c.EndSession(ctx, sessionID); err != nil {
			return err
		}
	}

	req := &pb.StartSessionRequest{
		SessionID:           sessionID,
		MachineDirectory:    machineDirectory,
		ActiveEpochIndex:    activeEpoch,
		ProcessedInputCount: processedInputCount,
		RuntimeConfig:       runtimeCfg,
		CyclesConfig:        cyclesCfg,
		DeadlineConfig:      deadlineCfg,
	}
	return c.startSessionRaw(ctx, req)
}

// AdvanceState submits one input, polls get_epoch_status until the input is
// processed, then returns its outputs. Reports are returned unconditionally;
// vouchers/notices only when the input was accepted (spec.md §4.7).
func (c *Client) AdvanceState(ctx context.Context, sessionID string, activeEpoch, inputIndex uint64, sender string, blockNumber, timestamp uint64, payload []byte, maxRetries int, sleep time.Duration) ([]pb.OutputEntry, error) {
	req := &pb.AdvanceStateRequest{
		SessionID:         sessionID,
		ActiveEpochIndex:  activeEpoch,
		CurrentInputIndex: inputIndex,
		Sender:            sender,
		BlockNumber:       blockNumber,
		Timestamp:         timestamp,
		Payload:           payload,
	}
	if err := c.call(ctx, "AdvanceState", req, &pb.AdvanceStateResponse{}); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		st, err := c.GetEpochStatus(ctx, sessionID, activeEpoch)
		if err != nil {
			return nil, err
		}
		if st.PendingInputCount == 0 {
			return outputsFor(st, inputIndex)
		}
		select {
		case <-ctx.Done():
			return nil, errkind.Transient(ctx.Err())
		case <-time.After(sleep):
		}
	}
	return nil, errkind.Transient(fmt.Errorf("servermanager: AdvanceState: pending_input_count never reached 0 for input %d", inputIndex))
}

func outputsFor(st *pb.GetEpochStatusResponse, inputIndex uint64) ([]pb.OutputEntry, error) {
	for _, in := range st.ProcessedInputs {
		if in.InputIndex != inputIndex {
			continue
		}
		if in.Status != "accepted" {
			var reports []pb.OutputEntry
			for _, o := range in.Outputs {
				if o.Kind == pb.OutputKindReport {
					reports = append(reports, o)
				}
			}
			return reports, nil
		}
		return in.Outputs, nil
	}
	return nil, errkind.Permanent(fmt.Errorf("servermanager: AdvanceState: input %d missing from processed_inputs", inputIndex))
}

func (c *Client) drainPendingInputs(ctx context.Context, sessionID string, epoch uint64, maxRetries int, sleep time.Duration) error {
	for attempt := 0; attempt < maxRetries; attempt++ {
		st, err := c.GetEpochStatus(ctx, sessionID, epoch)
		if err != nil {
			return err
		}
		if st.PendingInputCount == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return errkind.Transient(ctx.Err())
		case <-time.After(sleep):
		}
	}
	return errkind.Transient(fmt.Errorf("servermanager: drain pending inputs: epoch %d never drained", epoch))
}

// emptyEpochError marks ServerManagerError::EmptyEpochError, non-fatal per
// spec.md §4.9.
type emptyEpochError struct{ inner error }

func (e *emptyEpochError) Error() string { return e.inner.Error() }
func (e *emptyEpochError) Unwrap() error { return e.inner }

func isEmptyEpoch(err error) bool {
	var e *emptyEpochError
	return errors.As(err, &e)
}

// IsEmptyEpoch reports whether err is (or wraps) a ServerManagerError::
// EmptyEpochError, the non-fatal outcome the advance-runner must log and
// continue past rather than treat as a failed finish_epoch (spec.md §4.9).
func IsEmptyEpoch(err error) bool {
	return isEmptyEpoch(err)
}

// FinishEpoch issues finish_epoch and returns the server's response as is.
// A rejection whose message reports an empty epoch comes back as an error
// IsEmptyEpoch recognises, and a response missing the vouchers root, notices
// root or machine hash is a permanent error. It does not wait for pending
// inputs to drain before the call, it does not compute the claim hash (the
// caller derives it from the returned roots), and it does not convert proofs.
func (c *Client) FinishEpoch(ctx context.Context, sessionID string, activeEpoch uint64, storageDirectory string) (*pb.FinishEpochResponse, error) {
	req := &pb.FinishEpochRequest{SessionID: sessionID, ActiveEpochIndex: activeEpoch, StorageDirectory: storageDirectory}
	resp := &pb.FinishEpochResponse{}
	if err := c.call(ctx, "FinishEpoch", req, resp); err != nil {
		if errkind.IsPermanent(err) && isEmptyEpochMessage(err) {
			return nil, &emptyEpochError{inner: err}
		}
		return nil, err
	}
	if resp.VouchersRoot == nil || resp.NoticesRoot == nil || resp.MachineHash == nil {
		return nil, errkind.Permanent(fmt.Errorf("servermanager: FinishEpoch: required field missing in response"))
	}
	return resp, nil
}

func isEmptyEpochMessage(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "empty epoch")
}

func (c *Client) DeleteEpoch(ctx context.Context, sessionID string, epoch uint64) error {
	req := &pb.DeleteEpochRequest{SessionID: sessionID, EpochIndex: epoch}
	return c.call(ctx, "DeleteEpoch", req, &pb.DeleteEpochResponse{})
}

func (c *Client) InspectState(ctx context.Context, sessionID string, payload []byte) (*pb.InspectStateResponse, error) {
	req := &pb.InspectStateRequest{SessionID: sessionID, Payload: payload}
	resp := &pb.InspectStateResponse{}
	if err := c.call(ctx, "InspectState", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
