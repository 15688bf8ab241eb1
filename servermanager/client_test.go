package servermanager

import (
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cartesi/rollups-operator/errkind"
	"github.com/cartesi/rollups-operator/servermanager/pb"
)

func TestClassifyMarksProtocolViolationsPermanent(t *testing.T) {
	for _, code := range []codes.Code{codes.InvalidArgument, codes.NotFound, codes.FailedPrecondition} {
		err := status.Error(code, "bad request")
		if !errkind.IsPermanent(classify("Method", err)) {
			t.Fatalf("code %v: expected permanent, got %v", code, errkind.Is(classify("Method", err)))
		}
	}
}

func TestClassifyMarksTransportErrorsTransient(t *testing.T) {
	for _, code := range []codes.Code{codes.Unavailable, codes.DeadlineExceeded, codes.Internal} {
		err := status.Error(code, "try again")
		if !errkind.IsTransient(classify("Method", err)) {
			t.Fatalf("code %v: expected transient, got %v", code, errkind.Is(classify("Method", err)))
		}
	}
}

func TestClassifyNonStatusErrorIsTransient(t *testing.T) {
	err := errors.New("connection refused")
	if !errkind.IsTransient(classify("Method", err)) {
		t.Fatal("expected non-status error to classify as transient")
	}
}

func TestIsEmptyEpochDetectsWrappedMarker(t *testing.T) {
	marker := &emptyEpochError{inner: fmt.Errorf("finish_epoch: empty epoch")}
	wrapped := fmt.Errorf("StartSession: %w", marker)
	if !IsEmptyEpoch(wrapped) {
		t.Fatal("expected IsEmptyEpoch to see through wrapping")
	}
	if IsEmptyEpoch(errors.New("some other error")) {
		t.Fatal("unrelated error should not be classified as empty epoch")
	}
}

func TestIsEmptyEpochMessageMatchesCaseInsensitively(t *testing.T) {
	if !isEmptyEpochMessage(errors.New("Empty Epoch: nothing to finish")) {
		t.Fatal("expected case-insensitive match")
	}
	if isEmptyEpochMessage(errors.New("session not found")) {
		t.Fatal("unrelated message should not match")
	}
}

func TestOutputsForReturnsAllOutputsWhenAccepted(t *testing.T) {
	st := &pb.GetEpochStatusResponse{
		ProcessedInputs: []pb.ProcessedInput{
			{
				InputIndex: 1,
				Status:     "accepted",
				Outputs: []pb.OutputEntry{
					{Kind: pb.OutputKindVoucher},
					{Kind: pb.OutputKindReport},
				},
			},
		},
	}
	outs, err := outputsFor(st, 1)
	if err != nil {
		t.Fatalf("outputsFor: %v", err)
	}
	if len(outs) != 2 {
		t.Fatalf("got %d outputs, want 2", len(outs))
	}
}

func TestOutputsForReturnsOnlyReportsWhenRejected(t *testing.T) {
	st := &pb.GetEpochStatusResponse{
		ProcessedInputs: []pb.ProcessedInput{
			{
				InputIndex: 2,
				Status:     "rejected",
				Outputs: []pb.OutputEntry{
					{Kind: pb.OutputKindVoucher},
					{Kind: pb.OutputKindReport},
					{Kind: pb.OutputKindReport},
				},
			},
		},
	}
	outs, err := outputsFor(st, 2)
	if err != nil {
		t.Fatalf("outputsFor: %v", err)
	}
	if len(outs) != 2 {
		t.Fatalf("got %d reports, want 2", len(outs))
	}
	for _, o := range outs {
		if o.Kind != pb.OutputKindReport {
			t.Fatalf("got non-report output %+v in rejected result", o)
		}
	}
}

func TestOutputsForMissingInputIsPermanentError(t *testing.T) {
	st := &pb.GetEpochStatusResponse{}
	_, err := outputsFor(st, 5)
	if err == nil || !errkind.IsPermanent(err) {
		t.Fatalf("expected permanent error for missing input, got %v", err)
	}
}
