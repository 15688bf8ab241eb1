package types

import "testing"

func TestDerivePhaseInputAccumulationIgnoresOtherArgs(t *testing.T) {
	phase, base := DerivePhase(RawInputAccumulation, nil, 100, 100, 1000, true)
	if phase != PhaseInputAccumulation || base != 0 {
		t.Fatalf("got (%v, %d)", phase, base)
	}
}

func TestDerivePhaseAwaitingConsensusNoChangeTimestamp(t *testing.T) {
	phase, base := DerivePhase(RawAwaitingConsensus, nil, 100, 100, 1000, false)
	if phase != PhaseEpochSealedAwaitingFirstClaim || base != 0 {
		t.Fatalf("got (%v, %d)", phase, base)
	}
}

func TestDerivePhaseAwaitingConsensusNoConflict(t *testing.T) {
	ts := uint64(500)
	phase, base := DerivePhase(RawAwaitingConsensus, &ts, 100, 100, 600, false)
	if phase != PhaseAwaitingConsensusNoConflict || base != 0 {
		t.Fatalf("got (%v, %d)", phase, base)
	}
}

func TestDerivePhaseAwaitingConsensusWithConflictBeforeTimeout(t *testing.T) {
	ts := uint64(500)
	phase, base := DerivePhase(RawAwaitingConsensus, &ts, 100, 200, 600, true)
	if phase != PhaseAwaitingConsensusAfterConflict || base != 500 {
		t.Fatalf("got (%v, %d)", phase, base)
	}
}

func TestDerivePhaseAwaitingConsensusWithConflictAfterTimeout(t *testing.T) {
	ts := uint64(500)
	phase, base := DerivePhase(RawAwaitingConsensus, &ts, 100, 200, 701, true)
	if phase != PhaseConsensusTimeout || base != 500 {
		t.Fatalf("got (%v, %d)", phase, base)
	}
}

func TestDerivePhaseAwaitingDisputeFallsBackToNowWithoutTimestamp(t *testing.T) {
	phase, base := DerivePhase(RawAwaitingDispute, nil, 100, 200, 900, true)
	if phase != PhaseAwaitingConsensusAfterConflict || base != 900 {
		t.Fatalf("got (%v, %d)", phase, base)
	}
}

func TestDerivePhaseAwaitingDisputeUsesTimestampWhenPresent(t *testing.T) {
	ts := uint64(700)
	phase, base := DerivePhase(RawAwaitingDispute, &ts, 100, 200, 900, true)
	if phase != PhaseAwaitingConsensusAfterConflict || base != 700 {
		t.Fatalf("got (%v, %d)", phase, base)
	}
}

func TestDerivePhasePanicsOnInvalidRawPhase(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic for a raw phase outside {0,1,2}")
		}
	}()
	DerivePhase(RawPhase(99), nil, 100, 200, 900, false)
}

func TestRollupsPhaseStringCoversAllVariantsAndUnknown(t *testing.T) {
	cases := []struct {
		phase RollupsPhase
		want  string
	}{
		{PhaseInputAccumulation, "InputAccumulation"},
		{PhaseEpochSealedAwaitingFirstClaim, "EpochSealedAwaitingFirstClaim"},
		{PhaseAwaitingConsensusNoConflict, "AwaitingConsensusNoConflict"},
		{PhaseAwaitingConsensusAfterConflict, "AwaitingConsensusAfterConflict"},
		{PhaseConsensusTimeout, "ConsensusTimeout"},
		{RollupsPhase(99), "Unknown"},
	}
	for _, c := range cases {
		if got := c.phase.String(); got != c.want {
			t.Fatalf("phase %d: got %q, want %q", c.phase, got, c.want)
		}
	}
}
