package types

// RollupsPhase is the logical phase derived from (raw on-chain phase, latest
// phase-change timestamp, input-duration, challenge-period, current block
// timestamp) — spec.md §3. It is distinct from RawPhase, which is the bare
// on-chain enum.
type RollupsPhase int

const (
	PhaseInputAccumulation RollupsPhase = iota
	PhaseEpochSealedAwaitingFirstClaim
	PhaseAwaitingConsensusNoConflict
	PhaseAwaitingConsensusAfterConflict
	PhaseConsensusTimeout
)

func (p RollupsPhase) String() string {
	switch p {
	case PhaseInputAccumulation:
		return "InputAccumulation"
	case PhaseEpochSealedAwaitingFirstClaim:
		return "EpochSealedAwaitingFirstClaim"
	case PhaseAwaitingConsensusNoConflict:
		return "AwaitingConsensusNoConflict"
	case PhaseAwaitingConsensusAfterConflict:
		return "AwaitingConsensusAfterConflict"
	case PhaseConsensusTimeout:
		return "ConsensusTimeout"
	default:
		return "Unknown"
	}
}

// DerivePhase implements the raw->logical phase mapping of spec.md §3 and
// §4.3 (EpochState/RollupsState). challengeBaseTs is only meaningful when the
// returned phase is PhaseAwaitingConsensusAfterConflict.
func DerivePhase(raw RawPhase, phaseChangeTs *uint64, inputDuration, challengePeriod, now uint64, hasConflict bool) (RollupsPhase, uint64) {
	switch raw {
	case RawInputAccumulation:
		return PhaseInputAccumulation, 0
	case RawAwaitingConsensus:
		if phaseChangeTs == nil {
			// Open Question (spec.md §9): the source leaves the
			// phase-change-timestamp-is-None case ambiguous between
			// variants. We treat "no recorded change" as "just sealed,
			// no claim yet" — see DESIGN.md.
			return PhaseEpochSealedAwaitingFirstClaim, 0
		}
		if !hasConflict {
			return PhaseAwaitingConsensusNoConflict, 0
		}
		base := *phaseChangeTs
		if now >= base+challengePeriod {
			return PhaseConsensusTimeout, base
		}
		return PhaseAwaitingConsensusAfterConflict, base
	case RawAwaitingDispute:
		return PhaseAwaitingConsensusAfterConflict, valueOr(phaseChangeTs, now)
	default:
		panic("types: raw phase outside {0,1,2}")
	}
}

func valueOr(p *uint64, def uint64) uint64 {
	if p == nil {
		return def
	}
	return *p
}
