package types

import "github.com/ethereum/go-ethereum/common"

// ValidatorSlots is the hard capacity of the validator set, mirrored from the
// on-chain authority contract. Overflowing it is a permanent error (spec.md
// §7, "Capacity").
const ValidatorSlots = 8

// ValidatorSlot pairs a validator address with its finalized-claim count.
type ValidatorSlot struct {
	Validator common.Address
	NumClaims uint64
}

// ValidatorManager is the fixed-capacity slot array described in spec.md
// §4.3: up to ValidatorSlots validators, a list of validators removed on
// dispute loss, the set of validators that claimed the current unfinalized
// epoch, and the count of finalized epochs.
type ValidatorManager struct {
	Slots            [ValidatorSlots]*ValidatorSlot // nil entries are empty slots
	Removed          map[common.Address]struct{}
	Claiming         map[common.Address]struct{}
	NumFinalizedEpochs uint64
}

// NewValidatorManager returns an empty manager.
func NewValidatorManager() *ValidatorManager {
	return &ValidatorManager{
		Removed:  make(map[common.Address]struct{}),
		Claiming: make(map[common.Address]struct{}),
	}
}

// Clone returns a deep-enough copy so callers can mutate the result without
// affecting a previously-published, immutable state (spec.md §4.3
// Immutability invariant).
func (v *ValidatorManager) Clone() *ValidatorManager {
	cp := &ValidatorManager{NumFinalizedEpochs: v.NumFinalizedEpochs}
	cp.Slots = v.Slots
	cp.Removed = make(map[common.Address]struct{}, len(v.Removed))
	for a := range v.Removed {
		cp.Removed[a] = struct{}{}
	}
	cp.Claiming = make(map[common.Address]struct{}, len(v.Claiming))
	for a := range v.Claiming {
		cp.Claiming[a] = struct{}{}
	}
	return cp
}

// slotOf returns the index of validator's slot, or -1.
func (v *ValidatorManager) slotOf(validator common.Address) int {
	for i, s := range v.Slots {
		if s != nil && s.Validator == validator {
			return i
		}
	}
	return -1
}

// ErrValidatorCapacityExceeded is raised when a ninth distinct validator
// tries to claim a slot. The on-chain contract is expected to
// prevent this (spec.md §7); seeing it off-chain means the fold diverged
// from consensus and must be treated as fatal.
type ErrValidatorCapacityExceeded struct{ Validator common.Address }

func (e *ErrValidatorCapacityExceeded) Error() string {
	return "types: validator manager capacity (8) exceeded by " + e.Validator.Hex()
}

// OnDisputeLost clears validator's slot (if any) and adds it to Removed.
func (v *ValidatorManager) OnDisputeLost(validator common.Address) *ValidatorManager {
	cp := v.Clone()
	if i := cp.slotOf(validator); i >= 0 {
		cp.Slots[i] = nil
	}
	cp.Removed[validator] = struct{}{}
	delete(cp.Claiming, validator)
	return cp
}

// OnNewEpoch commits every currently-claiming validator's claim into
// num_claims and clears the claiming set, per spec.md §4.3.
func (v *ValidatorManager) OnNewEpoch() *ValidatorManager {
	cp := v.Clone()
	for validator := range cp.Claiming {
		i := cp.slotOf(validator)
		if i < 0 {
			i = cp.firstFreeSlot()
			if i < 0 {
				panic((&ErrValidatorCapacityExceeded{Validator: validator}).Error())
			}
			cp.Slots[i] = &ValidatorSlot{Validator: validator}
		}
		cp.Slots[i].NumClaims++
	}
	cp.Claiming = make(map[common.Address]struct{})
	cp.NumFinalizedEpochs++
	return cp
}

func (v *ValidatorManager) firstFreeSlot() int {
	for i, s := range v.Slots {
		if s == nil {
			return i
		}
	}
	return -1
}

// OnClaim records a claim by validator. When epochFinalized reports that the
// claimed epoch is already finalized, the claim increments num_claims immediately;
// otherwise the validator is added to the Claiming set, to be committed on
// the next OnNewEpoch.
func (v *ValidatorManager) OnClaim(validator common.Address, epochFinalized bool) *ValidatorManager {
	if _, removed := v.Removed[validator]; removed {
		return v
	}
	cp := v.Clone()
	if epochFinalized {
		i := cp.slotOf(validator)
		if i < 0 {
			i = cp.firstFreeSlot()
			if i < 0 {
				panic((&ErrValidatorCapacityExceeded{Validator: validator}).Error())
			}
			cp.Slots[i] = &ValidatorSlot{Validator: validator}
		}
		cp.Slots[i].NumClaims++
		return cp
	}
	cp.Claiming[validator] = struct{}{}
	return cp
}

// HasClaimed reports whether validator is in the current claiming set.
func (v *ValidatorManager) HasClaimed(validator common.Address) bool {
	_, ok := v.Claiming[validator]
	return ok
}

// IsRemoved reports whether validator lost a dispute and was removed.
func (v *ValidatorManager) IsRemoved(validator common.Address) bool {
	_, ok := v.Removed[validator]
	return ok
}
