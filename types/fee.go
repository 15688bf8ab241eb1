package types

import "github.com/ethereum/go-ethereum/common"

// FeeManager tracks per-validator redeemed-claims counts (same 8-slot shape
// as ValidatorManager), the bank balance and current fee-per-claim, per
// spec.md §4.3.
type FeeManager struct {
	Redeemed    [ValidatorSlots]*ValidatorSlot // NumClaims here means redeemed count
	BankBalance *BigUint
	FeePerClaim *BigUint
}

// BigUint is a minimal unsigned-overflow-checked wrapper used where the
// source's mixed signed/unsigned arithmetic (spec.md §9 Open Questions)
// would otherwise silently wrap. This module treats overflow as a
// configuration error, the decision recorded in DESIGN.md.
type BigUint struct{ v uint64 }

func NewBigUint(v uint64) *BigUint { return &BigUint{v: v} }
func (b *BigUint) Uint64() uint64  { return b.v }

// Add returns a+b, panicking on overflow (treated as a config/invariant
// error, never silently wrapped).
func (b *BigUint) Add(o *BigUint) *BigUint {
	sum := b.v + o.v
	if sum < b.v {
		panic("types: BigUint overflow on Add")
	}
	return &BigUint{v: sum}
}

// SubClamp returns max(a-b, 0); used for uncommitted_balance where a
// transient negative intermediate is expected and clamped rather than
// wrapped.
func (b *BigUint) SubClamp(o *BigUint) *BigUint {
	if o.v >= b.v {
		return &BigUint{v: 0}
	}
	return &BigUint{v: b.v - o.v}
}

func (b *BigUint) Mul(o *BigUint) *BigUint {
	if b.v == 0 || o.v == 0 {
		return &BigUint{v: 0}
	}
	prod := b.v * o.v
	if prod/b.v != o.v {
		panic("types: BigUint overflow on Mul")
	}
	return &BigUint{v: prod}
}

func NewFeeManager(bank, feePerClaim uint64) *FeeManager {
	return &FeeManager{BankBalance: NewBigUint(bank), FeePerClaim: NewBigUint(feePerClaim)}
}

func (f *FeeManager) Clone() *FeeManager {
	cp := &FeeManager{BankBalance: f.BankBalance, FeePerClaim: f.FeePerClaim}
	cp.Redeemed = f.Redeemed
	return cp
}

func (f *FeeManager) slotOf(validator common.Address) int {
	for i, s := range f.Redeemed {
		if s != nil && s.Validator == validator {
			return i
		}
	}
	return -1
}

// OnDeposit increases the bank balance (Transfer/Deposit events).
func (f *FeeManager) OnDeposit(amount uint64) *FeeManager {
	cp := f.Clone()
	cp.BankBalance = cp.BankBalance.Add(NewBigUint(amount))
	return cp
}

// OnFeePerClaimReset overwrites the current fee-per-claim value.
func (f *FeeManager) OnFeePerClaimReset(value uint64) *FeeManager {
	cp := f.Clone()
	cp.FeePerClaim = NewBigUint(value)
	return cp
}

// OnFeeRedeemed increments validator's redeemed-claim count and debits the
// bank, unless validator was removed by ValidatorManager — removed
// validators' redemptions are ignored per spec.md §4.3.
func (f *FeeManager) OnFeeRedeemed(validator common.Address, claims uint64, removed bool) *FeeManager {
	if removed {
		return f
	}
	cp := f.Clone()
	i := cp.slotOf(validator)
	if i < 0 {
		i = cp.firstFreeSlot()
		if i < 0 {
			panic((&ErrValidatorCapacityExceeded{Validator: validator}).Error())
		}
		cp.Redeemed[i] = &ValidatorSlot{Validator: validator}
	}
	cp.Redeemed[i].NumClaims += claims
	cp.BankBalance = cp.BankBalance.SubClamp(NewBigUint(claims).Mul(cp.FeePerClaim))
	return cp
}

func (f *FeeManager) firstFreeSlot() int {
	for i, s := range f.Redeemed {
		if s == nil {
			return i
		}
	}
	return -1
}

// UncommittedBalance computes bank_balance - (total_claims - total_redeemed)
// * fee_per_claim, per spec.md §4.3. totalClaims is supplied by the caller
// from ValidatorManager, since FeeManager alone cannot see claim counts.
func (f *FeeManager) UncommittedBalance(totalClaims uint64) *BigUint {
	var totalRedeemed uint64
	for _, s := range f.Redeemed {
		if s != nil {
			totalRedeemed += s.NumClaims
		}
	}
	var owed uint64
	if totalClaims > totalRedeemed {
		owed = totalClaims - totalRedeemed
	}
	return f.BankBalance.SubClamp(NewBigUint(owed).Mul(f.FeePerClaim))
}
