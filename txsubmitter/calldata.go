package txsubmitter

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/cartesi/rollups-operator/types"
)

func mustType(t string) abi.Type {
	ty, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return ty
}

// selector returns the 4-byte function selector for a Solidity signature
// string, the same derivation fold/events.go uses for event topics.
func selector(sig string) []byte {
	return crypto.Keccak256([]byte(sig))[:4]
}

var submitClaimArgs = abi.Arguments{
	{Type: mustType("address")}, // dapp
	{Type: mustType("bytes32")}, // epoch hash
	{Type: mustType("uint64")},  // first index
	{Type: mustType("uint64")},  // last index
}

// encodeSubmitClaim builds calldata for the authority contract's
// submitClaim(dapp, Claim{epoch_hash, first_index, last_index}), per
// spec.md §4.10.
func encodeSubmitClaim(dapp common.Address, claim types.Claim) ([]byte, error) {
	packed, err := submitClaimArgs.Pack(dapp, claim.EpochHash, claim.FirstIndex, claim.LastIndex)
	if err != nil {
		return nil, err
	}
	return append(selector("submitClaim(address,bytes32,uint64,uint64)"), packed...), nil
}

// encodeFinalizeEpoch builds calldata for the rollups contract's
// finalizeEpoch(), a no-argument call.
func encodeFinalizeEpoch() []byte {
	return selector("finalizeEpoch()")
}
