package fold

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

// Event topic0 hashes for the on-chain events consumed by this system
// (spec.md §6 "Chain (read)"). Computed once at init from their Solidity
// signatures, the same approach go-ethereum's bind-generated contracts use
// for indexed-event matching.
var (
	topicInputAdded             = crypto.Keccak256Hash([]byte("InputAdded(address,uint256,address,bytes)"))
	topicClaim                  = crypto.Keccak256Hash([]byte("Claim(uint256,address,bytes32)"))
	topicFinalizeEpoch           = crypto.Keccak256Hash([]byte("FinalizeEpoch(uint256,bytes32)"))
	topicPhaseChange             = crypto.Keccak256Hash([]byte("PhaseChange(uint8)"))
	topicNewEpoch                = crypto.Keccak256Hash([]byte("NewEpoch(bytes32)"))
	topicDisputeEnded            = crypto.Keccak256Hash([]byte("DisputeEnded(address,address)"))
	topicResolveDispute          = crypto.Keccak256Hash([]byte("ResolveDispute(address,address,bytes)"))
	topicFeeManagerInitialized  = crypto.Keccak256Hash([]byte("FeeManagerInitialized(uint256,uint256)"))
	topicFeePerClaimReset        = crypto.Keccak256Hash([]byte("FeePerClaimReset(uint256)"))
	topicFeeRedeemed             = crypto.Keccak256Hash([]byte("FeeRedeemed(address,uint256)"))
	topicTransfer                = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	topicDeposit                 = crypto.Keccak256Hash([]byte("Deposit(address,uint256)"))
	topicRollupsInitialized      = crypto.Keccak256Hash([]byte("RollupsInitialized(uint256,uint256,uint256)"))
)

// unpackNonIndexed is a small wrapper around abi.Arguments.UnpackValues used
// by every event decoder below; it centralizes the "required field missing"
// style error go-ethereum's bind layer would otherwise panic on, per
// spec.md §9 ("gRPC field-optionality -> get_field! pattern", applied here
// to ABI decoding instead).
func unpackNonIndexed(args abi.Arguments, data []byte) ([]interface{}, error) {
	vals, err := args.UnpackValues(data)
	if err != nil {
		return nil, fmt.Errorf("fold: unpack event data: %w", err)
	}
	return vals, nil
}
