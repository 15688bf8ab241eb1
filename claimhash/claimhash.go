// Package claimhash computes the domain hash combining a sealed epoch's
// vouchers-root, notices-root and machine-state-hash (spec.md §2, §4.7,
// §4.9). It is grounded on go-ethereum's crypto.Keccak256 — the same
// primitive used throughout go-ethereum for domain-separated hashing.
package claimhash

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Compute returns keccak256(vouchersRoot || noticesRoot || machineHash), the
// claim hash the server-manager facade's finish_epoch and the dispatcher's
// claim submission both rely on (spec.md §4.7, §4.9, §4.5).
func Compute(vouchersRoot, noticesRoot, machineHash common.Hash) common.Hash {
	return crypto.Keccak256Hash(vouchersRoot.Bytes(), noticesRoot.Bytes(), machineHash.Bytes())
}
