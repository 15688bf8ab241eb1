// Package types holds the chain-independent data model shared by the fold,
// dispatcher, broker and runner packages: blocks, inputs, epochs, claims and
// broker events. None of these types carry behavior beyond small derived
// accessors; the algorithms that produce and consume them live in their own
// packages.
package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Block is the immutable, hash-identified unit the chain package folds over.
// It is a narrow projection of *core/types.Header, carrying only the fields
// the fold layer actually consults.
type Block struct {
	Hash       common.Hash
	Number     uint64
	ParentHash common.Hash
	Timestamp  uint64
	LogsBloom  []byte
}

// IsGenesisChild reports whether b is the immediate child of the given
// parent hash, i.e. whether appending b to a chain ending at parent keeps it
// connected.
func (b *Block) IsGenesisChild(parent common.Hash) bool {
	return b.ParentHash == parent
}

// AsBigInt returns the block number as a *big.Int, the representation most
// go-ethereum APIs (BlockByNumber, FilterQuery) expect.
func (b *Block) AsBigInt() *big.Int {
	return new(big.Int).SetUint64(b.Number)
}
