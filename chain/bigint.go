package chain

import "math/big"

func bigFromUint64(n uint64) *big.Int { return new(big.Int).SetUint64(n) }
