package claimhash

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

// TestComputeDeterministic covers the shape of seed scenario S7
// (compute_claim_hash(h, h, h) is a fixed function of h). spec.md only gives
// truncated hex for the expected output ("0xb19b…3c45"), not enough digits
// to reconstruct a literal expected value, so this test pins determinism and
// sensitivity to each input instead of a fabricated full hash constant.
func TestComputeDeterministic(t *testing.T) {
	h := common.HexToHash("0x973e8ec4245c0e889f02ab1d174edd08cc778505f5e93def4f5fa1a4f654b94")

	got1 := Compute(h, h, h)
	got2 := Compute(h, h, h)
	require.Equal(t, got1, got2, "Compute must be a pure function of its inputs")
	require.NotEqual(t, common.Hash{}, got1)
}

func TestComputeSensitiveToEachInput(t *testing.T) {
	a := common.HexToHash("0xa")
	b := common.HexToHash("0xb")
	c := common.HexToHash("0xc")

	base := Compute(a, b, c)
	require.NotEqual(t, base, Compute(b, b, c), "vouchers-root must affect the hash")
	require.NotEqual(t, base, Compute(a, c, c), "notices-root must affect the hash")
	require.NotEqual(t, base, Compute(a, b, a), "machine-hash must affect the hash")
}
