// Package pb declares the wire message shapes of the state-fold RPC
// boundary (spec.md §4.11): StateAt and InputBoxAt mirror
// fold.GlobalArchive's own two read operations, so the request/response
// shapes are plain structs over the same types the in-process archive
// already returns rather than a parallel wire-only model.
package pb

import (
	"github.com/cartesi/rollups-operator/fold"
	"github.com/cartesi/rollups-operator/types"
)

type StateAtRequest struct {
	Addresses fold.Addresses
	Constants types.RollupsConstants
	Block     types.Block
}

type StateAtResponse struct {
	State *types.RollupsState
}

type InputBoxAtRequest struct {
	Addresses fold.Addresses
	Constants types.RollupsConstants
	Block     types.Block
}

type InputBoxAtResponse struct {
	InputBox *types.DAppInputBox
}
