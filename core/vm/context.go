package vm

import (
	"github.com/holiman/uint256"

	"github.com/eth2030/evmexec/core/state"
	"github.com/eth2030/evmexec/core/types"
)

// BlockContext is the block environment visible to every frame.
type BlockContext struct {
	Number      uint64
	Timestamp   uint64
	Coinbase    types.Address
	GasLimit    uint64
	BaseFee     *uint256.Int
	BlobBaseFee *uint256.Int
	// Difficulty is exposed through PREVRANDAO (0x44).
	Difficulty types.Hash
}

// ProgramContext is the environment of one frame. Each frame owns its
// context; children get a fresh one derived from the parent's.
type ProgramContext struct {
	// Caller is the account that made this call (CALLER).
	Caller types.Address
	// Address is the account whose storage and balance the code acts on.
	Address types.Address
	// CodeAddress is the account the executing code was loaded from.
	CodeAddress types.Address
	Value       *uint256.Int
	Input       []byte

	Origin     types.Address
	GasPrice   *uint256.Int
	BlobHashes []types.Hash
	ChainID    uint64

	State *state.ExecutionStateService
	Block *BlockContext

	// Static forbids state modification in this frame and its descendants.
	Static bool
	// EnforceGasSentry enables the EIP-1706 SSTORE stipend check.
	EnforceGasSentry bool
}

// child derives the context of a nested call. Static is sticky: once set it
// stays set for every descendant.
func (c *ProgramContext) child(caller, addr, codeAddr types.Address, value *uint256.Int, input []byte, static bool) *ProgramContext {
	return &ProgramContext{
		Caller:           caller,
		Address:          addr,
		CodeAddress:      codeAddr,
		Value:            value,
		Input:            input,
		Origin:           c.Origin,
		GasPrice:         c.GasPrice,
		BlobHashes:       c.BlobHashes,
		ChainID:          c.ChainID,
		State:            c.State,
		Block:            c.Block,
		Static:           c.Static || static,
		EnforceGasSentry: c.EnforceGasSentry,
	}
}
