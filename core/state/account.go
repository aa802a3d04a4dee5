package state

import (
	"math/big"

	"github.com/holiman/uint256"

	"github.com/eth2030/evmexec/core/types"
)

// AccountExecutionState is the per-execution view of one account. Fields are
// filled lazily from the NodeDataService on first access and mutated only
// through ExecutionStateService so every change is journaled.
type AccountExecutionState struct {
	Address types.Address

	// InitialChainBalance is the balance at the start of the execution.
	InitialChainBalance *uint256.Int
	// InternalBalance is the signed delta accumulated during execution.
	InternalBalance *big.Int

	Nonce uint64
	Code  []byte

	// Storage holds every slot read or written so far.
	Storage map[types.Hash]types.Hash
	// OriginalStorageValues holds the value of each slot at first touch.
	OriginalStorageValues map[types.Hash]types.Hash

	balanceLoaded bool
	nonceLoaded   bool
	codeLoaded    bool

	// storageCleared makes slot misses read as zero instead of consulting
	// node data, used once a self-destructed account has been wiped.
	storageCleared bool

	createdInTx    bool
	selfDestructed bool
}

func newAccountExecutionState(addr types.Address) *AccountExecutionState {
	return &AccountExecutionState{
		Address:               addr,
		InitialChainBalance:   new(uint256.Int),
		InternalBalance:       new(big.Int),
		Storage:               make(map[types.Hash]types.Hash),
		OriginalStorageValues: make(map[types.Hash]types.Hash),
	}
}

// Balance returns InitialChainBalance plus InternalBalance. A negative sum
// cannot be produced through ExecutionStateService and reads as zero.
func (a *AccountExecutionState) Balance() *uint256.Int {
	sum := new(big.Int).Add(a.InitialChainBalance.ToBig(), a.InternalBalance)
	if sum.Sign() < 0 {
		return new(uint256.Int)
	}
	bal, _ := uint256.FromBig(sum)
	return bal
}

// CreatedInTx reports whether the account was created by CREATE/CREATE2 in
// the current transaction.
func (a *AccountExecutionState) CreatedInTx() bool { return a.createdInTx }

// SelfDestructed reports whether SELFDESTRUCT marked the account for deletion.
func (a *AccountExecutionState) SelfDestructed() bool { return a.selfDestructed }
