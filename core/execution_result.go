package core

import (
	"github.com/eth2030/evmexec/core/types"
	"github.com/eth2030/evmexec/core/vm"
)

// ExecutionResult holds the outcome of a transaction that passed
// validation. Execution failures, reverts included, are reported in Err.
type ExecutionResult struct {
	// UsedGas is the gas charged to the sender after refunds and the
	// calldata floor.
	UsedGas uint64
	// Refund is the refund applied to UsedGas.
	Refund uint64
	// IntrinsicGas is the part of UsedGas charged before execution.
	IntrinsicGas uint64

	Err             error
	ReturnData      []byte
	ContractAddress types.Address // set for contract creation
	Logs            []*types.Log
	Trace           []vm.ProgramTrace
}

// Unwrap returns the execution error, if any.
func (r *ExecutionResult) Unwrap() error {
	return r.Err
}

// Failed returns whether the execution resulted in an error.
func (r *ExecutionResult) Failed() bool {
	return r.Err != nil
}

// Return returns the return data from a successful execution.
func (r *ExecutionResult) Return() []byte {
	if r.Failed() {
		return nil
	}
	return r.ReturnData
}

// Revert returns the revert reason of a reverted execution.
func (r *ExecutionResult) Revert() []byte {
	if r.Failed() {
		return r.ReturnData
	}
	return nil
}
