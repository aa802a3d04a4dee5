package vm

import (
	"errors"

	"github.com/eth2030/evmexec/core/types"
)

// ProgramResult is the outcome of running one frame, including everything
// its descendants did.
type ProgramResult struct {
	Success    bool
	ReturnData []byte
	// GasUsed is what the frame consumed out of the gas it was given;
	// GasRemaining is handed back to the caller.
	GasUsed      uint64
	GasRemaining uint64
	// Refund is the frame's refund counter. Failed frames report zero.
	Refund   int64
	IsRevert bool
	Error    error
	// Trace holds every recorded step when tracing is enabled, in
	// execution order across all depths.
	Trace []ProgramTrace
	// CreatedAddress is set for CREATE and CREATE2.
	CreatedAddress types.Address
	Logs           []*types.Log
}

// Failed reports whether the frame reverted or raised an error.
func (r *ProgramResult) Failed() bool { return !r.Success }

// Revert returns the revert payload, or nil unless the frame reverted.
func (r *ProgramResult) Revert() []byte {
	if !r.IsRevert {
		return nil
	}
	return r.ReturnData
}

// failedResult is the outcome of a call that never started: gas is
// returned in full and no state was touched.
func failedResult(gas uint64, err error) *ProgramResult {
	return &ProgramResult{GasRemaining: gas, Error: err}
}

// isRevert reports whether err keeps the frame's remaining gas.
func isRevert(err error) bool {
	return errors.Is(err, ErrExecutionReverted)
}
