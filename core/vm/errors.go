package vm

import (
	"errors"
	"fmt"
)

// Execution errors. Every error except ErrExecutionReverted consumes all gas
// of the frame it occurs in.
var (
	ErrOutOfGas                 = errors.New("out of gas")
	ErrCodeStoreOutOfGas        = errors.New("contract creation code storage out of gas")
	ErrDepth                    = errors.New("max call depth exceeded")
	ErrInsufficientBalance      = errors.New("insufficient balance for transfer")
	ErrContractAddressCollision = errors.New("contract address collision")
	ErrExecutionReverted        = errors.New("execution reverted")
	ErrMaxCodeSizeExceeded      = errors.New("max code size exceeded")
	ErrMaxInitCodeSizeExceeded  = errors.New("max initcode size exceeded")
	ErrInvalidJump              = errors.New("invalid jump destination")
	ErrWriteProtection          = errors.New("write protection")
	ErrReturnDataOutOfBounds    = errors.New("return data out of bounds")
	ErrGasUintOverflow          = errors.New("gas uint64 overflow")
	ErrInvalidCode              = errors.New("invalid code: must not begin with 0xef")
	ErrNonceUintOverflow        = errors.New("nonce uint64 overflow")
	ErrStackUnderflow           = errors.New("stack underflow")
	ErrStackOverflow            = errors.New("stack limit reached")
	ErrInvalidOpCode            = errors.New("invalid opcode")

	// ErrSStoreSentry is raised by SSTORE when EIP-1706 is enforced and no
	// more than the call stipend is left.
	ErrSStoreSentry = errors.New("not enough gas for reentrancy sentry")

	// ErrNotImplemented is returned by precompiles that are reserved but
	// deliberately not provided (BN128 add/mul/pairing).
	ErrNotImplemented = errors.New("precompile not implemented")

	// ErrPrecompileArgument is matched by every PrecompileArgumentError.
	ErrPrecompileArgument = errors.New("invalid precompile input")
)

// OutOfGasError reports a charge that exceeded the remaining gas.
type OutOfGasError struct {
	Required  uint64
	Remaining uint64
}

func (e *OutOfGasError) Error() string {
	return fmt.Sprintf("out of gas: required %d, remaining %d", e.Required, e.Remaining)
}

// Is makes errors.Is(err, ErrOutOfGas) hold.
func (e *OutOfGasError) Is(target error) bool { return target == ErrOutOfGas }

// StaticCallViolationError reports a state-modifying operation attempted
// inside a static context.
type StaticCallViolationError struct {
	Op OpCode
}

func (e *StaticCallViolationError) Error() string {
	return fmt.Sprintf("static call violation: %v not allowed", e.Op)
}

// Is makes errors.Is(err, ErrWriteProtection) hold.
func (e *StaticCallViolationError) Is(target error) bool { return target == ErrWriteProtection }

// PrecompileArgumentError reports malformed precompile input.
type PrecompileArgumentError struct {
	Precompile string
	Reason     string
}

func (e *PrecompileArgumentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Precompile, e.Reason)
}

// Is makes errors.Is(err, ErrPrecompileArgument) hold.
func (e *PrecompileArgumentError) Is(target error) bool { return target == ErrPrecompileArgument }

func invalidOpCode(op OpCode) error {
	return fmt.Errorf("%w: opcode %#x", ErrInvalidOpCode, byte(op))
}

func stackUnderflow(op OpCode, have, want int) error {
	return fmt.Errorf("%w (%v: %d <=> %d)", ErrStackUnderflow, op, have, want)
}

func stackOverflow(op OpCode, have, limit int) error {
	return fmt.Errorf("%w (%v: %d > %d)", ErrStackOverflow, op, have, limit)
}
