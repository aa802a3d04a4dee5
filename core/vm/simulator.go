package vm

import (
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/eth2030/evmexec/core/state"
	"github.com/eth2030/evmexec/core/types"
	"github.com/eth2030/evmexec/crypto"
	"github.com/eth2030/evmexec/log"
)

var logger = log.Module("vm")

// EVMSimulator steps programs and runs the CALL and CREATE families by
// building child frames. A simulator is not safe for concurrent use; run
// independent transactions on independent simulators.
type EVMSimulator struct {
	config      HardforkConfig
	table       *JumpTable
	precompiles *PrecompileDispatcher
	trace       TraceConfig

	// steps collects the trace of the current outermost frame across all
	// depths.
	steps []ProgramTrace
}

// NewEVMSimulator returns a simulator for config.
func NewEVMSimulator(config HardforkConfig, trace TraceConfig) *EVMSimulator {
	if config.MaxCallDepth == 0 {
		config.MaxCallDepth = MaxCallDepth
	}
	return &EVMSimulator{
		config:      config,
		table:       instructionSet(config.Fork),
		precompiles: NewPrecompileDispatcher(config.Providers()...),
		trace:       trace,
	}
}

// Config returns the hardfork configuration.
func (s *EVMSimulator) Config() HardforkConfig { return s.config }

// Precompiles returns the dispatcher used for precompile calls.
func (s *EVMSimulator) Precompiles() *PrecompileDispatcher { return s.precompiles }

// Step executes one instruction of p. An error halts the frame; Execute
// settles its gas.
func (s *EVMSimulator) Step(p *Program) error {
	if p.stopped {
		return nil
	}
	op := p.GetOp(p.pc)
	operation := s.table[op]

	var (
		rec       ProgramTrace
		gasBefore = p.GasRemaining
		traceIdx  = -1
	)
	if s.trace.Enabled {
		rec = newTrace(p, op, &s.trace)
	}
	err := s.charge(p, op, operation)
	if s.trace.Enabled {
		rec.GasCost = gasBefore - p.GasRemaining
		rec.Err = err
		traceIdx = s.record(p, rec)
	}
	p.steps++
	if err != nil {
		return err
	}

	if err := operation.execute(s, p); err != nil {
		if traceIdx >= 0 {
			s.steps[traceIdx].Err = err
			p.Trace[len(p.Trace)-1].Err = err
		}
		return err
	}
	switch {
	case operation.halts:
		p.stopped = true
	case !operation.jumps:
		p.pc++
	}
	return nil
}

// charge validates the stack and static context, charges constant and
// dynamic gas, and grows memory. Nothing is executed.
func (s *EVMSimulator) charge(p *Program, op OpCode, operation *operation) error {
	if operation == nil {
		return invalidOpCode(op)
	}
	if sLen := p.Stack.Len(); sLen < operation.minStack {
		return stackUnderflow(op, sLen, operation.minStack)
	} else if sLen > operation.maxStack {
		return stackOverflow(op, sLen, operation.maxStack)
	}
	if p.Context.Static && (operation.writes || (op == CALL && !p.Stack.Back(2).IsZero())) {
		return &StaticCallViolationError{Op: op}
	}
	if err := p.UpdateGasUsed(operation.constantGas); err != nil {
		return err
	}

	var memorySize uint64
	if operation.memorySize != nil {
		memSize, overflow := operation.memorySize(p.Stack)
		if overflow {
			return ErrGasUintOverflow
		}
		if memorySize, overflow = safeMul(toWordSize(memSize), 32); overflow {
			return ErrGasUintOverflow
		}
	}
	if operation.dynamicGas != nil {
		dynamicCost, err := operation.dynamicGas(s, p, memorySize)
		if err != nil {
			return err
		}
		if err := p.UpdateGasUsed(dynamicCost); err != nil {
			return err
		}
	}
	if memorySize > 0 {
		p.Memory.Resize(memorySize)
	}
	return nil
}

func (s *EVMSimulator) record(p *Program, rec ProgramTrace) int {
	rec.Index = len(s.steps)
	s.steps = append(s.steps, rec)
	p.Trace = append(p.Trace, rec)
	if s.trace.Tracer != nil {
		s.trace.Tracer.CaptureStep(&rec)
	}
	return rec.Index
}

// Execute runs p until it halts. Every error except a revert burns the
// frame's remaining gas and drops its output. Snapshots are left to the
// caller.
func (s *EVMSimulator) Execute(p *Program) *ProgramResult {
	if p.Depth == 0 {
		s.steps = nil
	}
	gasStart := p.GasRemaining

	var err error
	for !p.stopped {
		if err = s.Step(p); err != nil {
			break
		}
	}
	p.stopped = true

	res := &ProgramResult{Error: err}
	switch {
	case err == nil:
		res.Success = true
		res.ReturnData = p.Output
		res.Refund = p.RefundCounter
	case isRevert(err):
		res.IsRevert = true
		res.ReturnData = p.Output
	default:
		p.consumeAll()
		p.Output = nil
	}
	res.GasRemaining = p.GasRemaining
	res.GasUsed = gasStart - p.GasRemaining

	if p.Depth == 0 {
		res.Trace = s.steps
		if !p.deploying {
			s.captureEnd(res)
		}
	} else {
		res.Trace = p.Trace
	}
	return res
}

// captureEnd reports the outcome of the outermost frame to the tracer.
func (s *EVMSimulator) captureEnd(res *ProgramResult) {
	if s.trace.Tracer != nil {
		s.trace.Tracer.CaptureEnd(res.ReturnData, res.GasUsed, res.Error)
	}
}

// Call runs the code at addr with value sent from the parent frame's
// account. depth is the depth of the new frame.
func (s *EVMSimulator) Call(parent *ProgramContext, addr types.Address, input []byte, gas uint64, value *uint256.Int, depth int) *ProgramResult {
	value = orZero(value)
	if depth > s.config.MaxCallDepth {
		return failedResult(gas, ErrDepth)
	}
	st := parent.State
	if !value.IsZero() && st.GetBalance(parent.Address).Lt(value) {
		return failedResult(gas, ErrInsufficientBalance)
	}
	snapshot := st.TakeSnapshot()
	if !value.IsZero() {
		if err := st.Transfer(parent.Address, addr, value); err != nil {
			s.revert(st, snapshot)
			return failedResult(gas, ErrInsufficientBalance)
		}
	}
	ctx := parent.child(parent.Address, addr, addr, value, input, false)
	return s.run(ctx, gas, depth, snapshot)
}

// CallCode runs the code at addr against the parent's own account.
func (s *EVMSimulator) CallCode(parent *ProgramContext, addr types.Address, input []byte, gas uint64, value *uint256.Int, depth int) *ProgramResult {
	value = orZero(value)
	if depth > s.config.MaxCallDepth {
		return failedResult(gas, ErrDepth)
	}
	st := parent.State
	if !value.IsZero() && st.GetBalance(parent.Address).Lt(value) {
		return failedResult(gas, ErrInsufficientBalance)
	}
	snapshot := st.TakeSnapshot()
	ctx := parent.child(parent.Address, parent.Address, addr, value, input, false)
	return s.run(ctx, gas, depth, snapshot)
}

// DelegateCall runs the code at addr with the parent's caller, value and
// account.
func (s *EVMSimulator) DelegateCall(parent *ProgramContext, addr types.Address, input []byte, gas uint64, depth int) *ProgramResult {
	if depth > s.config.MaxCallDepth {
		return failedResult(gas, ErrDepth)
	}
	snapshot := parent.State.TakeSnapshot()
	ctx := parent.child(parent.Caller, parent.Address, addr, parent.Value, input, false)
	return s.run(ctx, gas, depth, snapshot)
}

// StaticCall runs the code at addr in a static context.
func (s *EVMSimulator) StaticCall(parent *ProgramContext, addr types.Address, input []byte, gas uint64, depth int) *ProgramResult {
	if depth > s.config.MaxCallDepth {
		return failedResult(gas, ErrDepth)
	}
	snapshot := parent.State.TakeSnapshot()
	ctx := parent.child(parent.Address, addr, addr, new(uint256.Int), input, true)
	return s.run(ctx, gas, depth, snapshot)
}

// run executes the code at ctx.CodeAddress inside snapshot, which it
// commits on success and reverts otherwise.
func (s *EVMSimulator) run(ctx *ProgramContext, gas uint64, depth int, snapshot int) *ProgramResult {
	st := ctx.State
	logger.Trace("enter frame", "depth", depth, "to", ctx.Address, "code", ctx.CodeAddress, "gas", gas, "static", ctx.Static)

	var (
		res      *ProgramResult
		executed bool
	)
	if s.precompiles.IsPrecompile(ctx.CodeAddress) {
		ret, left, err := s.precompiles.Run(ctx.CodeAddress, ctx.Input, gas)
		res = &ProgramResult{Success: err == nil, ReturnData: ret, GasRemaining: left, Error: err}
		if err != nil {
			res.ReturnData = nil
			res.GasRemaining = 0
		}
		res.GasUsed = gas - res.GasRemaining
	} else if code := s.resolveCode(st, ctx.CodeAddress); len(code) > 0 {
		res = s.Execute(NewProgram(code, ctx, gas, depth))
		executed = true
	} else {
		res = &ProgramResult{Success: true, GasRemaining: gas}
	}
	// Execute reports root frames that ran code itself.
	if depth == 0 && !executed {
		s.steps = nil
		s.captureEnd(res)
	}

	if res.Success {
		s.commit(st, snapshot)
	} else {
		s.revert(st, snapshot)
	}
	logger.Trace("exit frame", "depth", depth, "to", ctx.Address, "gasUsed", res.GasUsed, "err", res.Error)
	return res
}

// resolveCode returns the code to run for addr. Under Prague a delegation
// designator is followed exactly one hop.
func (s *EVMSimulator) resolveCode(st *state.ExecutionStateService, addr types.Address) []byte {
	code := st.GetCode(addr)
	if !s.config.IsPrague() {
		return code
	}
	if target, ok := types.ParseDelegation(code); ok {
		return st.GetCode(target)
	}
	return code
}

// Create deploys initCode at the address derived from the parent account
// and its nonce.
func (s *EVMSimulator) Create(parent *ProgramContext, initCode []byte, gas uint64, value *uint256.Int, depth int) *ProgramResult {
	addr := CreateAddress(parent.Address, parent.State.GetNonce(parent.Address))
	return s.create(parent, initCode, gas, orZero(value), addr, depth)
}

// Create2 deploys initCode at the address derived from the parent account,
// salt and the init code hash (EIP-1014).
func (s *EVMSimulator) Create2(parent *ProgramContext, initCode []byte, gas uint64, value *uint256.Int, salt *uint256.Int, depth int) *ProgramResult {
	addr := CreateAddress2(parent.Address, salt.Bytes32(), crypto.Keccak256(initCode))
	return s.create(parent, initCode, gas, orZero(value), addr, depth)
}

func (s *EVMSimulator) create(parent *ProgramContext, initCode []byte, gas uint64, value *uint256.Int, addr types.Address, depth int) *ProgramResult {
	if depth > s.config.MaxCallDepth {
		return failedResult(gas, ErrDepth)
	}
	var (
		st     = parent.State
		caller = parent.Address
	)
	if st.GetBalance(caller).Lt(value) {
		return failedResult(gas, ErrInsufficientBalance)
	}
	nonce := st.GetNonce(caller)
	if nonce+1 < nonce {
		return failedResult(gas, ErrNonceUintOverflow)
	}
	st.SetNonce(caller, nonce+1)
	// The new address stays warm even if creation fails.
	st.AddAddressToAccessList(addr)

	if st.GetNonce(addr) != 0 || st.GetCodeSize(addr) != 0 {
		return &ProgramResult{Error: ErrContractAddressCollision, GasUsed: gas, CreatedAddress: addr}
	}

	snapshot := st.TakeSnapshot()
	st.CreateContract(addr)
	st.SetNonce(addr, 1)
	if !value.IsZero() {
		if err := st.Transfer(caller, addr, value); err != nil {
			s.revert(st, snapshot)
			return failedResult(gas, ErrInsufficientBalance)
		}
	}

	logger.Trace("enter create", "depth", depth, "addr", addr, "gas", gas, "initcode", len(initCode))
	ctx := parent.child(caller, addr, addr, value, nil, false)
	prog := NewProgram(initCode, ctx, gas, depth)
	prog.deploying = true
	res := s.Execute(prog)
	res.CreatedAddress = addr

	if res.Success {
		if err := s.deployCode(prog, addr); err != nil {
			prog.consumeAll()
			res.Success = false
			res.Error = err
			res.ReturnData = nil
			res.Refund = 0
		}
		res.GasRemaining = prog.GasRemaining
		res.GasUsed = gas - prog.GasRemaining
	}
	if depth == 0 {
		s.captureEnd(res)
	}
	if res.Success {
		s.commit(st, snapshot)
	} else {
		s.revert(st, snapshot)
	}
	logger.Trace("exit create", "depth", depth, "addr", addr, "gasUsed", res.GasUsed, "err", res.Error)
	return res
}

// deployCode validates the init code's output and stores it, charging the
// code deposit to the init frame.
func (s *EVMSimulator) deployCode(prog *Program, addr types.Address) error {
	code := prog.Output
	if len(code) > MaxCodeSize {
		return ErrMaxCodeSizeExceeded
	}
	if len(code) >= 1 && code[0] == 0xef {
		return ErrInvalidCode
	}
	if err := prog.UpdateGasUsed(uint64(len(code)) * GasCreateData); err != nil {
		return ErrCodeStoreOutOfGas
	}
	prog.Context.State.SaveCode(addr, code)
	return nil
}

func (s *EVMSimulator) commit(st *state.ExecutionStateService, id int) {
	if err := st.CommitSnapshot(id); err != nil {
		logger.Error("snapshot commit failed", "id", id, "err", err)
	}
}

func (s *EVMSimulator) revert(st *state.ExecutionStateService, id int) {
	if err := st.RevertToSnapshot(id); err != nil {
		logger.Error("snapshot revert failed", "id", id, "err", err)
	}
}

// CreateAddress returns keccak256(rlp([sender, nonce]))[12:].
func CreateAddress(sender types.Address, nonce uint64) types.Address {
	data, _ := rlp.EncodeToBytes([]interface{}{sender, nonce})
	return types.BytesToAddress(crypto.Keccak256(data)[12:])
}

// CreateAddress2 returns keccak256(0xff ++ sender ++ salt ++ initHash)[12:].
func CreateAddress2(sender types.Address, salt [32]byte, initHash []byte) types.Address {
	return types.BytesToAddress(crypto.Keccak256([]byte{0xff}, sender.Bytes(), salt[:], initHash)[12:])
}
