package vm

import (
	"github.com/eth2030/evmexec/core/types"
)

// Program is one execution frame: code, program counter, stack, memory and
// the frame's gas and refund ledger.
//
// TotalGasUsed + GasRemaining stays equal to the gas the frame started with;
// gas forwarded to a child counts as used until the child hands it back.
type Program struct {
	// Code is the full code buffer, including any bytes appended after the
	// logical end such as constructor arguments.
	Code    []byte
	Context *ProgramContext

	Stack  *Stack
	Memory *Memory

	GasRemaining  uint64
	TotalGasUsed  uint64
	RefundCounter int64

	Depth int

	// ReturnData is the RETURNDATA buffer: output of the last child call.
	ReturnData []byte
	// Output is this frame's own RETURN/REVERT payload.
	Output   []byte
	IsRevert bool

	Trace []ProgramTrace

	pc        uint64
	stopped   bool
	jumpdests bitvec
	steps     int
	// deploying marks init code; its result is final only after the code
	// deposit is charged.
	deploying bool

	// callGasTemp carries the gas a CALL-family gas function granted to
	// the child until the instruction handler runs.
	callGasTemp uint64
}

// NewProgram creates a frame for code with the given gas allowance.
func NewProgram(code []byte, ctx *ProgramContext, gas uint64, depth int) *Program {
	return &Program{
		Code:         code,
		Context:      ctx,
		Stack:        NewStack(),
		Memory:       NewMemory(),
		GasRemaining: gas,
		Depth:        depth,
	}
}

// PC returns the program counter.
func (p *Program) PC() uint64 { return p.pc }

// Stopped reports whether the frame has halted.
func (p *Program) Stopped() bool { return p.stopped }

// Stop halts the frame.
func (p *Program) Stop() { p.stopped = true }

// Address is the account the frame acts on.
func (p *Program) Address() types.Address { return p.Context.Address }

// GetOp returns the opcode at n, or STOP past the end of code.
func (p *Program) GetOp(n uint64) OpCode {
	if n < uint64(len(p.Code)) {
		return OpCode(p.Code[n])
	}
	return STOP
}

// UpdateGasUsed charges amount against the remaining gas. On failure
// nothing is charged and an *OutOfGasError is returned.
func (p *Program) UpdateGasUsed(amount uint64) error {
	if p.GasRemaining < amount {
		return &OutOfGasError{Required: amount, Remaining: p.GasRemaining}
	}
	p.GasRemaining -= amount
	p.TotalGasUsed += amount
	return nil
}

// ReturnGas credits gas a child frame did not use.
func (p *Program) ReturnGas(amount uint64) {
	p.GasRemaining += amount
	p.TotalGasUsed -= amount
}

// consumeAll burns everything left, as every non-revert failure does.
func (p *Program) consumeAll() {
	p.TotalGasUsed += p.GasRemaining
	p.GasRemaining = 0
}

// AddRefund adjusts the refund counter. The counter may go negative while a
// frame undoes an earlier refund.
func (p *Program) AddRefund(delta int64) {
	p.RefundCounter += delta
}

// GetEffectiveRefund returns min(RefundCounter, TotalGasUsed/5).
func (p *Program) GetEffectiveRefund() uint64 {
	return EffectiveRefund(p.RefundCounter, p.TotalGasUsed)
}

// validJumpdest reports whether dest is a JUMPDEST outside push data.
func (p *Program) validJumpdest(dest uint64) bool {
	if dest >= uint64(len(p.Code)) || OpCode(p.Code[dest]) != JUMPDEST {
		return false
	}
	if p.jumpdests == nil {
		p.jumpdests = codeBitmap(p.Code)
	}
	return p.jumpdests.codeSegment(dest)
}
