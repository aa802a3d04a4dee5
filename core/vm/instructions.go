package vm

import (
	"math"

	"github.com/holiman/uint256"

	"github.com/eth2030/evmexec/core/types"
	"github.com/eth2030/evmexec/crypto"
)

func opAdd(s *EVMSimulator, p *Program) error {
	x, y := p.Stack.Pop(), p.Stack.Peek()
	y.Add(&x, y)
	return nil
}

func opSub(s *EVMSimulator, p *Program) error {
	x, y := p.Stack.Pop(), p.Stack.Peek()
	y.Sub(&x, y)
	return nil
}

func opMul(s *EVMSimulator, p *Program) error {
	x, y := p.Stack.Pop(), p.Stack.Peek()
	y.Mul(&x, y)
	return nil
}

// opDiv and the other division ops return zero for a zero divisor; uint256
// implements that convention.
func opDiv(s *EVMSimulator, p *Program) error {
	x, y := p.Stack.Pop(), p.Stack.Peek()
	y.Div(&x, y)
	return nil
}

func opSdiv(s *EVMSimulator, p *Program) error {
	x, y := p.Stack.Pop(), p.Stack.Peek()
	y.SDiv(&x, y)
	return nil
}

func opMod(s *EVMSimulator, p *Program) error {
	x, y := p.Stack.Pop(), p.Stack.Peek()
	y.Mod(&x, y)
	return nil
}

func opSmod(s *EVMSimulator, p *Program) error {
	x, y := p.Stack.Pop(), p.Stack.Peek()
	y.SMod(&x, y)
	return nil
}

func opExp(s *EVMSimulator, p *Program) error {
	base, exponent := p.Stack.Pop(), p.Stack.Peek()
	exponent.Exp(&base, exponent)
	return nil
}

func opSignExtend(s *EVMSimulator, p *Program) error {
	back, num := p.Stack.Pop(), p.Stack.Peek()
	num.ExtendSign(num, &back)
	return nil
}

func opNot(s *EVMSimulator, p *Program) error {
	x := p.Stack.Peek()
	x.Not(x)
	return nil
}

func opLt(s *EVMSimulator, p *Program) error {
	x, y := p.Stack.Pop(), p.Stack.Peek()
	if x.Lt(y) {
		y.SetOne()
	} else {
		y.Clear()
	}
	return nil
}

func opGt(s *EVMSimulator, p *Program) error {
	x, y := p.Stack.Pop(), p.Stack.Peek()
	if x.Gt(y) {
		y.SetOne()
	} else {
		y.Clear()
	}
	return nil
}

func opSlt(s *EVMSimulator, p *Program) error {
	x, y := p.Stack.Pop(), p.Stack.Peek()
	if x.Slt(y) {
		y.SetOne()
	} else {
		y.Clear()
	}
	return nil
}

func opSgt(s *EVMSimulator, p *Program) error {
	x, y := p.Stack.Pop(), p.Stack.Peek()
	if x.Sgt(y) {
		y.SetOne()
	} else {
		y.Clear()
	}
	return nil
}

func opEq(s *EVMSimulator, p *Program) error {
	x, y := p.Stack.Pop(), p.Stack.Peek()
	if x.Eq(y) {
		y.SetOne()
	} else {
		y.Clear()
	}
	return nil
}

func opIszero(s *EVMSimulator, p *Program) error {
	x := p.Stack.Peek()
	if x.IsZero() {
		x.SetOne()
	} else {
		x.Clear()
	}
	return nil
}

func opAnd(s *EVMSimulator, p *Program) error {
	x, y := p.Stack.Pop(), p.Stack.Peek()
	y.And(&x, y)
	return nil
}

func opOr(s *EVMSimulator, p *Program) error {
	x, y := p.Stack.Pop(), p.Stack.Peek()
	y.Or(&x, y)
	return nil
}

func opXor(s *EVMSimulator, p *Program) error {
	x, y := p.Stack.Pop(), p.Stack.Peek()
	y.Xor(&x, y)
	return nil
}

func opByte(s *EVMSimulator, p *Program) error {
	th, val := p.Stack.Pop(), p.Stack.Peek()
	val.Byte(&th)
	return nil
}

func opAddmod(s *EVMSimulator, p *Program) error {
	x, y, z := p.Stack.Pop(), p.Stack.Pop(), p.Stack.Peek()
	z.AddMod(&x, &y, z)
	return nil
}

func opMulmod(s *EVMSimulator, p *Program) error {
	x, y, z := p.Stack.Pop(), p.Stack.Pop(), p.Stack.Peek()
	z.MulMod(&x, &y, z)
	return nil
}

// opSHL shifts value left by shift bits (EIP-145).
func opSHL(s *EVMSimulator, p *Program) error {
	shift, value := p.Stack.Pop(), p.Stack.Peek()
	if shift.LtUint64(256) {
		value.Lsh(value, uint(shift.Uint64()))
	} else {
		value.Clear()
	}
	return nil
}

// opSHR is a logical right shift (EIP-145).
func opSHR(s *EVMSimulator, p *Program) error {
	shift, value := p.Stack.Pop(), p.Stack.Peek()
	if shift.LtUint64(256) {
		value.Rsh(value, uint(shift.Uint64()))
	} else {
		value.Clear()
	}
	return nil
}

// opSAR is an arithmetic right shift (EIP-145).
func opSAR(s *EVMSimulator, p *Program) error {
	shift, value := p.Stack.Pop(), p.Stack.Peek()
	if shift.GtUint64(255) {
		if value.Sign() >= 0 {
			value.Clear()
		} else {
			value.SetAllOne()
		}
		return nil
	}
	value.SRsh(value, uint(shift.Uint64()))
	return nil
}

func opKeccak256(s *EVMSimulator, p *Program) error {
	offset, size := p.Stack.Pop(), p.Stack.Peek()
	data := p.Memory.GetPtr(offset.Uint64(), size.Uint64())
	size.SetBytes(crypto.Keccak256(data))
	return nil
}

func opAddress(s *EVMSimulator, p *Program) error {
	p.Stack.Push(new(uint256.Int).SetBytes(p.Context.Address.Bytes()))
	return nil
}

func opBalance(s *EVMSimulator, p *Program) error {
	slot := p.Stack.Peek()
	addr := types.Address(slot.Bytes20())
	slot.Set(p.Context.State.GetBalance(addr))
	return nil
}

func opOrigin(s *EVMSimulator, p *Program) error {
	p.Stack.Push(new(uint256.Int).SetBytes(p.Context.Origin.Bytes()))
	return nil
}

func opCaller(s *EVMSimulator, p *Program) error {
	p.Stack.Push(new(uint256.Int).SetBytes(p.Context.Caller.Bytes()))
	return nil
}

func opCallValue(s *EVMSimulator, p *Program) error {
	p.Stack.Push(orZero(p.Context.Value))
	return nil
}

func opCallDataLoad(s *EVMSimulator, p *Program) error {
	x := p.Stack.Peek()
	if offset, overflow := x.Uint64WithOverflow(); !overflow {
		x.SetBytes(getData(p.Context.Input, offset, 32))
	} else {
		x.Clear()
	}
	return nil
}

func opCallDataSize(s *EVMSimulator, p *Program) error {
	p.Stack.Push(new(uint256.Int).SetUint64(uint64(len(p.Context.Input))))
	return nil
}

func opCallDataCopy(s *EVMSimulator, p *Program) error {
	var (
		memOffset  = p.Stack.Pop()
		dataOffset = p.Stack.Pop()
		length     = p.Stack.Pop()
	)
	dataOffset64, overflow := dataOffset.Uint64WithOverflow()
	if overflow {
		dataOffset64 = math.MaxUint64
	}
	// These values are checked for overflow during gas cost calculation.
	memOffset64 := memOffset.Uint64()
	length64 := length.Uint64()
	p.Memory.Set(memOffset64, length64, getData(p.Context.Input, dataOffset64, length64))
	return nil
}

func opReturnDataSize(s *EVMSimulator, p *Program) error {
	p.Stack.Push(new(uint256.Int).SetUint64(uint64(len(p.ReturnData))))
	return nil
}

func opReturnDataCopy(s *EVMSimulator, p *Program) error {
	var (
		memOffset  = p.Stack.Pop()
		dataOffset = p.Stack.Pop()
		length     = p.Stack.Pop()
	)
	offset64, overflow := dataOffset.Uint64WithOverflow()
	if overflow {
		return ErrReturnDataOutOfBounds
	}
	end := new(uint256.Int).Add(&dataOffset, &length)
	end64, overflow := end.Uint64WithOverflow()
	if overflow || uint64(len(p.ReturnData)) < end64 {
		return ErrReturnDataOutOfBounds
	}
	p.Memory.Set(memOffset.Uint64(), length.Uint64(), p.ReturnData[offset64:end64])
	return nil
}

func opExtCodeSize(s *EVMSimulator, p *Program) error {
	slot := p.Stack.Peek()
	slot.SetUint64(uint64(p.Context.State.GetCodeSize(types.Address(slot.Bytes20()))))
	return nil
}

// opCodeSize reports the whole code buffer, including bytes appended after
// the logical end such as constructor arguments.
func opCodeSize(s *EVMSimulator, p *Program) error {
	p.Stack.Push(new(uint256.Int).SetUint64(uint64(len(p.Code))))
	return nil
}

func opCodeCopy(s *EVMSimulator, p *Program) error {
	var (
		memOffset  = p.Stack.Pop()
		codeOffset = p.Stack.Pop()
		length     = p.Stack.Pop()
	)
	uint64CodeOffset, overflow := codeOffset.Uint64WithOverflow()
	if overflow {
		uint64CodeOffset = math.MaxUint64
	}
	codeCopy := getData(p.Code, uint64CodeOffset, length.Uint64())
	p.Memory.Set(memOffset.Uint64(), length.Uint64(), codeCopy)
	return nil
}

func opExtCodeCopy(s *EVMSimulator, p *Program) error {
	var (
		a          = p.Stack.Pop()
		memOffset  = p.Stack.Pop()
		codeOffset = p.Stack.Pop()
		length     = p.Stack.Pop()
	)
	uint64CodeOffset, overflow := codeOffset.Uint64WithOverflow()
	if overflow {
		uint64CodeOffset = math.MaxUint64
	}
	addr := types.Address(a.Bytes20())
	codeCopy := getData(p.Context.State.GetCode(addr), uint64CodeOffset, length.Uint64())
	p.Memory.Set(memOffset.Uint64(), length.Uint64(), codeCopy)
	return nil
}

// opExtCodeHash pushes zero for empty accounts and the code hash
// otherwise. A delegated account reports the hash of its designator.
func opExtCodeHash(s *EVMSimulator, p *Program) error {
	slot := p.Stack.Peek()
	h := p.Context.State.GetCodeHash(types.Address(slot.Bytes20()))
	slot.SetBytes(h.Bytes())
	return nil
}

func opGasprice(s *EVMSimulator, p *Program) error {
	p.Stack.Push(orZero(p.Context.GasPrice))
	return nil
}

// opBlockhash serves the 256 most recent blocks and zero for anything else.
func opBlockhash(s *EVMSimulator, p *Program) error {
	num := p.Stack.Peek()
	num64, overflow := num.Uint64WithOverflow()
	if overflow {
		num.Clear()
		return nil
	}
	var lower, upper uint64
	upper = p.Context.Block.Number
	if upper < 257 {
		lower = 0
	} else {
		lower = upper - 256
	}
	if num64 >= lower && num64 < upper {
		h := p.Context.State.GetBlockHash(num64)
		num.SetBytes(h.Bytes())
	} else {
		num.Clear()
	}
	return nil
}

func opCoinbase(s *EVMSimulator, p *Program) error {
	p.Stack.Push(new(uint256.Int).SetBytes(p.Context.Block.Coinbase.Bytes()))
	return nil
}

func opTimestamp(s *EVMSimulator, p *Program) error {
	p.Stack.Push(new(uint256.Int).SetUint64(p.Context.Block.Timestamp))
	return nil
}

func opNumber(s *EVMSimulator, p *Program) error {
	p.Stack.Push(new(uint256.Int).SetUint64(p.Context.Block.Number))
	return nil
}

func opRandom(s *EVMSimulator, p *Program) error {
	p.Stack.Push(new(uint256.Int).SetBytes(p.Context.Block.Difficulty.Bytes()))
	return nil
}

func opGasLimit(s *EVMSimulator, p *Program) error {
	p.Stack.Push(new(uint256.Int).SetUint64(p.Context.Block.GasLimit))
	return nil
}

func opChainID(s *EVMSimulator, p *Program) error {
	p.Stack.Push(new(uint256.Int).SetUint64(p.Context.ChainID))
	return nil
}

func opSelfBalance(s *EVMSimulator, p *Program) error {
	p.Stack.Push(p.Context.State.GetBalance(p.Address()))
	return nil
}

func opBaseFee(s *EVMSimulator, p *Program) error {
	p.Stack.Push(orZero(p.Context.Block.BaseFee))
	return nil
}

// opBlobHash pushes tx.blob_versioned_hashes[index], or zero when out of
// range (EIP-4844).
func opBlobHash(s *EVMSimulator, p *Program) error {
	index := p.Stack.Peek()
	if index.LtUint64(uint64(len(p.Context.BlobHashes))) {
		blobHash := p.Context.BlobHashes[index.Uint64()]
		index.SetBytes32(blobHash[:])
	} else {
		index.Clear()
	}
	return nil
}

func opBlobBaseFee(s *EVMSimulator, p *Program) error {
	p.Stack.Push(orZero(p.Context.Block.BlobBaseFee))
	return nil
}

func opPop(s *EVMSimulator, p *Program) error {
	p.Stack.Pop()
	return nil
}

func opMload(s *EVMSimulator, p *Program) error {
	v := p.Stack.Peek()
	offset := v.Uint64()
	v.SetBytes(p.Memory.GetPtr(offset, 32))
	return nil
}

func opMstore(s *EVMSimulator, p *Program) error {
	mStart, val := p.Stack.Pop(), p.Stack.Pop()
	p.Memory.Set32(mStart.Uint64(), &val)
	return nil
}

func opMstore8(s *EVMSimulator, p *Program) error {
	off, val := p.Stack.Pop(), p.Stack.Pop()
	p.Memory.store[off.Uint64()] = byte(val.Uint64())
	return nil
}

func opSload(s *EVMSimulator, p *Program) error {
	loc := p.Stack.Peek()
	val := p.Context.State.GetFromStorage(p.Address(), types.Hash(loc.Bytes32()))
	loc.SetBytes(val.Bytes())
	return nil
}

func opSstore(s *EVMSimulator, p *Program) error {
	loc, val := p.Stack.Pop(), p.Stack.Pop()
	p.Context.State.SaveToStorage(p.Address(), types.Hash(loc.Bytes32()), types.Hash(val.Bytes32()))
	return nil
}

func opJump(s *EVMSimulator, p *Program) error {
	pos := p.Stack.Pop()
	if !pos.IsUint64() || !p.validJumpdest(pos.Uint64()) {
		return ErrInvalidJump
	}
	p.pc = pos.Uint64()
	return nil
}

func opJumpi(s *EVMSimulator, p *Program) error {
	pos, cond := p.Stack.Pop(), p.Stack.Pop()
	if cond.IsZero() {
		p.pc++
		return nil
	}
	if !pos.IsUint64() || !p.validJumpdest(pos.Uint64()) {
		return ErrInvalidJump
	}
	p.pc = pos.Uint64()
	return nil
}

func opJumpdest(s *EVMSimulator, p *Program) error {
	return nil
}

func opPc(s *EVMSimulator, p *Program) error {
	p.Stack.Push(new(uint256.Int).SetUint64(p.pc))
	return nil
}

func opMsize(s *EVMSimulator, p *Program) error {
	p.Stack.Push(new(uint256.Int).SetUint64(uint64(p.Memory.Len())))
	return nil
}

func opGas(s *EVMSimulator, p *Program) error {
	p.Stack.Push(new(uint256.Int).SetUint64(p.GasRemaining))
	return nil
}

func opTload(s *EVMSimulator, p *Program) error {
	loc := p.Stack.Peek()
	val := p.Context.State.GetTransientStorage(p.Address(), types.Hash(loc.Bytes32()))
	loc.SetBytes(val.Bytes())
	return nil
}

func opTstore(s *EVMSimulator, p *Program) error {
	loc, val := p.Stack.Pop(), p.Stack.Pop()
	p.Context.State.SetTransientStorage(p.Address(), types.Hash(loc.Bytes32()), types.Hash(val.Bytes32()))
	return nil
}

func opMcopy(s *EVMSimulator, p *Program) error {
	var (
		dst    = p.Stack.Pop()
		src    = p.Stack.Pop()
		length = p.Stack.Pop()
	)
	// These values are checked for overflow during memory expansion.
	p.Memory.Copy(dst.Uint64(), src.Uint64(), length.Uint64())
	return nil
}

func opPush0(s *EVMSimulator, p *Program) error {
	p.Stack.Push(new(uint256.Int))
	return nil
}

// makePush reads size immediate bytes. Bytes past the end of code read as
// zero, and the value is right-padded so a truncated PUSH keeps its
// high-order position.
func makePush(size uint64) executionFunc {
	return func(s *EVMSimulator, p *Program) error {
		var (
			codeLen = uint64(len(p.Code))
			start   = min(codeLen, p.pc+1)
			end     = min(codeLen, start+size)
		)
		a := new(uint256.Int).SetBytes(types.RightPadBytes(p.Code[start:end], int(size)))
		p.Stack.Push(a)
		p.pc += size
		return nil
	}
}

func makeDup(n int) executionFunc {
	return func(s *EVMSimulator, p *Program) error {
		p.Stack.Dup(n)
		return nil
	}
}

func makeSwap(n int) executionFunc {
	return func(s *EVMSimulator, p *Program) error {
		p.Stack.Swap(n)
		return nil
	}
}

func makeLog(size int) executionFunc {
	return func(s *EVMSimulator, p *Program) error {
		topics := make([]types.Hash, size)
		mStart, mSize := p.Stack.Pop(), p.Stack.Pop()
		for i := 0; i < size; i++ {
			addr := p.Stack.Pop()
			topics[i] = addr.Bytes32()
		}
		d := p.Memory.GetCopy(mStart.Uint64(), mSize.Uint64())
		p.Context.State.AddLog(&types.Log{
			Address: p.Address(),
			Topics:  topics,
			Data:    d,
		})
		return nil
	}
}

func opCreate(s *EVMSimulator, p *Program) error {
	var (
		value  = p.Stack.Pop()
		offset = p.Stack.Pop()
		size   = p.Stack.Pop()
		input  = p.Memory.GetCopy(offset.Uint64(), size.Uint64())
		gas    = p.GasRemaining
	)
	// All but one 64th of the remaining gas goes to the child.
	gas -= gas / CallGasFraction
	if err := p.UpdateGasUsed(gas); err != nil {
		return err
	}
	res := s.Create(p.Context, input, gas, &value, p.Depth+1)
	return s.finishCreate(p, res)
}

func opCreate2(s *EVMSimulator, p *Program) error {
	var (
		endowment = p.Stack.Pop()
		offset    = p.Stack.Pop()
		size      = p.Stack.Pop()
		salt      = p.Stack.Pop()
		input     = p.Memory.GetCopy(offset.Uint64(), size.Uint64())
		gas       = p.GasRemaining
	)
	gas -= gas / CallGasFraction
	if err := p.UpdateGasUsed(gas); err != nil {
		return err
	}
	res := s.Create2(p.Context, input, gas, &endowment, &salt, p.Depth+1)
	return s.finishCreate(p, res)
}

// finishCreate pushes the new address (zero on failure), keeps the child's
// output as return data only when it reverted, and refunds unused gas.
func (s *EVMSimulator) finishCreate(p *Program, res *ProgramResult) error {
	stackValue := new(uint256.Int)
	if res.Success {
		stackValue.SetBytes(res.CreatedAddress.Bytes())
		p.AddRefund(res.Refund)
	}
	p.Stack.Push(stackValue)
	p.ReturnGas(res.GasRemaining)
	if res.IsRevert {
		p.ReturnData = res.ReturnData
	} else {
		p.ReturnData = nil
	}
	return nil
}

func opCall(s *EVMSimulator, p *Program) error {
	stack := p.Stack
	// The requested gas was resolved by the gas function.
	stack.Pop()
	gas := p.callGasTemp
	addr, value, inOffset, inSize, retOffset, retSize := stack.Pop(), stack.Pop(), stack.Pop(), stack.Pop(), stack.Pop(), stack.Pop()
	toAddr := types.Address(addr.Bytes20())
	args := p.Memory.GetCopy(inOffset.Uint64(), inSize.Uint64())

	if !value.IsZero() {
		gas += CallStipend
	}
	res := s.Call(p.Context, toAddr, args, gas, &value, p.Depth+1)
	return s.finishCall(p, res, retOffset.Uint64(), retSize.Uint64())
}

func opCallCode(s *EVMSimulator, p *Program) error {
	stack := p.Stack
	stack.Pop()
	gas := p.callGasTemp
	addr, value, inOffset, inSize, retOffset, retSize := stack.Pop(), stack.Pop(), stack.Pop(), stack.Pop(), stack.Pop(), stack.Pop()
	toAddr := types.Address(addr.Bytes20())
	args := p.Memory.GetCopy(inOffset.Uint64(), inSize.Uint64())

	if !value.IsZero() {
		gas += CallStipend
	}
	res := s.CallCode(p.Context, toAddr, args, gas, &value, p.Depth+1)
	return s.finishCall(p, res, retOffset.Uint64(), retSize.Uint64())
}

func opDelegateCall(s *EVMSimulator, p *Program) error {
	stack := p.Stack
	stack.Pop()
	gas := p.callGasTemp
	addr, inOffset, inSize, retOffset, retSize := stack.Pop(), stack.Pop(), stack.Pop(), stack.Pop(), stack.Pop()
	toAddr := types.Address(addr.Bytes20())
	args := p.Memory.GetCopy(inOffset.Uint64(), inSize.Uint64())

	res := s.DelegateCall(p.Context, toAddr, args, gas, p.Depth+1)
	return s.finishCall(p, res, retOffset.Uint64(), retSize.Uint64())
}

func opStaticCall(s *EVMSimulator, p *Program) error {
	stack := p.Stack
	stack.Pop()
	gas := p.callGasTemp
	addr, inOffset, inSize, retOffset, retSize := stack.Pop(), stack.Pop(), stack.Pop(), stack.Pop(), stack.Pop()
	toAddr := types.Address(addr.Bytes20())
	args := p.Memory.GetCopy(inOffset.Uint64(), inSize.Uint64())

	res := s.StaticCall(p.Context, toAddr, args, gas, p.Depth+1)
	return s.finishCall(p, res, retOffset.Uint64(), retSize.Uint64())
}

// finishCall pushes the success flag, copies output into the return area
// on success or revert, and settles gas and refunds with the child. A
// failed child never fails the caller.
func (s *EVMSimulator) finishCall(p *Program, res *ProgramResult, retOffset, retSize uint64) error {
	success := new(uint256.Int)
	if res.Success {
		success.SetOne()
		p.AddRefund(res.Refund)
	}
	p.Stack.Push(success)
	if res.Success || res.IsRevert {
		p.Memory.Set(retOffset, retSize, res.ReturnData)
	}
	p.ReturnGas(res.GasRemaining)
	p.ReturnData = res.ReturnData
	return nil
}

func opReturn(s *EVMSimulator, p *Program) error {
	offset, size := p.Stack.Pop(), p.Stack.Pop()
	p.Output = p.Memory.GetCopy(offset.Uint64(), size.Uint64())
	return nil
}

func opRevert(s *EVMSimulator, p *Program) error {
	offset, size := p.Stack.Pop(), p.Stack.Pop()
	p.Output = p.Memory.GetCopy(offset.Uint64(), size.Uint64())
	p.IsRevert = true
	return ErrExecutionReverted
}

func opUndefined(s *EVMSimulator, p *Program) error {
	return invalidOpCode(p.GetOp(p.pc))
}

func opStop(s *EVMSimulator, p *Program) error {
	return nil
}

// opSelfdestruct6780 sends the balance to the beneficiary. The account is
// only deleted when it was created in the same transaction (EIP-6780).
func opSelfdestruct6780(s *EVMSimulator, p *Program) error {
	var (
		st          = p.Context.State
		self        = p.Address()
		beneficiary = p.Stack.Pop()
		balance     = new(uint256.Int).Set(st.GetBalance(self))
	)
	// The balance was just read, so the debit cannot fail.
	_ = st.SubBalance(self, balance)
	st.AddBalance(types.Address(beneficiary.Bytes20()), balance)
	if st.CreateOrGetAccountExecutionState(self).CreatedInTx() {
		st.MarkSelfDestructed(self)
	}
	return nil
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
