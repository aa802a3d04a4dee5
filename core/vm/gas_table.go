package vm

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/eth2030/evmexec/core/types"
)

// gasFunc returns the dynamic part of an instruction's cost. memorySize is
// the word-aligned size memory must grow to, or zero.
type gasFunc func(s *EVMSimulator, p *Program, memorySize uint64) (uint64, error)

// memoryGasCost wraps MemoryGasCost for use as a gasFunc.
func memoryGasCost(s *EVMSimulator, p *Program, memorySize uint64) (uint64, error) {
	return MemoryGasCost(p.Memory, memorySize)
}

// memoryCopierGas prices a copy of the length at stack position stackpos
// plus the memory expansion it needs.
func memoryCopierGas(stackpos int) gasFunc {
	return func(s *EVMSimulator, p *Program, memorySize uint64) (uint64, error) {
		gas, err := MemoryGasCost(p.Memory, memorySize)
		if err != nil {
			return 0, err
		}
		words, overflow := p.Stack.Back(stackpos).Uint64WithOverflow()
		if overflow {
			return 0, ErrGasUintOverflow
		}
		if words, overflow = safeMul(toWordSize(words), GasCopy); overflow {
			return 0, ErrGasUintOverflow
		}
		if gas, overflow = safeAdd(gas, words); overflow {
			return 0, ErrGasUintOverflow
		}
		return gas, nil
	}
}

var (
	gasCallDataCopy   = memoryCopierGas(2)
	gasCodeCopy       = memoryCopierGas(2)
	gasMcopy          = memoryCopierGas(2)
	gasReturnDataCopy = memoryCopierGas(2)
)

func gasKeccak256(s *EVMSimulator, p *Program, memorySize uint64) (uint64, error) {
	gas, err := MemoryGasCost(p.Memory, memorySize)
	if err != nil {
		return 0, err
	}
	wordGas, overflow := p.Stack.Back(1).Uint64WithOverflow()
	if overflow {
		return 0, ErrGasUintOverflow
	}
	if wordGas, overflow = safeMul(toWordSize(wordGas), GasKeccak256W); overflow {
		return 0, ErrGasUintOverflow
	}
	if gas, overflow = safeAdd(gas, wordGas); overflow {
		return 0, ErrGasUintOverflow
	}
	return gas, nil
}

func gasExp(s *EVMSimulator, p *Program, memorySize uint64) (uint64, error) {
	expByteLen := uint64((p.Stack.Back(1).BitLen() + 7) / 8)
	return expByteLen * GasExpByte, nil
}

func makeGasLog(n uint64) gasFunc {
	return func(s *EVMSimulator, p *Program, memorySize uint64) (uint64, error) {
		requestedSize, overflow := p.Stack.Back(1).Uint64WithOverflow()
		if overflow {
			return 0, ErrGasUintOverflow
		}
		gas, err := MemoryGasCost(p.Memory, memorySize)
		if err != nil {
			return 0, err
		}
		if gas, overflow = safeAdd(gas, GasLog); overflow {
			return 0, ErrGasUintOverflow
		}
		if gas, overflow = safeAdd(gas, n*GasLogTopic); overflow {
			return 0, ErrGasUintOverflow
		}
		var dataGas uint64
		if dataGas, overflow = safeMul(requestedSize, GasLogData); overflow {
			return 0, ErrGasUintOverflow
		}
		if gas, overflow = safeAdd(gas, dataGas); overflow {
			return 0, ErrGasUintOverflow
		}
		return gas, nil
	}
}

// gasCreate charges memory expansion and the EIP-3860 init code word cost.
func gasCreate(s *EVMSimulator, p *Program, memorySize uint64) (uint64, error) {
	return createGas(p, memorySize, GasInitCodeW)
}

// gasCreate2 additionally charges hashing the init code for the address.
func gasCreate2(s *EVMSimulator, p *Program, memorySize uint64) (uint64, error) {
	return createGas(p, memorySize, GasInitCodeW+GasKeccak256W)
}

func createGas(p *Program, memorySize, perWord uint64) (uint64, error) {
	gas, err := MemoryGasCost(p.Memory, memorySize)
	if err != nil {
		return 0, err
	}
	size, overflow := p.Stack.Back(2).Uint64WithOverflow()
	if overflow {
		return 0, ErrGasUintOverflow
	}
	if size > MaxInitCodeSize {
		return 0, fmt.Errorf("%w: size %d", ErrMaxInitCodeSizeExceeded, size)
	}
	// size is bounded, so the multiplication cannot overflow.
	wordGas := toWordSize(size) * perWord
	if gas, overflow = safeAdd(gas, wordGas); overflow {
		return 0, ErrGasUintOverflow
	}
	return gas, nil
}

// accessAccountGas warms addr and returns the cold surcharge, on top of the
// warm cost already charged as constant gas.
func accessAccountGas(s *EVMSimulator, p *Program, addr types.Address) uint64 {
	st := p.Context.State
	if st.AddressInAccessList(addr) {
		return 0
	}
	st.AddAddressToAccessList(addr)
	return ColdAccountAccessCost - WarmStorageReadCost
}

// gasAccountCheck prices BALANCE, EXTCODESIZE and EXTCODEHASH.
func gasAccountCheck(s *EVMSimulator, p *Program, memorySize uint64) (uint64, error) {
	addr := types.Address(p.Stack.Back(0).Bytes20())
	return accessAccountGas(s, p, addr), nil
}

func gasExtCodeCopy(s *EVMSimulator, p *Program, memorySize uint64) (uint64, error) {
	gas, err := memoryCopierGas(3)(s, p, memorySize)
	if err != nil {
		return 0, err
	}
	addr := types.Address(p.Stack.Back(0).Bytes20())
	var overflow bool
	if gas, overflow = safeAdd(gas, accessAccountGas(s, p, addr)); overflow {
		return 0, ErrGasUintOverflow
	}
	return gas, nil
}

func gasSLoad(s *EVMSimulator, p *Program, memorySize uint64) (uint64, error) {
	slot := types.Hash(p.Stack.Back(0).Bytes32())
	st := p.Context.State
	if _, slotWarm := st.SlotInAccessList(p.Address(), slot); !slotWarm {
		st.AddSlotToAccessList(p.Address(), slot)
		return ColdSloadCost, nil
	}
	return WarmStorageReadCost, nil
}

// SStoreGas classifies a write by the slot's original, current and new
// values (EIP-2200 as amended by EIP-2929 and EIP-3529). It returns the gas
// to charge, excluding the cold-slot surcharge, and the change to apply to
// the refund counter.
func SStoreGas(original, current, value types.Hash) (uint64, int64) {
	if current == value {
		return WarmStorageReadCost, 0
	}
	if original == current {
		if original.IsZero() {
			return SstoreSetGas, 0
		}
		if value.IsZero() {
			return SstoreResetGas, int64(SstoreClearsSchedule)
		}
		return SstoreResetGas, 0
	}
	var refund int64
	if !original.IsZero() {
		if current.IsZero() {
			refund -= int64(SstoreClearsSchedule)
		} else if value.IsZero() {
			refund += int64(SstoreClearsSchedule)
		}
	}
	if original == value {
		if original.IsZero() {
			refund += int64(SstoreSetRefund)
		} else {
			refund += int64(SstoreResetRefund)
		}
	}
	return WarmStorageReadCost, refund
}

func gasSStore(s *EVMSimulator, p *Program, memorySize uint64) (uint64, error) {
	if p.Context.EnforceGasSentry && p.GasRemaining <= SstoreSentryGasEIP2200 {
		return 0, ErrSStoreSentry
	}
	var (
		st      = p.Context.State
		addr    = p.Address()
		slot    = types.Hash(p.Stack.Back(0).Bytes32())
		value   = types.Hash(p.Stack.Back(1).Bytes32())
		cost    uint64
		current = st.GetFromStorage(addr, slot)
	)
	if _, slotWarm := st.SlotInAccessList(addr, slot); !slotWarm {
		cost = ColdSloadCost
		st.AddSlotToAccessList(addr, slot)
	}
	gas, refund := SStoreGas(st.GetOriginalStorage(addr, slot), current, value)
	// A frame that then fails the charge discards its refunds anyway.
	p.AddRefund(refund)
	return gas + cost, nil
}

// gasSelfdestruct charges the cold beneficiary surcharge and the new
// account cost when value is sent to an empty account. EIP-3529 removed
// the refund.
func gasSelfdestruct(s *EVMSimulator, p *Program, memorySize uint64) (uint64, error) {
	var (
		gas         uint64
		st          = p.Context.State
		beneficiary = types.Address(p.Stack.Back(0).Bytes20())
	)
	if !st.AddressInAccessList(beneficiary) {
		st.AddAddressToAccessList(beneficiary)
		gas = ColdAccountAccessCost
	}
	if st.Empty(beneficiary) && !st.GetBalance(p.Address()).IsZero() {
		gas += CallNewAccountGas
	}
	return gas, nil
}

// delegationGas charges access to the account a delegated target points
// at. Only active from Prague.
func delegationGas(s *EVMSimulator, p *Program, addr types.Address) uint64 {
	if !s.config.IsPrague() {
		return 0
	}
	target, ok := types.ParseDelegation(p.Context.State.GetCode(addr))
	if !ok {
		return 0
	}
	st := p.Context.State
	if st.AddressInAccessList(target) {
		return WarmStorageReadCost
	}
	st.AddAddressToAccessList(target)
	return ColdAccountAccessCost
}

// makeCallGas builds the gas function of a CALL-family opcode. The result
// covers access, memory, value and new-account costs plus the gas handed
// to the child, which is stashed in p.callGasTemp.
func makeCallGas(op OpCode) gasFunc {
	return func(s *EVMSimulator, p *Program, memorySize uint64) (uint64, error) {
		var (
			st       = p.Context.State
			addr     = types.Address(p.Stack.Back(1).Bytes20())
			gas      = accessAccountGas(s, p, addr)
			overflow bool
		)
		memGas, err := MemoryGasCost(p.Memory, memorySize)
		if err != nil {
			return 0, err
		}
		if gas, overflow = safeAdd(gas, memGas); overflow {
			return 0, ErrGasUintOverflow
		}
		if op == CALL || op == CALLCODE {
			if !p.Stack.Back(2).IsZero() {
				gas += CallValueTransferGas
				if op == CALL && st.Empty(addr) {
					gas += CallNewAccountGas
				}
			}
		}
		if gas, overflow = safeAdd(gas, delegationGas(s, p, addr)); overflow {
			return 0, ErrGasUintOverflow
		}
		// The constant warm cost has already been deducted.
		p.callGasTemp, err = callGas(p.GasRemaining, gas, p.Stack.Back(0))
		if err != nil {
			return 0, err
		}
		if gas, overflow = safeAdd(gas, p.callGasTemp); overflow {
			return 0, ErrGasUintOverflow
		}
		return gas, nil
	}
}

var (
	gasCall         = makeCallGas(CALL)
	gasCallCode     = makeCallGas(CALLCODE)
	gasDelegateCall = makeCallGas(DELEGATECALL)
	gasStaticCall   = makeCallGas(STATICCALL)
)

// calcMemSize64 returns off+l, or zero when l is zero regardless of off.
func calcMemSize64(off, l *uint256.Int) (uint64, bool) {
	if l.IsZero() {
		return 0, false
	}
	if !l.IsUint64() || !off.IsUint64() {
		return 0, true
	}
	return safeAdd(off.Uint64(), l.Uint64())
}

func calcMemSize64WithUint(off *uint256.Int, length uint64) (uint64, bool) {
	if length == 0 {
		return 0, false
	}
	if !off.IsUint64() {
		return 0, true
	}
	return safeAdd(off.Uint64(), length)
}
