package vm

import (
	"math"

	"github.com/holiman/uint256"
)

// Tiered step costs.
const (
	GasQuickStep   uint64 = 2
	GasFastestStep uint64 = 3
	GasFastStep    uint64 = 5
	GasMidStep     uint64 = 8
	GasSlowStep    uint64 = 10
	GasExtStep     uint64 = 20
)

// Opcode-specific costs under the Cancun/Prague schedule.
const (
	GasJumpDest     uint64 = 1
	GasExpByte      uint64 = 50
	GasKeccak256    uint64 = 30
	GasKeccak256W   uint64 = 6
	GasCopy         uint64 = 3
	GasMemory       uint64 = 3
	GasQuadCoeffDiv uint64 = 512
	GasLog          uint64 = 375
	GasLogTopic     uint64 = 375
	GasLogData      uint64 = 8
	GasBlockHash    uint64 = 20
	GasTransient    uint64 = 100
	GasCreate       uint64 = 32000
	GasCreateData   uint64 = 200
	GasInitCodeW    uint64 = 2
	GasSelfdestruct uint64 = 5000

	// EIP-2929 access costs.
	ColdAccountAccessCost uint64 = 2600
	ColdSloadCost         uint64 = 2100
	WarmStorageReadCost   uint64 = 100

	// CALL surcharges.
	CallValueTransferGas uint64 = 9000
	CallNewAccountGas    uint64 = 25000
	CallStipend          uint64 = 2300

	// SSTORE schedule (EIP-2200 with EIP-2929 and EIP-3529 values).
	SstoreSetGas           uint64 = 20000
	SstoreResetGas         uint64 = 5000 - ColdSloadCost
	SstoreClearsSchedule   uint64 = 4800
	SstoreSetRefund        uint64 = SstoreSetGas - WarmStorageReadCost
	SstoreResetRefund      uint64 = SstoreResetGas - WarmStorageReadCost
	SstoreSentryGasEIP2200 uint64 = 2300

	// MaxRefundQuotient caps refunds at gasUsed / 5 (EIP-3529).
	MaxRefundQuotient uint64 = 5
	// CallGasFraction is the 63/64 rule divisor (EIP-150).
	CallGasFraction uint64 = 64

	MaxCodeSize     = 24576
	MaxInitCodeSize = 2 * MaxCodeSize
	MaxCallDepth    = 1024
)

// toWordSize returns the number of 32-byte words needed for size bytes.
func toWordSize(size uint64) uint64 {
	if size > math.MaxUint64-31 {
		return math.MaxUint64/32 + 1
	}
	return (size + 31) / 32
}

// safeAdd returns x+y and whether it overflowed.
func safeAdd(x, y uint64) (uint64, bool) {
	sum := x + y
	return sum, sum < x
}

// safeMul returns x*y and whether it overflowed.
func safeMul(x, y uint64) (uint64, bool) {
	if x == 0 || y == 0 {
		return 0, false
	}
	return x * y, y > math.MaxUint64/x
}

// MemoryGasCost returns the incremental cost of growing mem to newMemSize
// bytes: 3 gas per word plus words^2/512, charged only for the delta over
// what has already been paid.
func MemoryGasCost(mem *Memory, newMemSize uint64) (uint64, error) {
	if newMemSize == 0 {
		return 0, nil
	}
	// The largest size whose square still fits in uint64 after division.
	if newMemSize > 0x1FFFFFFFE0 {
		return 0, ErrGasUintOverflow
	}
	newMemSizeWords := toWordSize(newMemSize)
	newMemSize = newMemSizeWords * 32

	if newMemSize > uint64(mem.Len()) {
		square := newMemSizeWords * newMemSizeWords
		linCoef := newMemSizeWords * GasMemory
		quadCoef := square / GasQuadCoeffDiv
		newTotalFee := linCoef + quadCoef

		fee := newTotalFee - mem.lastGasCost
		mem.lastGasCost = newTotalFee
		return fee, nil
	}
	return 0, nil
}

// callGas applies the EIP-150 63/64 rule: a call may forward at most
// available - available/64 after base costs are paid.
func callGas(availableGas, base uint64, callCost *uint256.Int) (uint64, error) {
	if availableGas < base {
		return 0, ErrOutOfGas
	}
	availableGas -= base
	gas := availableGas - availableGas/CallGasFraction
	if !callCost.IsUint64() || gas < callCost.Uint64() {
		return gas, nil
	}
	return callCost.Uint64(), nil
}

// EffectiveRefund caps refund at gasUsed/MaxRefundQuotient. A negative
// refund counter yields no refund.
func EffectiveRefund(refund int64, gasUsed uint64) uint64 {
	if refund <= 0 {
		return 0
	}
	limit := gasUsed / MaxRefundQuotient
	if uint64(refund) > limit {
		return limit
	}
	return uint64(refund)
}
