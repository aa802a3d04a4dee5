package core

import (
	"errors"

	"github.com/eth2030/evmexec/core/types"
	"github.com/eth2030/evmexec/core/vm"
)

// Transaction-level gas constants.
const (
	TxGas                     uint64 = 21000 // base cost of every transaction
	TxGasContractCreation     uint64 = 53000 // base cost of a contract-creating transaction
	TxDataZeroGas             uint64 = 4
	TxDataNonZeroGas          uint64 = 16
	TxAccessListAddressGas    uint64 = 2400
	TxAccessListStorageKeyGas uint64 = 1900

	// TotalCostFloorPerToken is the EIP-7623 floor price per calldata token.
	TotalCostFloorPerToken uint64 = 10
	// floorTokensPerNonZero is the token weight of a non-zero calldata byte.
	floorTokensPerNonZero uint64 = 4
)

// ErrGasUint64Overflow is returned when a gas computation overflows uint64.
var ErrGasUint64Overflow = errors.New("gas uint64 overflow")

// IntrinsicGas returns the gas a transaction is charged before any code
// runs: the base cost, calldata, init code words for creations, access list
// entries and authorization tuples.
func IntrinsicGas(data []byte, accessList types.AccessList, authCount uint64, isCreate bool) (uint64, error) {
	gas := TxGas
	if isCreate {
		gas = TxGasContractCreation
	}

	var zeros uint64
	for _, b := range data {
		if b == 0 {
			zeros++
		}
	}
	nonZeros := uint64(len(data)) - zeros

	terms := [][2]uint64{
		{nonZeros, TxDataNonZeroGas},
		{zeros, TxDataZeroGas},
		{uint64(len(accessList)), TxAccessListAddressGas},
		{uint64(accessList.StorageKeys()), TxAccessListStorageKeyGas},
		{authCount, types.PerEmptyAccountCost},
	}
	if isCreate {
		// EIP-3860 init code metering.
		terms = append(terms, [2]uint64{(uint64(len(data)) + 31) / 32, vm.GasInitCodeW})
	}
	for _, term := range terms {
		n, cost := term[0], term[1]
		if n == 0 {
			continue
		}
		add := n * cost
		if add/cost != n {
			return 0, ErrGasUint64Overflow
		}
		if gas+add < gas {
			return 0, ErrGasUint64Overflow
		}
		gas += add
	}
	return gas, nil
}

// calldataTokens counts EIP-7623 tokens: one per zero byte and four per
// non-zero byte.
func calldataTokens(data []byte) uint64 {
	var tokens uint64
	for _, b := range data {
		if b == 0 {
			tokens++
		} else {
			tokens += floorTokensPerNonZero
		}
	}
	return tokens
}

// FloorDataGas returns the EIP-7623 minimum gas a transaction carrying data
// is charged, regardless of how little its execution used.
func FloorDataGas(data []byte) (uint64, error) {
	tokens := calldataTokens(data)
	if tokens > (^uint64(0)-TxGas)/TotalCostFloorPerToken {
		return 0, ErrGasUint64Overflow
	}
	return TxGas + tokens*TotalCostFloorPerToken, nil
}
