package types

import (
	"github.com/holiman/uint256"
)

// Transaction type constants.
const (
	LegacyTxType     = 0x00
	AccessListTxType = 0x01
	DynamicFeeTxType = 0x02
	SetCodeTxType    = 0x04
)

// AccessList is a list of address-slot pairs accessed by a transaction.
type AccessList []AccessTuple

// AccessTuple is a single address and its accessed storage slots.
type AccessTuple struct {
	Address     Address `json:"address" toml:"address"`
	StorageKeys []Hash  `json:"storageKeys" toml:"storage_keys"`
}

// StorageKeys returns the total number of storage keys in the access list.
func (al AccessList) StorageKeys() int {
	n := 0
	for _, tuple := range al {
		n += len(tuple.StorageKeys)
	}
	return n
}

// Transaction is the call or transaction input handed to the executor.
// It carries an already-known sender, so no transaction signature is
// involved; only authorization tuples are signed.
type Transaction struct {
	Type    uint8
	ChainID uint64
	Nonce   uint64
	From    Address
	To      *Address // nil means contract creation
	Value   *uint256.Int
	Gas     uint64

	// GasPrice is used by legacy and access-list transactions.
	GasPrice *uint256.Int
	// MaxFeePerGas and MaxPriorityFeePerGas are used by dynamic-fee and
	// set-code transactions.
	MaxFeePerGas         *uint256.Int
	MaxPriorityFeePerGas *uint256.Int

	Data              []byte
	AccessList        AccessList
	AuthorizationList []SignedAuthorization
	BlobHashes        []Hash
}

// IsCreate reports whether the transaction deploys a contract.
func (tx *Transaction) IsCreate() bool { return tx.To == nil }

// DynamicFee reports whether the fee fields follow EIP-1559 rules.
func (tx *Transaction) DynamicFee() bool {
	return tx.Type == DynamicFeeTxType || tx.Type == SetCodeTxType
}

// EffectiveGasPrice returns the price per gas the sender pays given the
// block base fee. A nil base fee disables the EIP-1559 adjustment.
func (tx *Transaction) EffectiveGasPrice(baseFee *uint256.Int) *uint256.Int {
	if !tx.DynamicFee() {
		return orZero(tx.GasPrice)
	}
	feeCap := orZero(tx.MaxFeePerGas)
	if baseFee == nil {
		return feeCap
	}
	price := new(uint256.Int).Add(baseFee, orZero(tx.MaxPriorityFeePerGas))
	if price.Gt(feeCap) {
		return feeCap
	}
	return price
}

// EffectiveTip returns the per-gas amount credited to the coinbase.
func (tx *Transaction) EffectiveTip(baseFee *uint256.Int) *uint256.Int {
	price := tx.EffectiveGasPrice(baseFee)
	if baseFee == nil || price.Lt(baseFee) {
		return price
	}
	return new(uint256.Int).Sub(price, baseFee)
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
