package types

import (
	"bytes"

	"github.com/holiman/uint256"
)

// EIP-7702 SetCode constants.
const (
	// AuthMagic is the signing magic byte for EIP-7702 authorization hashes.
	// The authorization hash is: keccak256(0x05 || rlp([chain_id, address, nonce]))
	AuthMagic byte = 0x05

	// PerAuthBaseCost is the part of the per-authorization charge kept when
	// the authority account already exists.
	PerAuthBaseCost uint64 = 12500

	// PerEmptyAccountCost is the intrinsic gas charged per authorization.
	PerEmptyAccountCost uint64 = 25000

	// DelegationCodeLength is the size of a delegation designator.
	DelegationCodeLength = 3 + AddressLength
)

// DelegationPrefix is the EIP-7702 delegation designator prefix.
var DelegationPrefix = []byte{0xef, 0x01, 0x00}

// Authorization is an unsigned EIP-7702 tuple. A zero ChainID is valid on
// every chain; a zero Address clears the authority's delegation.
type Authorization struct {
	ChainID uint256.Int
	Address Address
	Nonce   uint64
}

// SignedAuthorization is an Authorization plus the authority's signature.
// V is the y-parity (0 or 1).
type SignedAuthorization struct {
	Authorization
	V uint8
	R uint256.Int
	S uint256.Int
}

// ParseDelegation extracts the target address from delegation code.
// Returns the delegated address and true if b is exactly 23 bytes
// with the 0xef0100 prefix.
func ParseDelegation(b []byte) (Address, bool) {
	if len(b) != DelegationCodeLength {
		return Address{}, false
	}
	if !bytes.HasPrefix(b, DelegationPrefix) {
		return Address{}, false
	}
	return BytesToAddress(b[len(DelegationPrefix):]), true
}

// AddressToDelegation creates delegation designator code: 0xef0100 || address.
func AddressToDelegation(addr Address) []byte {
	code := make([]byte, DelegationCodeLength)
	copy(code, DelegationPrefix)
	copy(code[len(DelegationPrefix):], addr[:])
	return code
}

// HasDelegationPrefix returns whether the code starts with the delegation prefix.
func HasDelegationPrefix(code []byte) bool {
	return bytes.HasPrefix(code, DelegationPrefix)
}
