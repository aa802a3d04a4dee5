package crypto

import (
	"crypto/ecdsa"
	"errors"
	"math/big"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/eth2030/evmexec/core/types"
)

// SignatureLength is the length of a [R || S || V] signature.
const SignatureLength = 65

var (
	ErrInvalidSignature = errors.New("crypto: invalid signature values")
	ErrRecoveryFailed   = errors.New("crypto: public key recovery failed")
)

// ValidateSignatureValues checks r and s are in range and v is a valid
// y-parity. When lowS is set, s must be in the lower half of the curve order.
func ValidateSignatureValues(v byte, r, s *big.Int, lowS bool) bool {
	return gethcrypto.ValidateSignatureValues(v, r, s, lowS)
}

// Ecrecover returns the address that produced sig over hash. sig is
// [R || S || V] with V as y-parity.
func Ecrecover(hash []byte, sig []byte) (types.Address, error) {
	if len(sig) != SignatureLength {
		return types.Address{}, ErrInvalidSignature
	}
	pub, err := gethcrypto.Ecrecover(hash, sig)
	if err != nil {
		return types.Address{}, ErrRecoveryFailed
	}
	if len(pub) == 0 || pub[0] != 4 {
		return types.Address{}, ErrRecoveryFailed
	}
	return types.BytesToAddress(Keccak256(pub[1:])[12:]), nil
}

// Sign produces a [R || S || V] signature of hash with V as y-parity.
func Sign(hash []byte, key *ecdsa.PrivateKey) ([]byte, error) {
	return gethcrypto.Sign(hash, key)
}

// GenerateKey creates a new secp256k1 private key.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	return gethcrypto.GenerateKey()
}

// HexToECDSA parses a hex encoded secp256k1 private key.
func HexToECDSA(hexkey string) (*ecdsa.PrivateKey, error) {
	return gethcrypto.HexToECDSA(hexkey)
}

// PubkeyToAddress derives the account address of a public key.
func PubkeyToAddress(p ecdsa.PublicKey) types.Address {
	return types.Address(gethcrypto.PubkeyToAddress(p))
}
