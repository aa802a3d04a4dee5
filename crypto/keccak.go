// Package crypto collects the hashing and signature primitives used by the
// interpreter, the precompiles and authorization processing.
package crypto

import (
	"hash"
	"sync"

	"golang.org/x/crypto/sha3"

	"github.com/eth2030/evmexec/core/types"
)

// keccakState is the sponge behind sha3.NewLegacyKeccak256. Read squeezes
// the digest without the copy Sum makes.
type keccakState interface {
	hash.Hash
	Read([]byte) (int, error)
}

// KECCAK256 runs on every CREATE2, code hash and authorization, so hashers
// are reused.
var hasherPool = sync.Pool{
	New: func() any { return sha3.NewLegacyKeccak256().(keccakState) },
}

func keccak(out []byte, data [][]byte) {
	d := hasherPool.Get().(keccakState)
	d.Reset()
	for _, b := range data {
		d.Write(b)
	}
	d.Read(out)
	hasherPool.Put(d)
}

// Keccak256 calculates the Keccak-256 hash of the given data.
func Keccak256(data ...[]byte) []byte {
	out := make([]byte, types.HashLength)
	keccak(out, data)
	return out
}

// Keccak256Hash calculates Keccak-256 and returns it as a types.Hash.
func Keccak256Hash(data ...[]byte) (h types.Hash) {
	keccak(h[:], data)
	return h
}
