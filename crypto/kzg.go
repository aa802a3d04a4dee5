package crypto

import (
	"errors"
	"fmt"
	"sync"

	goethkzg "github.com/crate-crypto/go-eth-kzg"
	"github.com/minio/sha256-simd"

	"github.com/eth2030/evmexec/core/types"
)

// KZG sizes and the versioned hash prefix from EIP-4844.
const (
	KZGBytesPerCommitment   = 48
	KZGBytesPerProof        = 48
	KZGBytesPerFieldElement = 32
	KZGFieldElementsPerBlob = 4096
	KZGVersionedHashVersion = 0x01
)

var (
	ErrKZGSetup        = errors.New("kzg: trusted setup unavailable")
	ErrKZGInvalidProof = errors.New("kzg: invalid proof")
)

var (
	kzgOnce sync.Once
	kzgCtx  *goethkzg.Context
	kzgErr  error
)

// kzgContext loads the ceremony trusted setup on first use. Loading takes a
// few seconds, so it is deferred until a point evaluation actually runs.
func kzgContext() (*goethkzg.Context, error) {
	kzgOnce.Do(func() {
		kzgCtx, kzgErr = goethkzg.NewContext4096Secure()
	})
	if kzgErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrKZGSetup, kzgErr)
	}
	return kzgCtx, nil
}

// KZGToVersionedHash returns sha256(commitment) with the first byte replaced
// by the version prefix.
func KZGToVersionedHash(commitment [KZGBytesPerCommitment]byte) types.Hash {
	h := sha256.Sum256(commitment[:])
	h[0] = KZGVersionedHashVersion
	return types.Hash(h)
}

// VerifyKZGPointEvaluation checks that the polynomial committed to by
// commitment evaluates to y at z.
func VerifyKZGPointEvaluation(commitment [KZGBytesPerCommitment]byte, z, y [KZGBytesPerFieldElement]byte, proof [KZGBytesPerProof]byte) error {
	ctx, err := kzgContext()
	if err != nil {
		return err
	}
	if err := ctx.VerifyKZGProof(goethkzg.KZGCommitment(commitment), goethkzg.Scalar(z), goethkzg.Scalar(y), goethkzg.KZGProof(proof)); err != nil {
		return fmt.Errorf("%w: %v", ErrKZGInvalidProof, err)
	}
	return nil
}
